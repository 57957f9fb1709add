package tunnel

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// testGateway is a minimal sshd that grants tcpip-forward requests and
// lets tests open forwarded-tcpip channels back to the client.
type testGateway struct {
	t        *testing.T
	ln       net.Listener
	password string
	port     uint32

	mu        sync.Mutex
	conns     []*ssh.ServerConn
	forwarded chan *ssh.ServerConn
	cancelled chan channelForwardMsg
}

func startGateway(t *testing.T, password string) *testGateway {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	g := &testGateway{
		t:         t,
		ln:        ln,
		password:  password,
		port:      4242,
		forwarded: make(chan *ssh.ServerConn, 4),
		cancelled: make(chan channelForwardMsg, 4),
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == g.password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected")
		},
	}
	cfg.AddHostKey(signer)

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go g.serve(nc, cfg)
		}
	}()
	t.Cleanup(g.close)
	return g
}

func (g *testGateway) serve(nc net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	g.mu.Lock()
	g.conns = append(g.conns, sconn)
	g.mu.Unlock()

	go func() {
		for nc := range chans {
			nc.Reject(ssh.UnknownChannelType, "no sessions here") //nolint:errcheck
		}
	}()

	for req := range reqs {
		switch req.Type {
		case "tcpip-forward":
			var msg channelForwardMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				req.Reply(false, nil) //nolint:errcheck
				continue
			}
			port := msg.Port
			if port == 0 {
				port = g.port
			}
			req.Reply(true, ssh.Marshal(&forwardReplyMsg{Port: port})) //nolint:errcheck
			g.forwarded <- sconn
		case "cancel-tcpip-forward":
			var msg channelForwardMsg
			ssh.Unmarshal(req.Payload, &msg) //nolint:errcheck
			if req.WantReply {
				req.Reply(true, nil) //nolint:errcheck
			}
			g.cancelled <- msg
		case "keepalive@openssh.com":
			req.Reply(true, nil) //nolint:errcheck
		default:
			if req.WantReply {
				req.Reply(false, nil) //nolint:errcheck
			}
		}
	}
}

// dropAll severs every client connection, as a gateway restart would.
func (g *testGateway) dropAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		c.Close()
	}
	g.conns = nil
}

func (g *testGateway) close() {
	g.ln.Close()
	g.dropAll()
}

func (g *testGateway) addr() (string, int) {
	a := g.ln.Addr().(*net.TCPAddr)
	return a.IP.String(), a.Port
}

// openForwarded plays a remote client connecting to the gateway port.
func (g *testGateway) openForwarded(sconn *ssh.ServerConn, origin string, originPort uint32) (ssh.Channel, error) {
	payload := forwardedTCPPayload{
		Addr:       "0.0.0.0",
		Port:       g.port,
		OriginAddr: origin,
		OriginPort: originPort,
	}
	ch, reqs, err := sconn.OpenChannel("forwarded-tcpip", ssh.Marshal(&payload))
	if err != nil {
		return nil, err
	}
	go ssh.DiscardRequests(reqs)
	return ch, nil
}
