package tunnel

// ssh.Client.Listen matches forwarded-tcpip channels against the exact
// bind address it sent, and several public gateways echo back a
// different one ("0.0.0.0" for "").  forwardListener registers its own
// channel handler and accepts every forwarded channel instead.

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "chatrelay/internal/errors"
	"chatrelay/util"
)

// ── RFC 4254 payloads ────────────────────────────────────────────────

// channelForwardMsg is the "tcpip-forward" / "cancel-tcpip-forward"
// request body (§7.1).
type channelForwardMsg struct {
	Addr string
	Port uint32
}

// forwardReplyMsg carries the allocated port when 0 was requested.
type forwardReplyMsg struct {
	Port uint32
}

// forwardedTCPPayload is the "forwarded-tcpip" channel-open body (§7.2).
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// ── gatewayAddr ──────────────────────────────────────────────────────

// gatewayAddr is the public side of a remote forward.
type gatewayAddr struct {
	host string
	port int
}

func (a gatewayAddr) Network() string { return "tcp" }
func (a gatewayAddr) String() string  { return util.FormatAddr(a.host, a.port) }

// ── forwardListener ──────────────────────────────────────────────────

type forwardListener struct {
	client   *ssh.Client
	bindAddr string
	bindPort uint32
	addr     gatewayAddr
	incoming <-chan ssh.NewChannel
	done     chan struct{}
	once     sync.Once
}

// listenRemoteForward registers the channel handler, then asks the
// gateway to listen on bindAddr:bindPort.
func listenRemoteForward(client *ssh.Client, gatewayHost, bindAddr string, bindPort int) (*forwardListener, error) {
	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		return nil, fmt.Errorf("forwarded-tcpip handler already registered")
	}

	msg := channelForwardMsg{Addr: bindAddr, Port: uint32(bindPort)}
	ok, reply, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&msg))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tcpip-forward %s:%d denied by gateway", bindAddr, bindPort)
	}

	port := uint32(bindPort)
	if port == 0 {
		var r forwardReplyMsg
		if err := ssh.Unmarshal(reply, &r); err == nil {
			port = r.Port
		}
	}

	host := bindAddr
	if host == "" || host == "0.0.0.0" || host == "::" || host == "localhost" {
		host = gatewayHost
	}

	return &forwardListener{
		client:   client,
		bindAddr: bindAddr,
		bindPort: port,
		addr:     gatewayAddr{host: host, port: int(port)},
		incoming: incoming,
		done:     make(chan struct{}),
	}, nil
}

// Accept returns io.EOF when the SSH connection has gone away and
// ErrListenerClosed after Close.
func (l *forwardListener) Accept() (net.Conn, error) {
	select {
	case <-l.done:
		return nil, ncerr.ErrListenerClosed
	case newCh, ok := <-l.incoming:
		if !ok {
			return nil, io.EOF
		}
		ch, reqs, err := newCh.Accept()
		if err != nil {
			return nil, fmt.Errorf("channel accept: %w", err)
		}
		go ssh.DiscardRequests(reqs)

		var raddr net.Addr = &net.TCPAddr{}
		var payload forwardedTCPPayload
		if err := ssh.Unmarshal(newCh.ExtraData(), &payload); err == nil {
			raddr = &net.TCPAddr{
				IP:   net.ParseIP(payload.OriginAddr),
				Port: int(payload.OriginPort),
			}
		}
		return &chanConn{Channel: ch, laddr: l.addr, raddr: raddr}, nil
	}
}

// Close cancels the remote forward and unblocks Accept.
func (l *forwardListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		msg := channelForwardMsg{Addr: l.bindAddr, Port: l.bindPort}
		l.client.SendRequest("cancel-tcpip-forward", false, ssh.Marshal(&msg)) //nolint:errcheck
	})
	return nil
}

func (l *forwardListener) Addr() net.Addr { return l.addr }

// ── chanConn ─────────────────────────────────────────────────────────

// chanConn adapts an [ssh.Channel] to [net.Conn].  Channels have no
// deadlines, so a read deadline is emulated by closing the channel when
// it expires.  Write deadlines are ignored.
type chanConn struct {
	ssh.Channel
	laddr net.Addr
	raddr net.Addr

	mu    sync.Mutex
	timer *time.Timer
}

func (c *chanConn) LocalAddr() net.Addr  { return c.laddr }
func (c *chanConn) RemoteAddr() net.Addr { return c.raddr }

func (c *chanConn) SetDeadline(t time.Time) error      { return c.SetReadDeadline(t) }
func (c *chanConn) SetWriteDeadline(_ time.Time) error { return nil }

func (c *chanConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if t.IsZero() {
		return nil
	}
	c.timer = time.AfterFunc(time.Until(t), func() { c.Channel.Close() })
	return nil
}

func (c *chanConn) Close() error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	return c.Channel.Close()
}
