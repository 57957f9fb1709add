package core

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/config"
	ncerr "chatrelay/internal/errors"
	"chatrelay/internal/metrics"
	"chatrelay/util"
)

func freePort(t *testing.T) int {
	t.Helper()
	p, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestBuild_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Capacity = 0
	_, err := Build(cfg, util.NewLogger(0), nil)
	var ce *ncerr.ConfigError
	if !ncerr.As(err, &ce) || ce.Field != "capacity" {
		t.Fatalf("want capacity ConfigError, got %v", err)
	}
}

func TestRelay_BindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer occupied.Close()

	cfg := config.Default()
	cfg.BindAddress = "127.0.0.1"
	cfg.Port = occupied.Addr().(*net.TCPAddr).Port

	r, err := Build(cfg, util.NewLogger(0), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("Run should fail when the port is taken")
	}
}

func TestRelay_TCPAndWebSocketShareOneRoom(t *testing.T) {
	cfg := config.Default()
	cfg.BindAddress = "127.0.0.1"
	cfg.Port = freePort(t)
	cfg.WebSocket.Address = "127.0.0.1:" + strconv.Itoa(freePort(t))
	cfg.Capacity = 2

	m := metrics.New()
	r, err := Build(cfg, util.NewLogger(0), m)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()
	defer func() {
		cancel()
		select {
		case err := <-runErr:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Error("Run did not return")
		}
	}()

	select {
	case <-r.Ready():
	case err := <-runErr:
		t.Fatalf("Run: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("relay not ready")
	}
	if n := len(r.Addrs()); n != 2 {
		t.Fatalf("Addrs = %v, want TCP and WebSocket", r.Addrs())
	}

	tcp, err := net.DialTimeout("tcp", cfg.ListenAddr(), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer tcp.Close()
	tcp.Write([]byte("Al\n")) //nolint:errcheck
	waitActive(t, r.Server(), 1)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+cfg.WebSocket.Address+cfg.WebSocket.Path, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer ws.Close()
	ws.WriteMessage(websocket.TextMessage, []byte("Bo\n")) //nolint:errcheck

	rd := bufio.NewReader(tcp)
	tcp.SetReadDeadline(time.Now().Add(2 * time.Second))
	if line, err := rd.ReadString('\n'); err != nil || line != "Bo has joined\n" {
		t.Fatalf("tcp got %q, %v", line, err)
	}

	ws.WriteMessage(websocket.TextMessage, []byte("hi from the browser\n")) //nolint:errcheck
	if line, err := rd.ReadString('\n'); err != nil || line != "hi from the browser\n" {
		t.Fatalf("tcp got %q, %v", line, err)
	}

	tcp.Write([]byte("hi back\n")) //nolint:errcheck
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, data, err := ws.ReadMessage(); err != nil || string(data) != "hi back\n" {
		t.Fatalf("ws got %q, %v", data, err)
	}

	// Both transports count against one capacity.
	third, err := net.DialTimeout("tcp", cfg.ListenAddr(), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer third.Close()
	third.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := third.Read(make([]byte, 1)); err == nil {
		t.Error("third client should be rejected")
	}
}

func waitActive(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		active := 0
		for _, sess := range s.Registry().Snapshot() {
			if sess.IsActive() {
				active++
			}
		}
		if active >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d active sessions, want %d", active, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
