// Package transport provides the listeners the relay accepts chat clients
// from.  Every source is exposed as a plain [net.Listener] yielding
// [net.Conn] values, so the registry, dispatcher and handler never know
// whether a client arrived over TCP, WebSocket or an SSH reverse tunnel.
package transport

import (
	"context"
	"net"
	"time"

	ncerr "chatrelay/internal/errors"
)

// DefaultKeepAlive is the TCP keep-alive period for accepted clients.
const DefaultKeepAlive = 30 * time.Second

// ListenTCP binds addr ("host:port"; empty host means all addresses).
// The accept backlog is the operating system default.
func ListenTCP(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: DefaultKeepAlive}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, ncerr.Wrap("listen", addr, err)
	}
	return ln, nil
}
