package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	ncerr "chatrelay/internal/errors"
	"chatrelay/util"
)

// WebSocketListener bridges browser-style clients into the relay.  It
// runs an HTTP server that upgrades requests on one path and hands each
// upgraded connection to Accept as a [net.Conn].  One WebSocket frame in
// is one chunk of chat input; every Write goes out as one text frame.
type WebSocketListener struct {
	ln       net.Listener
	srv      *http.Server
	path     string
	upgrader websocket.Upgrader
	logger   *util.Logger

	conns chan net.Conn
	done  chan struct{}
	once  sync.Once
}

// ListenWebSocket binds addr and serves WebSocket upgrades on path.
func ListenWebSocket(ctx context.Context, addr, path string, logger *util.Logger) (*WebSocketListener, error) {
	if path == "" {
		path = "/"
	}
	ln, err := ListenTCP(ctx, addr)
	if err != nil {
		return nil, err
	}

	l := &WebSocketListener{
		ln:     ln,
		path:   path,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  util.DefaultLineSize,
			WriteBufferSize: util.DefaultLineSize,
		},
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.upgrade)
	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := l.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("websocket: %v", err)
		}
	}()
	return l, nil
}

func (l *WebSocketListener) upgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		l.logger.Debug("websocket: upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	c := &wsConn{ws: ws}
	select {
	case l.conns <- c:
	case <-l.done:
		c.Close()
	}
}

// Accept waits for the next upgraded connection.
func (l *WebSocketListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, ncerr.ErrListenerClosed
	}
}

// Close stops the HTTP server.  Connections already handed out stay open;
// their owners close them.
func (l *WebSocketListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

// Addr returns the bound TCP address.
func (l *WebSocketListener) Addr() net.Addr { return l.ln.Addr() }

// Path returns the upgrade path.
func (l *WebSocketListener) Path() string { return l.path }

// ── wsConn ───────────────────────────────────────────────────────────

// wsConn adapts a *websocket.Conn to net.Conn.  Only one goroutine may
// Read and one may Write at a time; the session layer guarantees both.
type wsConn struct {
	ws      *websocket.Conn
	pending []byte // unread remainder of the current frame
}

// Read returns bytes of the current frame, fetching the next one when the
// current one is used up.  A frame larger than p is returned across
// several reads.
func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return 0, io.EOF
			}
			return 0, err
		}
		c.pending = data
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write sends p as a single text frame.
func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a best-effort close frame and drops the connection.
func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)) //nolint:errcheck
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
