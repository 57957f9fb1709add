package transport

import (
	"context"
	"net"
	"sync"

	ncerr "chatrelay/internal/errors"
	"chatrelay/internal/retry"
)

// Multi merges several listeners into one, so a single accept loop (and
// a single registry capacity) serves all of them.
type Multi struct {
	listeners []net.Listener
	conns     chan net.Conn
	failed    chan error
	ctx       context.Context
	cancel    context.CancelFunc
	start     sync.Once
	once      sync.Once

	// OnError is told about a listener that stopped while others are
	// still running.  It may be nil and must be set before the first
	// Accept.
	OnError func(addr net.Addr, err error)

	mu    sync.Mutex
	alive int
}

// NewMulti merges listeners.  Accepting on all of them starts with the
// first call to Accept, which fails only once every listener has failed.
func NewMulti(listeners ...net.Listener) *Multi {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Multi{
		listeners: listeners,
		conns:     make(chan net.Conn),
		failed:    make(chan error, 1),
		ctx:       ctx,
		cancel:    cancel,
		alive:     len(listeners),
	}
	return m
}

func (m *Multi) pump(ln net.Listener) {
	backoff := retry.AcceptBackoff()
	attempt := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			if ncerr.IsRetryable(err) {
				attempt++
				if backoff.Wait(m.ctx, attempt) != nil {
					return
				}
				continue
			}
			m.listenerFailed(ln, err)
			return
		}
		attempt = 0

		select {
		case m.conns <- conn:
		case <-m.ctx.Done():
			conn.Close()
			return
		}
	}
}

func (m *Multi) listenerFailed(ln net.Listener, err error) {
	m.mu.Lock()
	m.alive--
	last := m.alive == 0
	m.mu.Unlock()

	if last {
		select {
		case m.failed <- err:
		default:
		}
		return
	}
	if m.OnError != nil {
		m.OnError(ln.Addr(), err)
	}
}

// Accept returns the next connection from any listener.
func (m *Multi) Accept() (net.Conn, error) {
	m.start.Do(func() {
		for _, ln := range m.listeners {
			go m.pump(ln)
		}
	})
	select {
	case c := <-m.conns:
		return c, nil
	case err := <-m.failed:
		return nil, err
	case <-m.ctx.Done():
		return nil, ncerr.ErrListenerClosed
	}
}

// Close closes every listener.
func (m *Multi) Close() error {
	var errs []error
	m.once.Do(func() {
		m.cancel()
		for _, ln := range m.listeners {
			if err := ln.Close(); err != nil && !ncerr.IsClosed(err) {
				errs = append(errs, err)
			}
		}
	})
	return ncerr.Join(errs...)
}

// Addr returns the first listener's address.
func (m *Multi) Addr() net.Addr {
	if len(m.listeners) == 0 {
		return &net.TCPAddr{}
	}
	return m.listeners[0].Addr()
}

// Listeners returns the merged listeners.
func (m *Multi) Listeners() []net.Listener { return m.listeners }
