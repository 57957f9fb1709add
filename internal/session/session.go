// Package session holds the server-side state of one connected chat
// client: its id, peer address, alias, transport and lifecycle state.
//
// A Session moves strictly forward through
//
//	CONNECTING → ACTIVE → CLOSING → CLOSED
//	CONNECTING ─────────↗
//
// and is shared between its own connection handler (which reads) and any
// number of dispatchers (which write).  State and alias are guarded by a
// per-session mutex; writes are serialized by a second one so concurrent
// broadcasts never interleave bytes on the wire.
package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	ncerr "chatrelay/internal/errors"
)

// State is a lifecycle phase.
type State int

const (
	Connecting State = iota
	Active
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Active:
		return "ACTIVE"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is one connected client.
type Session struct {
	id   uint64
	addr net.Addr
	conn net.Conn

	mu      sync.RWMutex
	state   State
	alias   string
	reached bool // true once ACTIVE was entered

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// New wraps an accepted connection in a CONNECTING session.
func New(id uint64, conn net.Conn) *Session {
	return &Session{
		id:    id,
		addr:  conn.RemoteAddr(),
		conn:  conn,
		state: Connecting,
	}
}

// ID returns the process-unique session id.
func (s *Session) ID() uint64 { return s.id }

// Addr returns the peer address captured at acceptance.
func (s *Session) Addr() net.Addr { return s.addr }

// Alias returns the display name, or "" before activation.
func (s *Session) Alias() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alias
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsActive reports whether the session should receive broadcasts.
func (s *Session) IsActive() bool { return s.State() == Active }

// WasActive reports whether the session ever reached ACTIVE.
func (s *Session) WasActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reached
}

// Activate stores the alias and moves CONNECTING → ACTIVE.  It can
// succeed only once.
func (s *Session) Activate(alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connecting {
		return fmt.Errorf("%w: %s → %s", ncerr.ErrInvalidTransition, s.state, Active)
	}
	s.alias = alias
	s.state = Active
	s.reached = true
	return nil
}

// BeginClose moves CONNECTING or ACTIVE → CLOSING.  It reports whether
// this call made the transition; later callers get false.
func (s *Session) BeginClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connecting && s.state != Active {
		return false
	}
	s.state = Closing
	return true
}

// Close releases the transport and marks the session CLOSED.  The
// transport is closed exactly once; repeated calls return the first
// result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Read reads from the transport.  Only the owning handler calls it.
func (s *Session) Read(p []byte) (int, error) {
	if s.State() == Closed {
		return 0, ncerr.ErrSessionClosed
	}
	return s.conn.Read(p)
}

// Write sends p verbatim.  Concurrent writers are serialized.
func (s *Session) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.State() == Closed {
		return 0, ncerr.ErrSessionClosed
	}
	return s.conn.Write(p)
}

// SetReadDeadline bounds the next Read; the zero time clears it.
func (s *Session) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// String renders "#id alias@addr" for logs.
func (s *Session) String() string {
	alias := s.Alias()
	if alias == "" {
		alias = "-"
	}
	addr := "unknown"
	if s.addr != nil {
		addr = s.addr.String()
	}
	return fmt.Sprintf("#%d %s@%s", s.id, alias, addr)
}
