// Package registry keeps the bounded set of live sessions.
//
// The registry guards membership only.  Callers that need to talk to
// members take a Snapshot and do their I/O after the lock is released,
// so a stalled peer never blocks admission or teardown of others.
package registry

import (
	"sort"
	"sync"

	ncerr "chatrelay/internal/errors"
	"chatrelay/internal/session"
)

// Registry is a capacity-bounded map of session id → *Session.  It is
// safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[uint64]*session.Session
	capacity int
}

// New returns an empty registry holding at most capacity sessions.  A
// capacity below 1 is treated as 1.
func New(capacity int) *Registry {
	if capacity < 1 {
		capacity = 1
	}
	return &Registry{
		sessions: make(map[uint64]*session.Session, capacity),
		capacity: capacity,
	}
}

// Add registers s.  It fails with [ncerr.ErrRegistryFull] when the
// registry is at capacity and [ncerr.ErrDuplicateSession] when the id is
// already present; in both cases nothing changes.
func (r *Registry) Add(s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; ok {
		return ncerr.ErrDuplicateSession
	}
	if len(r.sessions) >= r.capacity {
		return ncerr.ErrRegistryFull
	}
	r.sessions[s.ID()] = s
	return nil
}

// Remove deletes the session with the given id.  Removing an absent id
// is a no-op; the result reports whether anything was removed.
func (r *Registry) Remove(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Get returns the session with the given id, if registered.
func (r *Registry) Get(id uint64) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Snapshot returns the current members ordered by id.  The slice is a
// copy; membership changes after the call are not reflected in it.
func (r *Registry) Snapshot() []*session.Session {
	r.mu.Lock()
	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Cap returns the fixed capacity.
func (r *Registry) Cap() int { return r.capacity }

// Full reports whether an Add would currently fail for capacity.
func (r *Registry) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions) >= r.capacity
}
