package core

import (
	ncerr "chatrelay/internal/errors"
	"chatrelay/internal/metrics"
	"chatrelay/internal/registry"
	"chatrelay/internal/session"
	"chatrelay/util"
)

// Dispatcher fans a message out to every ACTIVE session but one.
type Dispatcher struct {
	reg     *registry.Registry
	logger  *util.Logger
	metrics *metrics.Collector
}

// NewDispatcher returns a dispatcher over reg.  m may be nil.
func NewDispatcher(reg *registry.Registry, logger *util.Logger, m *metrics.Collector) *Dispatcher {
	return &Dispatcher{reg: reg, logger: logger, metrics: m}
}

// Broadcast writes msg verbatim to every ACTIVE session in a registry
// snapshot except excludeID, and returns how many writes succeeded.
//
// A failed write evicts that recipient (CLOSING, unregistered, transport
// closed) and delivery continues with the rest.  Its own handler then
// sees the closed transport and finishes the teardown.
func (d *Dispatcher) Broadcast(msg []byte, excludeID uint64) int {
	if len(msg) == 0 {
		return 0
	}
	delivered := 0
	for _, s := range d.reg.Snapshot() {
		if s.ID() == excludeID || !s.IsActive() {
			continue
		}
		n, err := s.Write(msg)
		if err != nil {
			d.evict(s, err)
			continue
		}
		d.metrics.BytesSent(int64(n))
		delivered++
	}
	return delivered
}

// evict tears down a recipient whose write failed.
func (d *Dispatcher) evict(s *session.Session, err error) {
	werr := ncerr.Wrap("write", util.PeerAddr(s.Addr()), err)
	if ncerr.IsClosed(err) {
		d.logger.Debug("dispatch: %s already closed", s)
	} else {
		d.logger.Warn("dispatch: dropping %s: %v", s, werr)
		d.metrics.WriteFailed(werr.Error())
	}
	s.BeginClose()
	d.reg.Remove(s.ID())
	s.Close() //nolint:errcheck
}
