// Package metrics provides lock-free counters and gauges for the relay.
//
// All methods are safe for concurrent use.  A nil *Collector is a valid
// no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime statistics for a relay process.
type Collector struct {
	sessionsActive  atomic.Int64
	sessionsTotal   atomic.Int64
	rejected        atomic.Int64
	joins           atomic.Int64
	leaves          atomic.Int64
	messagesRelayed atomic.Int64
	bytesIn         atomic.Int64
	bytesOut        atomic.Int64
	writeFailures   atomic.Int64
	errorsTotal     atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Sessions ─────────────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// SessionRejected counts a connection turned away at admission.
func (c *Collector) SessionRejected() {
	if c == nil {
		return
	}
	c.rejected.Add(1)
}

// Joined counts a session that reached ACTIVE.
func (c *Collector) Joined() {
	if c == nil {
		return
	}
	c.joins.Add(1)
}

// Left counts a leave notice.
func (c *Collector) Left() {
	if c == nil {
		return
	}
	c.leaves.Add(1)
}

// Joins returns the number of sessions that reached ACTIVE.
func (c *Collector) Joins() int64 {
	if c == nil {
		return 0
	}
	return c.joins.Load()
}

// Leaves returns the number of leave notices sent.
func (c *Collector) Leaves() int64 {
	if c == nil {
		return 0
	}
	return c.leaves.Load()
}

// ActiveSessions returns the number of registered sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime admission count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// Rejected returns the number of connections refused for capacity.
func (c *Collector) Rejected() int64 {
	if c == nil {
		return 0
	}
	return c.rejected.Load()
}

// ── Traffic ──────────────────────────────────────────────────────────

// MessageRelayed records one inbound payload handed to the dispatcher.
func (c *Collector) MessageRelayed() {
	if c == nil {
		return
	}
	c.messagesRelayed.Add(1)
}

// BytesReceived records n bytes read from a client.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to a client.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// MessagesRelayed returns the number of relayed payloads.
func (c *Collector) MessagesRelayed() int64 {
	if c == nil {
		return 0
	}
	return c.messagesRelayed.Load()
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Errors ───────────────────────────────────────────────────────────

// WriteFailed counts a failed delivery to one recipient and records msg.
func (c *Collector) WriteFailed(msg string) {
	if c == nil {
		return
	}
	c.writeFailures.Add(1)
	c.RecordError(msg)
}

// WriteFailures returns the number of failed deliveries.
func (c *Collector) WriteFailures() int64 {
	if c == nil {
		return 0
	}
	return c.writeFailures.Load()
}

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	Rejected         int64  `json:"rejected"`
	Joins            int64  `json:"joins"`
	Leaves           int64  `json:"leaves"`
	MessagesRelayed  int64  `json:"messages_relayed"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	WriteFailures    int64  `json:"write_failures"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:          time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive:  c.sessionsActive.Load(),
		SessionsTotal:   c.sessionsTotal.Load(),
		Rejected:        c.rejected.Load(),
		Joins:           c.joins.Load(),
		Leaves:          c.leaves.Load(),
		MessagesRelayed: c.messagesRelayed.Load(),
		BytesIn:         c.bytesIn.Load(),
		BytesOut:        c.bytesOut.Load(),
		WriteFailures:   c.writeFailures.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
