package core

import (
	"context"
	"fmt"
	"io"
	"time"

	ncerr "chatrelay/internal/errors"
	"chatrelay/internal/metrics"
	"chatrelay/internal/registry"
	"chatrelay/internal/session"
	"chatrelay/util"
)

// Handler drives one session through CONNECTING → ACTIVE → CLOSING →
// CLOSED.  One Handler value serves every connection; per-connection
// state lives in the Session.
type Handler struct {
	Registry   *registry.Registry
	Dispatcher *Dispatcher
	Logger     *util.Logger
	Metrics    *metrics.Collector

	// AliasBuffer caps the first read (the alias chunk).
	AliasBuffer int
	// MaxLine caps each relay read; longer input arrives in pieces.
	MaxLine int
	// IdleTimeout closes a session that sends nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration
	// ExitCommand, when non-empty, ends the session if a client sends a
	// line equal to it.  The line itself is not relayed.
	ExitCommand string

	// Quiet suppresses leave notices; the server sets it while shutting
	// down so departing sessions do not announce each other.
	Quiet func() bool
}

// JoinNotice and LeaveNotice are the server-emitted control lines.
func JoinNotice(alias string) []byte  { return []byte(alias + " has joined\n") }
func LeaveNotice(alias string) []byte { return []byte(alias + " has left\n") }

// Serve runs the state machine to completion.  It never returns an error:
// everything that goes wrong with one connection ends that connection
// only.
func (h *Handler) Serve(ctx context.Context, s *session.Session) {
	defer h.teardown(s)

	alias, err := h.negotiate(s)
	if err != nil {
		h.Logger.Verbose("%s: alias rejected: %v", s, err)
		return
	}
	if err := s.Activate(alias); err != nil {
		// Evicted or shut down while negotiating.
		h.Logger.Debug("%s: %v", s, err)
		return
	}

	h.Metrics.Joined()
	h.Logger.Info("%s has joined (%s)", alias, util.PeerAddr(s.Addr()))
	h.Dispatcher.Broadcast(JoinNotice(alias), s.ID())

	h.relay(ctx, s)
}

// negotiate performs the CONNECTING read.
func (h *Handler) negotiate(s *session.Session) (string, error) {
	buf := make([]byte, h.aliasBuffer())
	h.armDeadline(s)
	n, err := s.Read(buf)
	if n == 0 && err != nil && err != io.EOF {
		return "", fmt.Errorf("read alias: %w", err)
	}
	h.Metrics.BytesReceived(int64(n))
	return ValidateAlias(buf[:n])
}

// relay is the ACTIVE loop.
func (h *Handler) relay(ctx context.Context, s *session.Session) {
	bufp := util.GetBuf(h.maxLine())
	defer util.PutBuf(bufp)
	buf := *bufp

	for ctx.Err() == nil {
		h.armDeadline(s)
		n, err := s.Read(buf)
		if n > 0 {
			msg := buf[:n]
			h.Metrics.BytesReceived(int64(n))

			line := util.TrimLine(msg)
			if h.ExitCommand != "" && string(line) == h.ExitCommand {
				h.Logger.Verbose("%s: exit command", s)
				return
			}

			h.Metrics.MessageRelayed()
			if h.Logger.Enabled(util.LogVerbose) {
				h.Logger.Verbose("%s -> %s", s.Alias(), line)
			}
			h.Dispatcher.Broadcast(msg, s.ID())
		}
		if err != nil {
			h.logReadEnd(s, err)
			return
		}
	}
}

// teardown is the CLOSING phase.  It is safe when the dispatcher has
// already evicted the session.
func (h *Handler) teardown(s *session.Session) {
	s.BeginClose()

	if s.WasActive() && !h.quiet() {
		alias := s.Alias()
		h.Metrics.Left()
		h.Logger.Info("%s has left", alias)
		h.Dispatcher.Broadcast(LeaveNotice(alias), s.ID())
	}

	s.Close() //nolint:errcheck
	h.Registry.Remove(s.ID())
	h.Metrics.SessionClosed()
	h.Logger.Debug("%s: %s", s, s.State())
}

func (h *Handler) logReadEnd(s *session.Session, err error) {
	switch {
	case err == io.EOF:
		h.Logger.Debug("%s: peer closed", s)
	case ncerr.IsClosed(err):
		h.Logger.Debug("%s: transport closed", s)
	default:
		h.Logger.Verbose("%s: %v", s, ncerr.Wrap("read", util.PeerAddr(s.Addr()), err))
	}
}

func (h *Handler) armDeadline(s *session.Session) {
	if h.IdleTimeout <= 0 {
		return
	}
	s.SetReadDeadline(time.Now().Add(h.IdleTimeout)) //nolint:errcheck
}

func (h *Handler) quiet() bool { return h.Quiet != nil && h.Quiet() }

func (h *Handler) aliasBuffer() int {
	if h.AliasBuffer <= 0 {
		return MaxAliasLen + 1
	}
	return h.AliasBuffer
}

func (h *Handler) maxLine() int {
	if h.MaxLine <= 0 {
		return util.DefaultLineSize
	}
	return h.MaxLine
}
