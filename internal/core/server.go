package core

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	ncerr "chatrelay/internal/errors"
	"chatrelay/internal/metrics"
	"chatrelay/internal/registry"
	"chatrelay/internal/retry"
	"chatrelay/internal/session"
	"chatrelay/util"
)

// Options configures a [Server].  Zero values fall back to the handler
// defaults; Capacity below 1 becomes 1.
type Options struct {
	Capacity    int
	AliasBuffer int
	MaxLine     int
	IdleTimeout time.Duration
	ExitCommand string

	// AcceptDelay pauses the accept loop after each admitted connection.
	AcceptDelay time.Duration
	// GracePeriod bounds how long shutdown waits for handlers.
	GracePeriod time.Duration

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Server is the accept loop.  It enforces capacity at admission, assigns
// session ids and starts one handler goroutine per admitted connection.
type Server struct {
	reg         *registry.Registry
	dispatcher  *Dispatcher
	handler     *Handler
	logger      *util.Logger
	metrics     *metrics.Collector
	acceptDelay time.Duration
	gracePeriod time.Duration
	backoff     *retry.Backoff

	nextID  atomic.Uint64
	closing atomic.Bool
	wg      sync.WaitGroup
}

// NewServer builds a server with an empty registry.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	reg := registry.New(opts.Capacity)
	d := NewDispatcher(reg, logger, opts.Metrics)

	s := &Server{
		reg:         reg,
		dispatcher:  d,
		logger:      logger,
		metrics:     opts.Metrics,
		acceptDelay: opts.AcceptDelay,
		gracePeriod: opts.GracePeriod,
		backoff:     retry.AcceptBackoff(),
	}
	s.handler = &Handler{
		Registry:    reg,
		Dispatcher:  d,
		Logger:      logger,
		Metrics:     opts.Metrics,
		AliasBuffer: opts.AliasBuffer,
		MaxLine:     opts.MaxLine,
		IdleTimeout: opts.IdleTimeout,
		ExitCommand: opts.ExitCommand,
		Quiet:       s.closing.Load,
	}
	return s
}

// Registry exposes the membership for observability and tests.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Dispatcher exposes the broadcaster, e.g. for server-side announcements.
func (s *Server) Dispatcher() *Dispatcher { return s.dispatcher }

// Serve accepts on ln until ctx is cancelled or ln fails permanently.
// Temporary accept errors are retried with backoff.  On return every
// remaining session has been closed and its handler waited for, up to
// the grace period.  Cancellation is not an error.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()
	defer s.shutdown()

	attempt := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ncerr.IsRetryable(err) {
				attempt++
				s.logger.Warn("accept: %v; retrying in %v", err, s.backoff.Delay(attempt))
				if s.backoff.Wait(ctx, attempt) != nil {
					return nil
				}
				continue
			}
			return ncerr.Wrap("accept", ln.Addr().String(), err)
		}
		attempt = 0

		if !s.admit(ctx, conn) {
			continue
		}
		if s.acceptDelay > 0 {
			if retry.Sleep(ctx, s.acceptDelay) != nil {
				return nil
			}
		}
	}
}

// admit registers conn and starts its handler, or closes it when the
// registry is full.
func (s *Server) admit(ctx context.Context, conn net.Conn) bool {
	if s.reg.Full() {
		s.reject(conn)
		return false
	}

	sess := session.New(s.nextID.Add(1)-1, conn)
	if err := s.reg.Add(sess); err != nil {
		s.reject(conn)
		return false
	}
	s.metrics.SessionOpened()
	s.logger.Verbose("accepted %s (%d/%d)", sess, s.reg.Len(), s.reg.Cap())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.handler.Serve(ctx, sess)
	}()
	return true
}

func (s *Server) reject(conn net.Conn) {
	s.metrics.SessionRejected()
	s.logger.Warn("max clients reached, rejected %s", util.PeerAddr(conn.RemoteAddr()))
	conn.Close()
}

// shutdown closes every live session and waits for the handlers.
func (s *Server) shutdown() {
	s.closing.Store(true)

	live := s.reg.Snapshot()
	for _, sess := range live {
		sess.Close() //nolint:errcheck
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := s.gracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	select {
	case <-done:
		s.logger.Debug("closed %d sessions", len(live))
	case <-time.After(grace):
		s.logger.Warn("shutdown: handlers still running after %v", grace)
	}
}
