package core

import (
	"context"
	"fmt"
	"net"
	"sync"

	"chatrelay/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/transport"
	"chatrelay/tunnel"
	"chatrelay/util"
)

// Relay binds every configured listener and serves them with one
// [Server], so all clients share one registry and one capacity.
type Relay struct {
	cfg     *config.Config
	server  *Server
	logger  *util.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	addrs []net.Addr
	ready chan struct{}
}

var _ Mode = (*Relay)(nil)

// Build resolves and validates cfg and assembles a Relay.  m may be nil.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (*Relay, error) {
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = util.NewLogger(cfg.Verbose)
	}
	srv := NewServer(Options{
		Capacity:    cfg.Capacity,
		AliasBuffer: cfg.AliasBuffer,
		MaxLine:     cfg.MaxLine,
		IdleTimeout: cfg.IdleTimeout,
		ExitCommand: cfg.ExitCommand,
		AcceptDelay: cfg.AcceptDelay,
		GracePeriod: cfg.GracePeriod,
		Logger:      logger,
		Metrics:     m,
	})
	return &Relay{
		cfg:     cfg,
		server:  srv,
		logger:  logger,
		metrics: m,
		ready:   make(chan struct{}),
	}, nil
}

// Server returns the underlying accept loop.
func (r *Relay) Server() *Server { return r.server }

// Ready is closed once every listener is bound.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

// Addrs returns the bound listener addresses, TCP first.  It is empty
// until Ready is closed.
func (r *Relay) Addrs() []net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]net.Addr(nil), r.addrs...)
}

// Run binds, serves until ctx is cancelled, then logs the final metrics.
func (r *Relay) Run(ctx context.Context) error {
	listeners, err := r.open(ctx)
	if err != nil {
		return err
	}

	var ln net.Listener = listeners[0]
	if len(listeners) > 1 {
		multi := transport.NewMulti(listeners...)
		multi.OnError = func(addr net.Addr, err error) {
			r.logger.Error("listener %s stopped: %v", addr, err)
			r.metrics.RecordError(err.Error())
		}
		ln = multi
	}

	addrs := make([]net.Addr, len(listeners))
	for i, l := range listeners {
		addrs[i] = l.Addr()
		r.logger.Info("listening on %s", describe(l))
	}
	r.mu.Lock()
	r.addrs = addrs
	r.mu.Unlock()
	close(r.ready)

	r.logger.Verbose("capacity %d, line buffer %d bytes", r.cfg.Capacity, r.cfg.MaxLine)

	err = r.server.Serve(ctx, ln)
	ln.Close()
	if r.metrics != nil {
		r.logger.Info("relay stopped\n%s", r.metrics.JSON())
	}
	return err
}

// open binds the TCP listener and any optional ones.  On failure the
// listeners already bound are closed.
func (r *Relay) open(ctx context.Context) (out []net.Listener, err error) {
	defer func() {
		if err != nil {
			for _, l := range out {
				l.Close()
			}
			out = nil
		}
	}()

	tcp, err := transport.ListenTCP(ctx, r.cfg.ListenAddr())
	if err != nil {
		return out, err
	}
	out = append(out, tcp)

	if ws := r.cfg.WebSocket; ws.Address != "" {
		wl, err := transport.ListenWebSocket(ctx, ws.Address, ws.Path, r.logger)
		if err != nil {
			return out, err
		}
		out = append(out, wl)
	}

	if rc := r.cfg.Reverse; rc.Enabled() {
		rl, err := tunnel.ListenReverse(ctx, &tunnel.ReverseConfig{
			SSH: &tunnel.SSHConfig{
				User:          rc.User,
				Host:          rc.Host,
				Port:          rc.Port,
				KeyPath:       rc.KeyPath,
				Password:      rc.Password,
				PromptPass:    rc.PromptPassword,
				UseAgent:      rc.UseAgent,
				StrictHostKey: rc.StrictHostKey,
				KnownHosts:    rc.KnownHosts,
			},
			RemoteBindAddress: rc.RemoteBindAddress,
			RemotePort:        rc.RemotePort,
			KeepAlive:         rc.KeepAlive,
			Reconnect:         rc.Reconnect,
		}, r.logger, r.metrics)
		if err != nil {
			return out, fmt.Errorf("reverse tunnel: %w", err)
		}
		out = append(out, rl)
	}
	return out, nil
}

func describe(l net.Listener) string {
	switch v := l.(type) {
	case *transport.WebSocketListener:
		return fmt.Sprintf("ws://%s%s", v.Addr(), v.Path())
	case *tunnel.ReverseListener:
		return fmt.Sprintf("%s (ssh gateway)", v.Addr())
	default:
		return fmt.Sprintf("%s/%s", l.Addr().Network(), l.Addr())
	}
}
