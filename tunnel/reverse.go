package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "chatrelay/internal/errors"
	"chatrelay/internal/metrics"
	"chatrelay/internal/retry"
	"chatrelay/util"
)

// ReverseListener accepts connections forwarded by an SSH gateway.
type ReverseListener struct {
	cfg     *ReverseConfig
	ssh     *SSHConfig
	backoff *retry.Backoff
	logger  *util.Logger
	metrics *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	client *ssh.Client
	fwd    *forwardListener

	wg   sync.WaitGroup
	once sync.Once
}

// ListenReverse dials the gateway, retrying with backoff, and requests
// the remote forward.  The metrics collector is optional (nil-safe).
func ListenReverse(ctx context.Context, cfg *ReverseConfig, logger *util.Logger, m *metrics.Collector) (*ReverseListener, error) {
	return listenReverse(ctx, cfg, retry.DefaultBackoff(), logger, m)
}

func listenReverse(ctx context.Context, cfg *ReverseConfig, b *retry.Backoff, logger *util.Logger, m *metrics.Collector) (*ReverseListener, error) {
	if cfg.SSH == nil || cfg.SSH.Host == "" {
		return nil, fmt.Errorf("reverse tunnel: gateway host is required")
	}
	rl := &ReverseListener{
		cfg:     cfg,
		ssh:     cfg.SSH.withDefaults(),
		backoff: b,
		logger:  logger,
		metrics: m,
	}
	rl.ctx, rl.cancel = context.WithCancel(ctx)

	if err := rl.connect(); err != nil {
		rl.cancel()
		return nil, err
	}
	return rl, nil
}

// connect runs one dial-and-forward cycle under the backoff policy.
func (rl *ReverseListener) connect() error {
	return rl.backoff.Do(rl.ctx, func(attempt int) error {
		client, err := dialGateway(rl.ctx, rl.ssh, rl.logger)
		if err != nil {
			rl.metrics.RecordError(err.Error())
			if !retry.IsPermanent(err) {
				rl.logger.Warn("gateway attempt %d: %v", attempt, err)
			}
			return err
		}

		fwd, err := listenRemoteForward(client, rl.ssh.Host, rl.cfg.RemoteBindAddress, rl.cfg.RemotePort)
		if err != nil {
			client.Close()
			err = ncerr.WrapSSH("forward", rl.ssh.Host, rl.ssh.Port, err)
			rl.metrics.RecordError(err.Error())
			rl.logger.Warn("gateway attempt %d: %v", attempt, err)
			return err
		}

		rl.mu.Lock()
		if rl.ctx.Err() != nil {
			rl.mu.Unlock()
			fwd.Close()
			client.Close()
			return retry.Permanent(ncerr.ErrListenerClosed)
		}
		rl.client, rl.fwd = client, fwd
		rl.mu.Unlock()

		rl.logger.Info("relay exposed on %s via SSH gateway", fwd.Addr())
		if rl.cfg.KeepAlive > 0 {
			rl.wg.Add(1)
			go rl.keepalive(client, fwd)
		}
		return nil
	})
}

// keepalive probes the gateway and closes the client when a probe fails,
// which ends the pending Accept.
func (rl *ReverseListener) keepalive(client *ssh.Client, fwd *forwardListener) {
	defer rl.wg.Done()

	ticker := time.NewTicker(rl.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-rl.ctx.Done():
			return
		case <-fwd.done:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				rl.logger.Warn("gateway keepalive failed: %v", err)
				rl.metrics.RecordError(fmt.Sprintf("keepalive: %v", err))
				client.Close()
				return
			}
			rl.logger.Debug("gateway keepalive ok")
		}
	}
}

// Accept waits for the next forwarded connection.  With Reconnect set a
// lost gateway connection is re-established before Accept returns.
func (rl *ReverseListener) Accept() (net.Conn, error) {
	for {
		rl.mu.Lock()
		fwd := rl.fwd
		rl.mu.Unlock()
		if fwd == nil || rl.ctx.Err() != nil {
			return nil, ncerr.ErrListenerClosed
		}

		conn, err := fwd.Accept()
		if err == nil {
			return conn, nil
		}
		if rl.ctx.Err() != nil {
			return nil, ncerr.ErrListenerClosed
		}
		if !rl.cfg.Reconnect {
			return nil, ncerr.WrapSSH("accept", rl.ssh.Host, rl.ssh.Port, err)
		}

		rl.logger.Warn("gateway connection lost (%v), reconnecting", err)
		rl.teardown()
		if err := rl.connect(); err != nil {
			return nil, err
		}
	}
}

func (rl *ReverseListener) teardown() {
	rl.mu.Lock()
	fwd, client := rl.fwd, rl.client
	rl.fwd, rl.client = nil, nil
	rl.mu.Unlock()

	if fwd != nil {
		fwd.Close()
	}
	if client != nil {
		client.Close()
	}
}

// Close cancels the forward and disconnects from the gateway.
func (rl *ReverseListener) Close() error {
	rl.once.Do(func() {
		rl.cancel()
		rl.teardown()
		rl.wg.Wait()
	})
	return nil
}

// Addr returns the gateway-side address clients connect to.
func (rl *ReverseListener) Addr() net.Addr {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.fwd == nil {
		return gatewayAddr{host: rl.ssh.Host, port: rl.cfg.RemotePort}
	}
	return rl.fwd.Addr()
}
