package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"

	ncerr "chatrelay/internal/errors"
	"chatrelay/internal/retry"
	"chatrelay/util"
)

// dialGateway establishes an authenticated SSH connection.  Failures
// that another attempt cannot fix (credentials, host key) come back
// marked with [retry.Permanent].
func dialGateway(ctx context.Context, cfg *SSHConfig, logger *util.Logger) (*ssh.Client, error) {
	authMethods, err := BuildAuthMethods(cfg)
	if err != nil {
		return nil, retry.Permanent(ncerr.WrapSSH("auth", cfg.Host, cfg.Port, err))
	}

	hkCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, retry.Permanent(ncerr.WrapSSH("hostkey", cfg.Host, cfg.Port, err))
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         cfg.ConnTimeout,
		// Public gateways print the assigned URL in the pre-auth banner.
		BannerCallback: func(message string) error {
			logger.Info("gateway: %s", strings.TrimSpace(message))
			return nil
		},
	}

	addr := util.FormatAddr(cfg.Host, cfg.Port)
	logger.Debug("gateway: dialing %s as %s", addr, cfg.User)

	dialer := net.Dialer{Timeout: cfg.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ncerr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		// x/crypto/ssh flattens handshake errors to text.
		switch msg := err.Error(); {
		case strings.Contains(msg, "unable to authenticate"):
			return nil, retry.Permanent(ncerr.WrapSSH("auth", cfg.Host, cfg.Port,
				fmt.Errorf("%w: %v", ncerr.ErrAuthFailed, err)))
		case strings.Contains(msg, "knownhosts:"):
			return nil, retry.Permanent(ncerr.WrapSSH("hostkey", cfg.Host, cfg.Port, err))
		}
		return nil, ncerr.WrapSSH("handshake", cfg.Host, cfg.Port, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	go drainServerMessages(client, logger)
	return client, nil
}

// drainServerMessages logs whatever the gateway prints on a shell
// session.  Gateways without session support just refuse the channel.
func drainServerMessages(client *ssh.Client, logger *util.Logger) {
	sess, err := client.NewSession()
	if err != nil {
		logger.Debug("gateway: no message session: %v", err)
		return
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return
	}
	if err := sess.Shell(); err != nil {
		return
	}

	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			logger.Info("gateway: %s", line)
		}
	}
}
