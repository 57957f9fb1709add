// Package tunnel exposes the relay on a remote SSH gateway, the Go
// equivalent of "ssh -R".  The gateway's forwarded connections arrive
// through [ReverseListener], a [net.Listener], so the relay serves them
// exactly like local TCP clients.
package tunnel

import (
	"time"
)

// SSHConfig holds everything needed to dial an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	Password      string // non-interactive password, e.g. from the environment
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
}

// ReverseConfig describes the remote port forward.
type ReverseConfig struct {
	SSH *SSHConfig

	// RemoteBindAddress is sent in the tcpip-forward request.  Empty lets
	// the gateway decide.
	RemoteBindAddress string
	// RemotePort 0 asks the gateway to allocate a port.
	RemotePort int

	// KeepAlive is the interval between keepalive@openssh.com requests.
	// 0 disables keepalives.
	KeepAlive time.Duration
	// Reconnect re-establishes the forward when the gateway connection
	// drops instead of failing Accept.
	Reconnect bool
}

func (c *SSHConfig) withDefaults() *SSHConfig {
	out := *c
	if out.Port == 0 {
		out.Port = 22
	}
	if out.ConnTimeout == 0 {
		out.ConnTimeout = 30 * time.Second
	}
	return &out
}
