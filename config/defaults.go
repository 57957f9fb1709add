package config

import (
	"os"
	"os/user"
	"time"
)

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPort is the TCP port the relay listens on.
	DefaultPort = 8080

	// DefaultCapacity is the maximum number of concurrent clients,
	// counting those that have not sent an alias yet.
	DefaultCapacity = 100

	// DefaultMaxLine is the relay read buffer.  Longer lines are relayed
	// in pieces.
	DefaultMaxLine = 2048

	// DefaultAliasBuffer is the size of the single alias read.
	DefaultAliasBuffer = 32

	// DefaultGracePeriod is how long shutdown waits for handlers.
	DefaultGracePeriod = 5 * time.Second

	// DefaultWebSocketPath is where the WebSocket bridge upgrades.
	DefaultWebSocketPath = "/chat"

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultKeepAlive is the SSH gateway keepalive interval.
	DefaultKeepAlive = 30 * time.Second
)

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		Port:        DefaultPort,
		Capacity:    DefaultCapacity,
		MaxLine:     DefaultMaxLine,
		AliasBuffer: DefaultAliasBuffer,
		GracePeriod: DefaultGracePeriod,
		WebSocket:   WebSocketConfig{Path: DefaultWebSocketPath},
		Reverse:     ReverseConfig{KeepAlive: DefaultKeepAlive},
		Verbose:     1,
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
