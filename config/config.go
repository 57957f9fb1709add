// Package config defines the runtime configuration for chatrelay and the
// layers it is assembled from: defaults, an optional YAML file,
// CHATRELAY_* environment variables and CLI flags, in rising precedence.
package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	ncerr "chatrelay/internal/errors"
)

// Config holds every tuneable for a relay process.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	BindAddress string `yaml:"bind_address"` // empty = all local addresses
	Port        int    `yaml:"port"`

	// ── Relay ────────────────────────────────────────────────────────
	Capacity    int           `yaml:"capacity"`
	MaxLine     int           `yaml:"max_line"`
	AliasBuffer int           `yaml:"alias_buffer"`
	AcceptDelay time.Duration `yaml:"accept_delay"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	ExitCommand string        `yaml:"exit_command"`
	GracePeriod time.Duration `yaml:"grace_period"`

	// ── Extra listeners ──────────────────────────────────────────────
	WebSocket WebSocketConfig `yaml:"websocket"`
	Reverse   ReverseConfig   `yaml:"reverse_tunnel"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose int `yaml:"verbose"`
}

// WebSocketConfig enables the WebSocket bridge when Address is set.
type WebSocketConfig struct {
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// ReverseConfig enables the SSH reverse tunnel when Spec is set.
type ReverseConfig struct {
	Spec              string        `yaml:"gateway"` // [user@]host[:port]
	RemotePort        int           `yaml:"remote_port"`
	RemoteBindAddress string        `yaml:"remote_bind_address"`
	KeyPath           string        `yaml:"ssh_key"`
	UseAgent          bool          `yaml:"ssh_agent"`
	PromptPassword    bool          `yaml:"ssh_password_prompt"`
	StrictHostKey     bool          `yaml:"strict_hostkey"`
	KnownHosts        string        `yaml:"known_hosts"`
	KeepAlive         time.Duration `yaml:"keepalive"`
	Reconnect         bool          `yaml:"reconnect"`

	// Password is only read from the environment, never from a file.
	Password string `yaml:"-"`

	// Filled from Spec by Resolve.
	User string `yaml:"-"`
	Host string `yaml:"-"`
	Port int    `yaml:"-"`
}

// Enabled reports whether a gateway was configured.
func (r *ReverseConfig) Enabled() bool { return r.Spec != "" }

// ListenAddr is the TCP address the relay binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "relay@gw.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid gateway %q, expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid gateway port %q", m[3])
		}
	}
	return user, host, port, nil
}

// Resolve fills derived fields.  Call it after every layer is applied.
func (c *Config) Resolve() error {
	if !c.Reverse.Enabled() {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.Reverse.Spec)
	if err != nil {
		return &ncerr.ConfigError{
			Field:   "reverse-tunnel",
			Value:   c.Reverse.Spec,
			Message: err.Error(),
			Hint:    "e.g. --reverse-tunnel relay@gw.example.com:22",
		}
	}
	if user == "" {
		user = currentUser()
	}
	c.Reverse.User, c.Reverse.Host, c.Reverse.Port = user, host, port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.  The
// error is a *errors.ConfigError naming the offending flag.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return &ncerr.ConfigError{Field: "port", Value: c.Port, Message: "must be in 0-65535"}
	}
	if c.Capacity < 1 {
		return &ncerr.ConfigError{
			Field:   "capacity",
			Value:   c.Capacity,
			Message: "must be at least 1",
			Hint:    fmt.Sprintf("the default is %d", DefaultCapacity),
		}
	}
	if c.AliasBuffer < 1 {
		return &ncerr.ConfigError{Field: "alias-buffer", Value: c.AliasBuffer, Message: "must be at least 1"}
	}
	if c.MaxLine < 1 {
		return &ncerr.ConfigError{Field: "max-line", Value: c.MaxLine, Message: "must be at least 1"}
	}

	for _, d := range []struct {
		field string
		v     time.Duration
	}{
		{"accept-delay", c.AcceptDelay},
		{"idle-timeout", c.IdleTimeout},
		{"grace-period", c.GracePeriod},
		{"keepalive", c.Reverse.KeepAlive},
	} {
		if d.v < 0 {
			return &ncerr.ConfigError{Field: d.field, Value: d.v, Message: "must not be negative"}
		}
	}

	if c.WebSocket.Address != "" {
		if _, _, err := net.SplitHostPort(c.WebSocket.Address); err != nil {
			return &ncerr.ConfigError{
				Field:   "ws-listen",
				Value:   c.WebSocket.Address,
				Message: err.Error(),
				Hint:    "use host:port, e.g. --ws-listen :8081",
			}
		}
		if c.WebSocket.Path == "" || c.WebSocket.Path[0] != '/' {
			return &ncerr.ConfigError{Field: "ws-path", Value: c.WebSocket.Path, Message: "must start with /"}
		}
	}

	if c.Reverse.Enabled() {
		if c.Reverse.Host == "" {
			return &ncerr.ConfigError{
				Field:   "reverse-tunnel",
				Value:   c.Reverse.Spec,
				Message: "gateway host is required",
			}
		}
		if c.Reverse.RemotePort < 0 || c.Reverse.RemotePort > 65535 {
			return &ncerr.ConfigError{
				Field:   "remote-port",
				Value:   c.Reverse.RemotePort,
				Message: "must be in 0-65535",
				Hint:    "0 lets the gateway pick a port",
			}
		}
	}
	return nil
}
