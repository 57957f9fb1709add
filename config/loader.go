package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	ncerr "chatrelay/internal/errors"
)

// EnvPrefix starts every supported variable name.
const EnvPrefix = "CHATRELAY_"

// ── Environment variable mapping ─────────────────────────────────────
//
// Boolean values accept 1/true/yes and 0/false/no (case-insensitive).
// Durations use Go syntax ("30s", "2m").  An unparsable value is an
// error rather than silently ignored.

// LoadFromEnv overlays CHATRELAY_* variables onto cfg.  Only non-empty
// variables override the existing value.
func LoadFromEnv(cfg *Config) error {
	e := &envReader{}

	e.str("BIND_ADDRESS", &cfg.BindAddress)
	e.int("PORT", &cfg.Port)
	e.int("CAPACITY", &cfg.Capacity)
	e.int("MAX_LINE", &cfg.MaxLine)
	e.int("ALIAS_BUFFER", &cfg.AliasBuffer)
	e.duration("ACCEPT_DELAY", &cfg.AcceptDelay)
	e.duration("IDLE_TIMEOUT", &cfg.IdleTimeout)
	e.str("EXIT_COMMAND", &cfg.ExitCommand)
	e.duration("GRACE_PERIOD", &cfg.GracePeriod)
	e.int("VERBOSE", &cfg.Verbose)

	// WebSocket bridge
	e.str("WS_LISTEN", &cfg.WebSocket.Address)
	e.str("WS_PATH", &cfg.WebSocket.Path)

	// Reverse tunnel
	e.str("REVERSE_TUNNEL", &cfg.Reverse.Spec)
	e.int("REMOTE_PORT", &cfg.Reverse.RemotePort)
	e.str("REMOTE_BIND_ADDRESS", &cfg.Reverse.RemoteBindAddress)
	e.str("SSH_KEY", &cfg.Reverse.KeyPath)
	e.bool("SSH_AGENT", &cfg.Reverse.UseAgent)
	e.str("SSH_PASSWORD", &cfg.Reverse.Password)
	e.bool("STRICT_HOSTKEY", &cfg.Reverse.StrictHostKey)
	e.str("KNOWN_HOSTS", &cfg.Reverse.KnownHosts)
	e.duration("KEEPALIVE", &cfg.Reverse.KeepAlive)
	e.bool("RECONNECT", &cfg.Reverse.Reconnect)

	return e.err
}

// ── helpers ──────────────────────────────────────────────────────────

// envReader records the first malformed variable and skips the rest.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	return v, v != ""
}

func (e *envReader) fail(key, v, want string) {
	e.err = &ncerr.ConfigError{
		Field:   strings.ToLower(strings.ReplaceAll(key, "_", "-")),
		Value:   v,
		Message: fmt.Sprintf("%s%s must be %s", EnvPrefix, key, want),
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, "an integer")
		return
	}
	*dst = n
}

func (e *envReader) bool(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		*dst = true
	case "0", "false", "no":
		*dst = false
	default:
		e.fail(key, v, "a boolean")
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, `a duration such as "30s"`)
		return
	}
	*dst = d
}
