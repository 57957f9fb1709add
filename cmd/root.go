// Package cmd wires up the CLI flags and starts the relay.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"chatrelay/config"
	"chatrelay/internal/core"
	"chatrelay/internal/metrics"
	"chatrelay/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X chatrelay/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the relay until ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	return run(ctx, args, os.Stdout)
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	// ── defaults < file < env ────────────────────────────────────
	cfg := config.Default()
	if path := configPath(args); path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return err
	}

	// ── flags (defaults are the values so far) ───────────────────
	fs := flag.NewFlagSet("chatrelay", flag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVarP(&cfg.BindAddress, "bind", "b", cfg.BindAddress, "Local address to bind (default all)")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "TCP port")
	fs.IntVarP(&cfg.Capacity, "capacity", "c", cfg.Capacity, "Maximum concurrent clients")
	fs.IntVar(&cfg.MaxLine, "max-line", cfg.MaxLine, "Relay read buffer in bytes")
	fs.IntVar(&cfg.AliasBuffer, "alias-buffer", cfg.AliasBuffer, "Alias read buffer in bytes")
	fs.DurationVar(&cfg.AcceptDelay, "accept-delay", cfg.AcceptDelay, "Pause after each accepted client")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Disconnect silent clients (0 = never)")
	fs.StringVar(&cfg.ExitCommand, "exit-command", cfg.ExitCommand, "Line that disconnects the sender, e.g. exit")
	fs.DurationVar(&cfg.GracePeriod, "grace-period", cfg.GracePeriod, "Shutdown wait for handlers")

	// ── WebSocket bridge ─────────────────────────────────────────
	fs.StringVar(&cfg.WebSocket.Address, "ws-listen", cfg.WebSocket.Address, "Also accept WebSocket clients on host:port")
	fs.StringVar(&cfg.WebSocket.Path, "ws-path", cfg.WebSocket.Path, "WebSocket upgrade path")

	// ── SSH reverse tunnel ───────────────────────────────────────
	fs.StringVarP(&cfg.Reverse.Spec, "reverse-tunnel", "R", cfg.Reverse.Spec, "Expose the relay via [user@]gateway[:port]")
	fs.IntVar(&cfg.Reverse.RemotePort, "remote-port", cfg.Reverse.RemotePort, "Gateway port (0 = gateway picks)")
	fs.StringVar(&cfg.Reverse.RemoteBindAddress, "remote-bind-address", cfg.Reverse.RemoteBindAddress, "Gateway bind address")
	fs.StringVar(&cfg.Reverse.KeyPath, "ssh-key", cfg.Reverse.KeyPath, "SSH private key file")
	fs.BoolVar(&cfg.Reverse.UseAgent, "ssh-agent", cfg.Reverse.UseAgent, "Use SSH agent")
	fs.BoolVar(&cfg.Reverse.PromptPassword, "ssh-password", cfg.Reverse.PromptPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.Reverse.StrictHostKey, "strict-hostkey", cfg.Reverse.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.Reverse.KnownHosts, "known-hosts", cfg.Reverse.KnownHosts, "Custom known_hosts path")
	fs.DurationVar(&cfg.Reverse.KeepAlive, "keepalive", cfg.Reverse.KeepAlive, "SSH keepalive interval (0 = off)")
	fs.BoolVar(&cfg.Reverse.Reconnect, "reconnect", cfg.Reverse.Reconnect, "Reconnect when the gateway drops")

	// ── output ───────────────────────────────────────────────────
	baseVerbose := cfg.Verbose
	var verbose int
	var quiet bool
	fs.CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&quiet, "quiet", "q", false, "Only print errors")

	var dryRun, showVersion, showHelp bool
	var unused string
	fs.StringVar(&unused, "config", "", "YAML config file")
	fs.BoolVar(&dryRun, "dry-run", false, "Print the resolved configuration and exit")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "chatrelay %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}

	cfg.Verbose = baseVerbose + verbose
	if quiet {
		cfg.Verbose = 0
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Resolve(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun {
		return config.WriteYAML(stdout, cfg)
	}

	// ── run ──────────────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	relay, err := core.Build(cfg, logger, metrics.New())
	if err != nil {
		return err
	}
	return relay.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

// configPath finds --config before the full flag set exists, since the
// file supplies that flag set's defaults.  CHATRELAY_CONFIG is the
// fallback.
func configPath(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv(config.EnvPrefix + "CONFIG")
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `chatrelay v%s

A line-oriented TCP chat relay.  Each client sends an alias first; every
line after that is relayed to all other connected clients.

Usage:
  chatrelay [options]

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Settings are read from defaults, then --config (YAML), then CHATRELAY_*
environment variables, then flags; later sources win.

Examples:
  chatrelay                                   Listen on :8080, 100 clients
  chatrelay -p 9000 -c 10 -v                  Small room, log every line
  chatrelay --ws-listen :8081                 Also accept browsers
  chatrelay -R relay@gw.example.com --remote-port 9000
                                              Expose through an SSH gateway
  chatrelay --config relay.yaml --dry-run     Check a config file
`)
}
