// Package core is the relay itself: the broadcast dispatcher, the
// per-connection handler state machine and the accept loop, plus the
// builder that wires them to listeners from a Config.
//
// Architecture layers (bottom → top):
//
//	session  →  registry  →  core (dispatcher, handler, server)  →  cmd
//	                 transport / tunnel  ↗
package core

import "context"

// Mode is a runnable top-level unit.  [Relay] is the only one: it owns
// its listeners from bind to shutdown.
type Mode interface {
	Run(ctx context.Context) error
}
