// Package muxdriver exposes a narrow contract over the host terminal
// multiplexer so the rest of the core is testable without spawning a
// real multiplexer process. The only implementation that knows the
// word "tmux" lives in this package (tmux.go); everything above this
// package talks to the Driver interface.
package muxdriver

import (
	"context"
	"time"
)

// State is the reported attachment state of a multiplexer session.
type State string

const (
	StateAttached State = "attached"
	StateDetached State = "detached"
)

// Record describes one session as reported by List.
type Record struct {
	Name  string
	PID   int
	Date  time.Time
	State State
}

// Driver is the narrow contract the core depends on. Implementations
// must bound every call with ctx; the tmux implementation additionally
// enforces a 1-5s per-call timeout so a hung or dead session can't
// stall the caller indefinitely.
type Driver interface {
	// Installed reports whether the multiplexer binary is available.
	Installed() bool

	// List enumerates all sessions the host multiplexer currently
	// knows about, in the order the host reports them.
	List(ctx context.Context) ([]Record, error)

	// Exists reports whether a session with the exact given name is
	// alive.
	Exists(ctx context.Context, name string) (bool, error)

	// Spawn creates a new detached session named name, running shellCmd,
	// with at least scrollbackLines of history retained.
	Spawn(ctx context.Context, name, shellCmd string, scrollbackLines int) error

	// Send injects literal text into the session's input, optionally
	// followed by Enter.
	Send(ctx context.Context, name, text string, pressEnter bool) error

	// SendKeys injects a raw host-multiplexer key-sequence literal
	// (already escaped by the caller) into the session's input.
	SendKeys(ctx context.Context, name, literal string) error

	// Snapshot writes the session's current screen plus scrollback
	// (if withScrollback) to destPath.
	Snapshot(ctx context.Context, name, destPath string, withScrollback bool) error

	// SetLog toggles the multiplexer's built-in output logging for
	// the session to logPath.
	SetLog(ctx context.Context, name string, on bool, logPath string) error

	// Kill terminates a session by name. Killing a session that does
	// not exist is not an error.
	Kill(ctx context.Context, name string) error

	// AttachArgs returns the argv (beyond the multiplexer binary name
	// itself) that read-only-attaches to name with the given terminal
	// dimensions, suitable for exec.CommandContext under a pty.
	AttachArgs(name string, cols, rows int) []string

	// Bin returns the executable name or path this driver shells out
	// to, so callers building their own exec.Cmd (the PTY attach path
	// in capture.Capture) never hardcode the multiplexer's name.
	Bin() string
}
