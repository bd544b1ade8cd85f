// Package capture provides an ANSI-preserving view of a session's
// screen with PTY-attach, snapshot, and log-toggle fallback methods,
// plus safe input/key injection.
package capture

import (
	"errors"
	"time"

	"github.com/jonhardwick-spec/wrangler/internal/ring"
)

// Method identifies which capture mechanism currently populates the buffer.
type Method string

const (
	MethodNone      Method = "none"
	MethodPTY       Method = "pty"
	MethodSnapshot  Method = "snapshot"
	MethodLogToggle Method = "log-toggle"
)

// ErrUnknownKey is returned by SendKey for a name outside the closed
// set keyBytesFor recognizes.
var ErrUnknownKey = errors.New("capture: unknown key name")

// ErrNoSession is returned by SendInput/SendKey when no session is bound.
var ErrNoSession = errors.New("capture: no session bound")

// Content is the result of GetContent: a slice of lines plus the
// method and freshness stats that produced them.
type Content struct {
	Lines      []string
	Method     Method
	LastUpdate time.Time
	Stats      ring.Stats
}

// State is a read-only snapshot of a Capture's lifecycle data, suitable
// for display in the TUI or dashboard.
type State struct {
	SessionName     string
	Method          Method
	Paused          bool
	CaptureCount    int
	ErrorCount      int
	LastCaptureTime time.Time
}
