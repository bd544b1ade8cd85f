package session

import "errors"

// Sentinel errors surfaced by Supervisor operations.
var (
	// ErrToolingMissing is returned when the host multiplexer binary
	// is not on PATH. Fatal to the calling operation.
	ErrToolingMissing = errors.New("session: multiplexer tooling not installed")

	// ErrAlreadyExists is returned by Start when a session with the
	// computed name is already alive.
	ErrAlreadyExists = errors.New("session: already exists")

	// ErrStartTimeout is returned by Start when the session never
	// registers with the host multiplexer within the retry window.
	ErrStartTimeout = errors.New("session: start timed out waiting for readiness")
)
