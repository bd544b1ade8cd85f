// Package session supervises multiplexer sessions: name derivation,
// host precondition checks, start/stop lifecycle, and best-effort
// progress dumps on shutdown.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonhardwick-spec/wrangler/internal/muxdriver"
)

// Handle identifies one multiplexer session.
type Handle struct {
	Name   string
	PID    int
	Status muxdriver.State
	Date   time.Time
	Role   Role
}

// startRetries/startRetryInterval bound Start's readiness wait to
// <=10x500ms: long enough for tmux to register a just-spawned session,
// short enough that a dead session fails fast instead of hanging Start.
const (
	startRetries       = 10
	startRetryInterval = 500 * time.Millisecond
)

// Snapshotter captures the tail of a session's screen for the progress
// dump. capture.Capture implements this; it is narrowed here to avoid
// an import cycle between session and capture.
type Snapshotter interface {
	SnapshotTail(ctx context.Context, name string, lines int) (string, error)
}

// Supervisor owns the lifecycle of multiplexer sessions for one
// project context. It is an explicit value passed to callers rather
// than a package-level singleton, so multiple projects can be
// supervised concurrently within one process without cross-talk.
type Supervisor struct {
	Driver      muxdriver.Driver
	Log         *slog.Logger
	ProgressDir string // directory name under the project, e.g. ".wrangler/progress"

	// ShellCmd builds the command line a newly spawned session runs
	// for the given role (e.g. launching the supervised agent, or a
	// plain login shell for a console session).
	ShellCmd func(role Role) string
}

// New constructs a Supervisor. log may be nil, in which case a
// discarding logger is used.
func New(driver muxdriver.Driver, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.New(slog.NewTextHandler(nullWriter{}, nil))
	}
	return &Supervisor{
		Driver:      driver,
		Log:         log,
		ProgressDir: ".wrangler/progress",
	}
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

// EnsureTooling fails with ErrToolingMissing if the host multiplexer
// binary is not on PATH.
func (s *Supervisor) EnsureTooling() error {
	if !s.Driver.Installed() {
		return ErrToolingMissing
	}
	return nil
}

// List enumerates sessions belonging to projectPath across both roles,
// in the order the host reports them.
func (s *Supervisor) List(ctx context.Context, projectPath string) ([]Handle, error) {
	agentPrefix := Name(projectPath, RoleAgent)
	consolePrefix := Name(projectPath, RoleConsole)

	records, err := s.Driver.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []Handle
	for _, r := range records {
		var role Role
		switch {
		case r.Name == agentPrefix:
			role = RoleAgent
		case r.Name == consolePrefix:
			role = RoleConsole
		default:
			continue
		}
		out = append(out, Handle{Name: r.Name, PID: r.PID, Status: r.State, Date: r.Date, Role: role})
	}
	return out, nil
}

// Start spawns a detached session for projectPath/role. It fails with
// ErrToolingMissing, ErrAlreadyExists, or ErrStartTimeout per spec
// §4.1. No partial session is left behind on timeout.
func (s *Supervisor) Start(ctx context.Context, projectPath string, role Role) (Handle, error) {
	if err := s.EnsureTooling(); err != nil {
		return Handle{}, err
	}

	name := Name(projectPath, role)
	exists, err := s.Driver.Exists(ctx, name)
	if err != nil {
		return Handle{}, fmt.Errorf("check existing session: %w", err)
	}
	if exists {
		return Handle{}, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}

	shellCmd := "$SHELL"
	if s.ShellCmd != nil {
		shellCmd = s.ShellCmd(role)
	}
	if err := s.Driver.Spawn(ctx, name, shellCmd, 5000); err != nil {
		return Handle{}, fmt.Errorf("spawn session: %w", err)
	}

	if err := s.waitForReady(ctx, name); err != nil {
		// Leave no partial session behind.
		_ = s.Driver.Kill(ctx, name)
		return Handle{}, err
	}

	s.Log.Info("session started", "name", name, "role", role)
	return Handle{Name: name, Role: role, Status: muxdriver.StateDetached}, nil
}

func (s *Supervisor) waitForReady(ctx context.Context, name string) error {
	for i := 0; i < startRetries; i++ {
		ok, err := s.Driver.Exists(ctx, name)
		if err == nil && ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startRetryInterval):
		}
	}
	return ErrStartTimeout
}

// StopOptions configures Stop.
type StopOptions struct {
	SaveProgress bool
	Reason       string // e.g. "deadline", "user_stop", "completed"

	// Snapshot performs the pre-kill capture for the progress dump.
	// Required when SaveProgress is true and role is agent.
	Snapshot Snapshotter

	// SummaryWait is how long to wait after requesting a summary
	// before capturing the tail (default 2s). There is no generic way
	// to detect that an arbitrary supervised agent has finished
	// writing a summary, so this is a fixed delay rather than a signal.
	SummaryWait time.Duration
	// TailLines is how many lines to capture for the dump (default 400).
	TailLines int
}

// Stop kills handle, optionally writing a progress dump first. Kill
// always happens regardless of dump success. Returns the dump path
// written, if any.
func (s *Supervisor) Stop(ctx context.Context, projectPath string, h Handle, opts StopOptions) (string, error) {
	var dumpPath string
	if opts.SaveProgress && h.Role == RoleAgent && opts.Snapshot != nil {
		p, err := s.saveProgress(ctx, projectPath, h, opts)
		if err != nil {
			s.Log.Warn("progress dump failed", "session", h.Name, "err", err)
		} else {
			dumpPath = p
		}
	}
	if err := s.Driver.Kill(ctx, h.Name); err != nil {
		return dumpPath, fmt.Errorf("kill session %s: %w", h.Name, err)
	}
	return dumpPath, nil
}

func (s *Supervisor) saveProgress(ctx context.Context, projectPath string, h Handle, opts StopOptions) (string, error) {
	wait := opts.SummaryWait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	tailLines := opts.TailLines
	if tailLines <= 0 {
		tailLines = 400
	}

	// Ask the agent to summarize before we snapshot; best-effort.
	_ = s.Driver.Send(ctx, h.Name,
		"Please summarize your current progress in a few sentences before stopping.", true)

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(wait):
	}

	body, err := opts.Snapshot.SnapshotTail(ctx, h.Name, tailLines)
	if err != nil {
		return "", fmt.Errorf("capture tail: %w", err)
	}

	reason := opts.Reason
	if reason == "" {
		reason = "stop"
	}
	path, err := writeProgressDump(projectPath, s.ProgressDir, h.Name, reason, body)
	if err != nil {
		return "", err
	}
	s.Log.Info("progress dump written", "path", path, "reason", reason, "id", uuid.NewString())
	return path, nil
}

// Report aggregates the outcome of StopAll.
type Report struct {
	Succeeded int
	Failed    int
	Saved     int
	Errors    []error
}

// StopAll stops every session belonging to projectPath, at most once
// per handle.
func (s *Supervisor) StopAll(ctx context.Context, projectPath string, opts StopOptions) Report {
	handles, err := s.List(ctx, projectPath)
	if err != nil {
		return Report{Failed: 1, Errors: []error{err}}
	}
	var rep Report
	seen := make(map[string]bool)
	for _, h := range handles {
		if seen[h.Name] {
			continue
		}
		seen[h.Name] = true
		path, err := s.Stop(ctx, projectPath, h, opts)
		if err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, err)
			continue
		}
		rep.Succeeded++
		if path != "" {
			rep.Saved++
		}
	}
	return rep
}

// safeName makes a session name filesystem-safe (it already is, by
// construction, but this guards against future relaxation of the
// naming rule).
func safeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
