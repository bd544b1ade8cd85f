package autorun

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jonhardwick-spec/wrangler/internal/capture"
	"github.com/jonhardwick-spec/wrangler/internal/events"
	"github.com/jonhardwick-spec/wrangler/internal/muxdriver"
	"github.com/jonhardwick-spec/wrangler/internal/session"
)

// ExitReason classifies why Run returned.
type ExitReason string

const (
	ExitCompleted         ExitReason = "completed"
	ExitTimeLimit         ExitReason = "time_limit"
	ExitSessionTerminated ExitReason = "session_terminated"
	ExitStartFailed       ExitReason = "start_failed"
	ExitMaxReinforcements ExitReason = "max_reinforcements"
)

// Capture is the narrow LiveCapture surface the controller drives.
// capture.Capture implements this.
type Capture interface {
	Start(ctx context.Context, sessionName string) error
	GetContent(ctx context.Context, n int) (capture.Content, error)
	SendInput(ctx context.Context, text string, pressEnter bool) bool
	SendKey(ctx context.Context, name string) (bool, error)
}

// Config holds the tunables recognized by the controller.
type Config struct {
	PollInterval          time.Duration
	PromptCooldown        time.Duration
	AutoAcceptPermissions bool
	AutoAllowDontAskAgain bool
	ReinforceAfter        time.Duration
	MaxReinforcements     int
	ScanLines             int

	PermissionRules   []Rule
	StuckRules        []Rule
	ErrorRules        []Rule
	CompletionPattern *regexp.Regexp

	// NudgeMessage builds the short nudge sent when the agent appears
	// stuck. PromptText is the original, unaugmented prompt.
	NudgeMessage func(promptText string) string
	// ReinforcementMessage builds the message sent once the run has
	// been going for longer than ReinforceAfter and at least
	// ReinforceAfter has passed since the previous reinforcement.
	ReinforcementMessage func(promptText string, remaining time.Duration) string
}

// DefaultConfig returns the tuning used when a caller doesn't override it.
func DefaultConfig() Config {
	perm, stuck, errs, completion := DefaultRules()
	return Config{
		PollInterval:          2000 * time.Millisecond,
		PromptCooldown:        5000 * time.Millisecond,
		AutoAcceptPermissions: true,
		AutoAllowDontAskAgain: true,
		ReinforceAfter:        15 * time.Minute,
		MaxReinforcements:     3,
		ScanLines:             30,
		PermissionRules:       perm,
		StuckRules:            stuck,
		ErrorRules:            errs,
		CompletionPattern:     completion,
		NudgeMessage:          defaultNudgeMessage,
		ReinforcementMessage:  defaultReinforcementMessage,
	}
}

func defaultNudgeMessage(promptText string) string {
	return fmt.Sprintf("Please continue working toward the original objective without asking further questions: %s", promptText)
}

func defaultReinforcementMessage(promptText string, remaining time.Duration) string {
	return fmt.Sprintf("Reminder of the objective: %s. Approximately %s remain; please proceed and emit \"completed completed completed\" when finished.",
		promptText, remaining.Round(time.Second))
}

// completionTail is appended to the prompt sent at the start of the
// run, instructing the agent to emit the sentinel on completion.
const completionTail = "\n\nWhen you have fully completed this task, output the exact phrase \"completed completed completed\" on its own line."

// Report is the result of one Run.
type Report struct {
	ExitReason            ExitReason
	CompletedSuccessfully bool
	PermissionsHandled    int
	Reinforcements        int
	StartedAt             time.Time
	EndedAt               time.Time
}

// Controller drives one session toward completion of one prompt
// within a deadline.
type Controller struct {
	Driver     muxdriver.Driver
	Supervisor *session.Supervisor
	Capture    Capture
	Bus        *events.Bus
	Log        *slog.Logger
	Config     Config
}

// New constructs a Controller with DefaultConfig applied.
func New(driver muxdriver.Driver, sup *session.Supervisor, cap Capture, bus *events.Bus, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.New(slog.NewTextHandler(nullWriter{}, nil))
	}
	return &Controller{Driver: driver, Supervisor: sup, Capture: cap, Bus: bus, Log: log, Config: DefaultConfig()}
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

// Run executes one autonomous run end to end: initialization, the
// main poll loop, and the returned Report. It never panics on
// recoverable errors; it records them in the log and continues,
// since a single failed capture read or RPC call shouldn't abandon
// an otherwise-healthy session.
func (c *Controller) Run(ctx context.Context, projectPath, prompt string, deadline time.Duration) (Report, error) {
	startedAt := time.Now()
	name := session.Name(projectPath, session.RoleAgent)

	if exists, err := c.Driver.Exists(ctx, name); err == nil && exists {
		_ = c.Driver.Kill(ctx, name)
	}

	handle, err := c.Supervisor.Start(ctx, projectPath, session.RoleAgent)
	if err != nil {
		return Report{ExitReason: ExitStartFailed, StartedAt: startedAt, EndedAt: time.Now()}, err
	}

	if err := c.Capture.Start(ctx, handle.Name); err != nil {
		c.Log.Warn("capture start degraded", "session", handle.Name, "err", err)
	}

	augmented := prompt + completionTail
	c.Capture.SendInput(ctx, augmented, true)
	sleepCtx(ctx, c.Config.PromptCooldown)

	deadlineAt := startedAt.Add(deadline)
	rep := Report{StartedAt: startedAt}

	var lastObserved string
	var lastReinforcementAt time.Time
	permissionsHandled := 0
	reinforcements := 0

	for {
		if ctx.Err() != nil {
			rep.ExitReason = ExitSessionTerminated
			break
		}

		now := time.Now()
		if !now.Before(deadlineAt) {
			rep.ExitReason = ExitTimeLimit
			break
		}

		if alive, err := c.Driver.Exists(ctx, name); err == nil && !alive {
			rep.ExitReason = ExitSessionTerminated
			break
		}

		content, err := c.Capture.GetContent(ctx, 0)
		if err != nil {
			c.Log.Warn("getContent failed", "session", name, "err", err)
			sleepCtx(ctx, c.Config.PollInterval)
			continue
		}

		recent := tailJoin(content.Lines, c.Config.ScanLines)
		full := strings.Join(content.Lines, "\n")

		if c.Config.AutoAcceptPermissions {
			if _, ok := FindFirst(c.Config.PermissionRules, recent); ok {
				if c.Config.AutoAllowDontAskAgain {
					_, _ = c.Capture.SendKey(ctx, "down")
					_, _ = c.Capture.SendKey(ctx, "enter")
				} else {
					_, _ = c.Capture.SendKey(ctx, "enter")
				}
				permissionsHandled++
				c.emit(events.TypeAutoPermission, name, permissionsHandled)
				sleepCtx(ctx, time.Second)
				continue
			}
		}

		if c.Config.CompletionPattern.MatchString(full) {
			rep.CompletedSuccessfully = true
			rep.ExitReason = ExitCompleted
			c.emit(events.TypeAutoCompleted, name, nil)
			break
		}

		actionTaken := false
		changed := full != lastObserved
		if changed {
			if _, ok := FindFirst(c.Config.StuckRules, recent); ok {
				c.Capture.SendInput(ctx, c.Config.NudgeMessage(prompt), true)
				actionTaken = true
			}
		}

		elapsed := now.Sub(startedAt)
		dueForReinforcement := !actionTaken &&
			elapsed > c.Config.ReinforceAfter &&
			now.Sub(lastReinforcementAt) > c.Config.ReinforceAfter
		if dueForReinforcement {
			if reinforcements >= c.Config.MaxReinforcements {
				rep.ExitReason = ExitMaxReinforcements
				break
			}
			remaining := deadlineAt.Sub(now)
			c.Capture.SendInput(ctx, c.Config.ReinforcementMessage(prompt, remaining), true)
			reinforcements++
			lastReinforcementAt = now
		}

		lastObserved = full
		sleepCtx(ctx, c.Config.PollInterval)
	}

	rep.PermissionsHandled = permissionsHandled
	rep.Reinforcements = reinforcements
	rep.EndedAt = time.Now()
	return rep, nil
}

func (c *Controller) emit(typ events.Type, session string, data any) {
	if c.Bus == nil {
		return
	}
	c.Bus.Publish(typ, session, data)
}

// tailJoin joins the last n lines (or all, if fewer) with newlines.
func tailJoin(lines []string, n int) string {
	if n <= 0 || n >= len(lines) {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
