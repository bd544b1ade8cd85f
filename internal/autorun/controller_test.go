package autorun

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonhardwick-spec/wrangler/internal/capture"
	"github.com/jonhardwick-spec/wrangler/internal/muxdriver/faketmux"
	"github.com/jonhardwick-spec/wrangler/internal/session"
)

// fakeCapture is a scripted Capture: GetContent returns whatever
// SetLines last set, and the test can react to sent input/keys by
// calling SetLines again before the next tick.
type fakeCapture struct {
	mu    sync.Mutex
	lines []string
	sent  []string
	keys  []string

	// onSend, if set, is called after each SendInput with the text,
	// letting a test script the screen's next state.
	onSend func(text string)
}

func (f *fakeCapture) Start(ctx context.Context, name string) error { return nil }

func (f *fakeCapture) GetContent(ctx context.Context, n int) (capture.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return capture.Content{Lines: append([]string(nil), f.lines...)}, nil
}

func (f *fakeCapture) SendInput(ctx context.Context, text string, pressEnter bool) bool {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	cb := f.onSend
	f.mu.Unlock()
	if cb != nil {
		cb(text)
	}
	return true
}

func (f *fakeCapture) SendKey(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, name)
	return true, nil
}

func (f *fakeCapture) SetLines(lines []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = lines
}

func (f *fakeCapture) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func (f *fakeCapture) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestController(t *testing.T, cap Capture) (*Controller, *faketmux.Driver) {
	t.Helper()
	driver := faketmux.New()
	sup := session.New(driver, nil)
	c := New(driver, sup, cap, nil, nil)
	c.Config.PollInterval = 5 * time.Millisecond
	c.Config.PromptCooldown = 5 * time.Millisecond
	return c, driver
}

func TestControllerHappyPathCompletion(t *testing.T) {
	fc := &fakeCapture{lines: []string{"working on it"}}
	fc.onSend = func(text string) {
		// First send is the augmented initial prompt; mark completion
		// after that so the loop's first tick observes it.
		fc.SetLines([]string{"working on it", "completed completed completed: done"})
	}
	c, _ := newTestController(t, fc)

	rep, err := c.Run(context.Background(), "/tmp/proj", "Do X", time.Minute)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.ExitReason != ExitCompleted {
		t.Fatalf("ExitReason = %q, want completed", rep.ExitReason)
	}
	if !rep.CompletedSuccessfully {
		t.Fatal("CompletedSuccessfully = false")
	}
}

func TestControllerPermissionAutoAccept(t *testing.T) {
	fc := &fakeCapture{lines: []string{"Allow edit? [yes] [no]"}}
	tickCount := 0
	fc.onSend = func(text string) {}
	c, _ := newTestController(t, fc)

	// Clear the permission prompt after the controller has acted on it
	// once, so the run proceeds to time_limit rather than looping.
	go func() {
		for {
			time.Sleep(20 * time.Millisecond)
			if len(fc.Keys()) > 0 {
				tickCount++
				fc.SetLines([]string{"proceeding"})
				return
			}
		}
	}()

	rep, err := c.Run(context.Background(), "/tmp/proj2", "Do Y", 150*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.PermissionsHandled < 1 {
		t.Fatalf("PermissionsHandled = %d, want >= 1", rep.PermissionsHandled)
	}
	keys := fc.Keys()
	if len(keys) < 2 || keys[0] != "down" || keys[1] != "enter" {
		t.Fatalf("keys = %v, want [down enter ...]", keys)
	}
	if rep.ExitReason != ExitTimeLimit {
		t.Fatalf("ExitReason = %q, want time_limit", rep.ExitReason)
	}
}

func TestControllerZeroDeadlineExitsImmediately(t *testing.T) {
	fc := &fakeCapture{lines: []string{"anything"}}
	c, _ := newTestController(t, fc)

	rep, err := c.Run(context.Background(), "/tmp/proj3", "Do Z", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.ExitReason != ExitTimeLimit {
		t.Fatalf("ExitReason = %q, want time_limit", rep.ExitReason)
	}
	if rep.Reinforcements != 0 {
		t.Fatalf("Reinforcements = %d, want 0", rep.Reinforcements)
	}
	sent := fc.Sent()
	if len(sent) != 1 {
		t.Fatalf("Sent = %v, want exactly the initial prompt", sent)
	}
}

func TestControllerSessionTerminatedExitsLoop(t *testing.T) {
	fc := &fakeCapture{lines: []string{"running"}}
	c, driver := newTestController(t, fc)

	go func() {
		time.Sleep(30 * time.Millisecond)
		driver.KillExternally(session.Name("/tmp/proj4", session.RoleAgent))
	}()

	rep, err := c.Run(context.Background(), "/tmp/proj4", "Do W", 2*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.ExitReason != ExitSessionTerminated {
		t.Fatalf("ExitReason = %q, want session_terminated", rep.ExitReason)
	}
}

func TestControllerExitsAfterMaxReinforcements(t *testing.T) {
	fc := &fakeCapture{lines: []string{"still working, nothing new to report"}}
	c, _ := newTestController(t, fc)
	c.Config.ReinforceAfter = 20 * time.Millisecond
	c.Config.MaxReinforcements = 2

	rep, err := c.Run(context.Background(), "/tmp/proj5", "Do V", 2*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.ExitReason != ExitMaxReinforcements {
		t.Fatalf("ExitReason = %q, want max_reinforcements", rep.ExitReason)
	}
	if rep.Reinforcements != c.Config.MaxReinforcements {
		t.Fatalf("Reinforcements = %d, want %d", rep.Reinforcements, c.Config.MaxReinforcements)
	}
}

func TestStuckRulesDoNotMatchCompletionSentinel(t *testing.T) {
	// FindFirst returns the first matching rule in table order; this
	// just pins down that stuck rules don't accidentally also match
	// the completion sentinel text.
	id, ok := FindFirst(defaultStuckRules, "completed completed completed")
	if ok {
		t.Fatalf("stuck rule %q unexpectedly matched the completion sentinel", id)
	}
}
