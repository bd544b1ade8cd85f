package capture

import (
	"context"
	"testing"
	"time"

	"github.com/jonhardwick-spec/wrangler/internal/events"
	"github.com/jonhardwick-spec/wrangler/internal/muxdriver/faketmux"
)

// waitFor polls cond until it returns true or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestCaptureFallsBackToSnapshotWhenPTYUnavailable(t *testing.T) {
	driver := faketmux.New()
	_ = driver.Spawn(context.Background(), "proj-main", "bash", 5000)
	driver.SetScreen("proj-main", []byte("hello world\x1b[31mred\x1b[0m\n"))

	c := New(driver, nil, nil, WithPollInterval(30*time.Millisecond), WithLivenessPeriod(time.Hour))
	defer c.Destroy()

	if err := c.Start(context.Background(), "proj-main"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The fake driver's Bin() is "true", so the PTY child exits at once
	// and the capture falls back to snapshot polling.
	waitFor(t, 2*time.Second, func() bool {
		content, err := c.GetContent(context.Background(), 0)
		if err != nil {
			return false
		}
		for _, l := range content.Lines {
			if l != "" {
				return true
			}
		}
		return false
	})

	content, err := c.GetContent(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	found := false
	for _, l := range content.Lines {
		if l == "hello world\x1b[31mred\x1b[0m" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ANSI-preserved line in %v", content.Lines)
	}
}

func TestCaptureSendInputAndSendKey(t *testing.T) {
	driver := faketmux.New()
	_ = driver.Spawn(context.Background(), "proj-main", "bash", 5000)
	driver.SetScreen("proj-main", []byte("ready\n"))

	c := New(driver, nil, nil, WithLivenessPeriod(time.Hour))
	defer c.Destroy()
	if err := c.Start(context.Background(), "proj-main"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !c.SendInput(context.Background(), "echo hi", true) {
		t.Fatal("SendInput returned false")
	}
	sent := driver.SentText("proj-main")
	if len(sent) != 1 || sent[0] != "echo hi" {
		t.Fatalf("SentText = %v, want [\"echo hi\"]", sent)
	}

	ok, err := c.SendKey(context.Background(), "ctrl-c")
	if err != nil || !ok {
		t.Fatalf("SendKey(ctrl-c) = %v, %v", ok, err)
	}
	keys := driver.SentKeys("proj-main")
	if len(keys) != 1 {
		t.Fatalf("SentKeys = %v, want 1 entry", keys)
	}

	if _, err := c.SendKey(context.Background(), "not-a-key"); err != ErrUnknownKey {
		t.Fatalf("SendKey(unknown) err = %v, want ErrUnknownKey", err)
	}
}

func TestCaptureSendInputWithoutSessionFails(t *testing.T) {
	c := New(faketmux.New(), nil, nil, WithLivenessPeriod(time.Hour))
	defer c.Destroy()
	if c.SendInput(context.Background(), "x", true) {
		t.Fatal("SendInput should fail with no bound session")
	}
	if _, err := c.SendKey(context.Background(), "enter"); err != ErrNoSession {
		t.Fatalf("SendKey err = %v, want ErrNoSession", err)
	}
}

func TestCaptureEmitsSessionDeadOnLivenessCheck(t *testing.T) {
	driver := faketmux.New()
	_ = driver.Spawn(context.Background(), "proj-main", "bash", 5000)
	driver.SetScreen("proj-main", []byte("x\n"))

	bus := events.New(16)
	defer bus.Stop()
	sub := bus.Subscribe()
	defer sub.Close()

	c := New(driver, bus, nil, WithPollInterval(20*time.Millisecond), WithLivenessPeriod(30*time.Millisecond))
	defer c.Destroy()
	if err := c.Start(context.Background(), "proj-main"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	driver.KillExternally("proj-main")

	select {
	case ev := <-sub.Events():
		for ev.Type != events.TypeCaptureSessionDead {
			ev = <-sub.Events()
		}
		if ev.Session != "proj-main" {
			t.Fatalf("event session = %q, want proj-main", ev.Session)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sessionDead event")
	}
}

func TestCaptureStopIsIdempotent(t *testing.T) {
	driver := faketmux.New()
	_ = driver.Spawn(context.Background(), "proj-main", "bash", 5000)
	c := New(driver, nil, nil, WithLivenessPeriod(time.Hour))
	if err := c.Start(context.Background(), "proj-main"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Stop()
	c.Stop()
	c.Destroy()
}

func TestCapturePauseStopsSnapshotPolling(t *testing.T) {
	driver := faketmux.New()
	_ = driver.Spawn(context.Background(), "proj-main", "bash", 5000)
	driver.SetScreen("proj-main", []byte("v1\n"))

	c := New(driver, nil, nil, WithPollInterval(15*time.Millisecond), WithLivenessPeriod(time.Hour))
	defer c.Destroy()
	if err := c.Start(context.Background(), "proj-main"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		st := c.State()
		return st.CaptureCount > 0
	})

	c.Pause()
	before := c.State().CaptureCount
	time.Sleep(100 * time.Millisecond)
	after := c.State().CaptureCount
	if after != before {
		t.Fatalf("capture count advanced while paused: %d -> %d", before, after)
	}
	c.Resume()
}
