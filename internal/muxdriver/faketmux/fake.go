// Package faketmux is an in-memory Driver used by capture/session/autorun
// tests so they never spawn a real tmux process.
package faketmux

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonhardwick-spec/wrangler/internal/muxdriver"
)

type session struct {
	name       string
	pid        int
	created    time.Time
	attached   bool
	screen     []byte
	logging    bool
	logPath    string
	sentText   []string
	sentKeys   []string
}

// Driver is a deterministic, in-process stand-in for Tmux.
type Driver struct {
	mu        sync.Mutex
	installed bool
	sessions  map[string]*session
	nextPID   int

	// FailSpawn, when set, makes Spawn return this error.
	FailSpawn error
	// ScreenContent is written verbatim by Snapshot for any session.
	ScreenContent []byte
}

// New returns a Driver that reports itself as installed.
func New() *Driver {
	return &Driver{
		installed: true,
		sessions:  make(map[string]*session),
		nextPID:   1000,
	}
}

func (d *Driver) Installed() bool { return d.installed }

// SetInstalled lets tests simulate a missing multiplexer binary.
func (d *Driver) SetInstalled(v bool) { d.installed = v }

func (d *Driver) List(ctx context.Context) ([]muxdriver.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []muxdriver.Record
	for _, s := range d.sessions {
		st := muxdriver.StateDetached
		if s.attached {
			st = muxdriver.StateAttached
		}
		out = append(out, muxdriver.Record{Name: s.name, PID: s.pid, Date: s.created, State: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (d *Driver) Exists(ctx context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.sessions[name]
	return ok, nil
}

func (d *Driver) Spawn(ctx context.Context, name, shellCmd string, scrollbackLines int) error {
	if d.FailSpawn != nil {
		return d.FailSpawn
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[name]; ok {
		return fmt.Errorf("duplicate session: %s", name)
	}
	d.nextPID++
	d.sessions[name] = &session{
		name:    name,
		pid:     d.nextPID,
		created: time.Now(),
	}
	return nil
}

func (d *Driver) Send(ctx context.Context, name, text string, pressEnter bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[name]
	if !ok {
		return fmt.Errorf("no such session: %s", name)
	}
	s.sentText = append(s.sentText, text)
	return nil
}

func (d *Driver) SendKeys(ctx context.Context, name, literal string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[name]
	if !ok {
		return fmt.Errorf("no such session: %s", name)
	}
	s.sentKeys = append(s.sentKeys, literal)
	return nil
}

func (d *Driver) Snapshot(ctx context.Context, name, destPath string, withScrollback bool) error {
	d.mu.Lock()
	content := d.ScreenContent
	s, ok := d.sessions[name]
	if ok && s.screen != nil {
		content = s.screen
	}
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such session: %s", name)
	}
	return writeFile(destPath, content)
}

func (d *Driver) SetLog(ctx context.Context, name string, on bool, logPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[name]
	if !ok {
		return fmt.Errorf("no such session: %s", name)
	}
	s.logging = on
	s.logPath = logPath
	return nil
}

func (d *Driver) Kill(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, name)
	return nil
}

func (d *Driver) AttachArgs(name string, cols, rows int) []string {
	return []string{"fake-attach", name}
}

func (d *Driver) Bin() string { return "true" }

// SetScreen sets the byte content a subsequent Snapshot of name returns.
func (d *Driver) SetScreen(name string, content []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[name]; ok {
		s.screen = content
	}
}

// SentText returns the text Send delivered to name, in order.
func (d *Driver) SentText(name string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[name]; ok {
		return append([]string(nil), s.sentText...)
	}
	return nil
}

// SentKeys returns the key literals SendKeys delivered to name, in order.
func (d *Driver) SentKeys(name string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[name]; ok {
		return append([]string(nil), s.sentKeys...)
	}
	return nil
}

// KillExternally simulates the host killing a session out from under
// the supervisor, taking it straight from running to absent.
func (d *Driver) KillExternally(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, name)
}
