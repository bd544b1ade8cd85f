package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/jonhardwick-spec/wrangler/internal/events"
	"github.com/jonhardwick-spec/wrangler/internal/muxdriver"
	"github.com/jonhardwick-spec/wrangler/internal/ring"
)

const (
	attachCols = 220
	attachRows = 60

	defaultPollInterval   = 2 * time.Second
	defaultLivenessPeriod = 5 * time.Second
	logToggleWindow       = 100 * time.Millisecond
	defaultRingCapacity   = 20000
)

// Capture is the live-capture component. A Capture instance is bound
// to at most one session at a time; exactly one capture method is
// active at any instant.
type Capture struct {
	driver muxdriver.Driver
	bus    *events.Bus
	log    *slog.Logger
	tmpDir string

	mu           sync.Mutex
	sessionName  string
	method       Method
	paused       bool
	captureCount int
	errorCount   int
	lastCapture  time.Time

	buf *ring.Buffer
	vt  *vterm

	ptyCmd *exec.Cmd
	ptmx   *os.File

	pollInterval   time.Duration
	livenessPeriod time.Duration

	stopPoll     chan struct{}
	stopLiveness chan struct{}
	wg           sync.WaitGroup

	destroyed bool
}

// Option configures a new Capture.
type Option func(*Capture)

// WithPollInterval overrides the snapshot poll interval (default 2s).
func WithPollInterval(d time.Duration) Option { return func(c *Capture) { c.pollInterval = d } }

// WithLivenessPeriod overrides the session-liveness check period (default 5s).
func WithLivenessPeriod(d time.Duration) Option {
	return func(c *Capture) { c.livenessPeriod = d }
}

// New constructs a Capture. bus may be nil to disable event emission.
func New(driver muxdriver.Driver, bus *events.Bus, log *slog.Logger, opts ...Option) *Capture {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Capture{
		driver:         driver,
		bus:            bus,
		log:            log,
		tmpDir:         muxdriver.TmpfsDir(),
		buf:            ring.New(defaultRingCapacity),
		method:         MethodNone,
		pollInterval:   defaultPollInterval,
		livenessPeriod: defaultLivenessPeriod,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start binds the capture to session and attempts PTY attach, falling
// back to periodic snapshot if the PTY can't be attached.
func (c *Capture) Start(ctx context.Context, sessionName string) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return fmt.Errorf("capture: destroyed")
	}
	c.sessionName = sessionName
	c.buf.Clear()
	c.mu.Unlock()

	c.startLiveness()

	if err := c.tryPTY(ctx, sessionName); err != nil {
		c.log.Warn("pty attach failed, falling back to snapshot", "session", sessionName, "err", err)
		c.startSnapshot(ctx)
		return nil
	}
	return nil
}

func (c *Capture) tryPTY(ctx context.Context, sessionName string) error {
	if !c.driver.Installed() {
		return fmt.Errorf("capture: multiplexer not installed")
	}
	args := c.driver.AttachArgs(sessionName, attachCols, attachRows)
	cmd := exec.CommandContext(context.Background(), c.driver.Bin(), args...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: attachCols, Rows: attachRows})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.ptyCmd = cmd
	c.ptmx = ptmx
	c.method = MethodPTY
	c.vt = newVTerm(attachCols, attachRows, func(line string) {
		c.buf.Push(line)
	})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readPTY(ptmx)

	c.emit(events.TypeCaptureData, sessionName, "pty attached")
	return nil
}

func (c *Capture) readPTY(ptmx *os.File) {
	defer c.wg.Done()
	c.mu.Lock()
	session := c.sessionName
	c.mu.Unlock()

	buf := make([]byte, 32*1024)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			c.mu.Lock()
			if c.vt != nil {
				c.vt.Write(buf[:n])
			}
			c.buf.AppendData(buf[:n])
			c.captureCount++
			c.lastCapture = time.Now()
			c.mu.Unlock()
			c.emit(events.TypeCaptureData, session, nil)
		}
		if err != nil {
			c.mu.Lock()
			wasDestroyed := c.destroyed
			c.method = MethodSnapshot
			c.mu.Unlock()
			if !wasDestroyed {
				c.log.Warn("pty exited, falling back to snapshot", "session", session, "err", err)
				c.emit(events.TypeCaptureError, session, "PtyExited")
				c.startSnapshot(context.Background())
			}
			return
		}
	}
}

func (c *Capture) startSnapshot(ctx context.Context) {
	c.mu.Lock()
	if c.method != MethodPTY {
		c.method = MethodSnapshot
	}
	c.mu.Unlock()

	c.stopPoll = make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopPoll:
				return
			case <-ticker.C:
				c.mu.Lock()
				paused := c.paused
				c.mu.Unlock()
				if paused {
					continue
				}
				_ = c.captureSnapshot(ctx)
			}
		}
	}()
}

func (c *Capture) captureSnapshot(ctx context.Context) error {
	c.mu.Lock()
	name := c.sessionName
	c.mu.Unlock()
	if name == "" {
		return fmt.Errorf("capture: no session bound")
	}

	dest := filepath.Join(c.tmpDir, fmt.Sprintf("wrangler-snap-%d-%s", os.Getpid(), uuid.NewString()))
	defer os.Remove(dest)

	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.driver.Snapshot(cctx, name, dest, true); err != nil {
		c.mu.Lock()
		c.errorCount++
		c.mu.Unlock()
		c.emit(events.TypeCaptureError, name, err.Error())
		return c.logToggleFallback(cctx, name)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		c.mu.Lock()
		c.errorCount++
		c.mu.Unlock()
		return err
	}

	clean := stripC0(data)
	c.mu.Lock()
	c.buf.Clear()
	c.buf.AppendData(clean)
	c.buf.Flush()
	c.captureCount++
	c.lastCapture = time.Now()
	c.mu.Unlock()
	c.emit(events.TypeCaptureData, name, nil)
	return nil
}

// logToggleFallback is the last-resort capture method: enable logging
// briefly, read the log, disable it, unlink it.
func (c *Capture) logToggleFallback(ctx context.Context, name string) error {
	c.mu.Lock()
	c.method = MethodLogToggle
	c.mu.Unlock()

	logPath := filepath.Join(c.tmpDir, fmt.Sprintf("wrangler-log-%d-%s.log", os.Getpid(), uuid.NewString()))
	if err := c.driver.SetLog(ctx, name, true, logPath); err != nil {
		c.mu.Lock()
		c.errorCount++
		c.mu.Unlock()
		return err
	}
	time.Sleep(logToggleWindow)
	_ = c.driver.SetLog(ctx, name, false, logPath)
	defer os.Remove(logPath)

	data, err := os.ReadFile(logPath)
	if err != nil {
		return err
	}
	clean := stripC0(data)
	c.mu.Lock()
	c.buf.AppendData(clean)
	c.buf.Flush()
	c.captureCount++
	c.lastCapture = time.Now()
	c.mu.Unlock()
	return nil
}

// stripC0 removes C0 control bytes except ESC (0x1B). ANSI escape
// sequences must survive byte-for-byte since downstream rendering
// depends on them; other C0 control bytes are filtered on the
// snapshot/log paths only, where there's no terminal emulator to
// interpret them safely.
func stripC0(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		switch {
		case b == 0x1b:
			out = append(out, b)
		case b == '\n', b == '\r', b == '\t':
			out = append(out, b)
		case b <= 0x08, b >= 0x0B && b <= 0x0C, b >= 0x0E && b <= 0x1F, b == 0x7F:
			continue
		default:
			out = append(out, b)
		}
	}
	return out
}

func (c *Capture) startLiveness() {
	c.stopLiveness = make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.livenessPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopLiveness:
				return
			case <-ticker.C:
				c.mu.Lock()
				name := c.sessionName
				c.mu.Unlock()
				if name == "" {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				ok, err := c.driver.Exists(ctx, name)
				cancel()
				if err == nil && !ok {
					c.emit(events.TypeCaptureSessionDead, name, nil)
					c.Stop()
					return
				}
			}
		}
	}()
}

// Stop cancels timers, kills any PTY child, and keeps the buffer
// intact. Idempotent.
func (c *Capture) Stop() {
	c.mu.Lock()
	if c.method == MethodNone && c.ptmx == nil {
		c.mu.Unlock()
		return
	}
	ptmx := c.ptmx
	cmd := c.ptyCmd
	c.ptmx = nil
	c.ptyCmd = nil
	stopPoll := c.stopPoll
	c.stopPoll = nil
	stopLiveness := c.stopLiveness
	c.stopLiveness = nil
	c.method = MethodNone
	c.mu.Unlock()

	if stopPoll != nil {
		close(stopPoll)
	}
	if stopLiveness != nil {
		close(stopLiveness)
	}
	if ptmx != nil {
		ptmx.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// GetContent returns the last n lines (or all, if n<=0) plus method
// and freshness stats. In snapshot method, a stale buffer triggers an
// on-demand capture before returning.
func (c *Capture) GetContent(ctx context.Context, n int) (Content, error) {
	c.mu.Lock()
	method := c.method
	stale := method == MethodSnapshot && time.Since(c.lastCapture) > 2*c.pollInterval
	c.mu.Unlock()

	if stale {
		_ = c.captureSnapshot(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var lines []string
	if n > 0 {
		lines = c.buf.GetLast(n)
	} else {
		lines = c.buf.GetAll()
	}
	return Content{
		Lines:      lines,
		Method:     c.method,
		LastUpdate: c.lastCapture,
		Stats:      c.buf.Stats(),
	}, nil
}

// SendInput injects text (optionally followed by Enter) into the
// bound session. The driver delivers text as a literal argv element,
// so no shell escaping is needed here; shellQuoteText exists for
// callers that must fold the same text into a shell command line (the
// CLI's "session send" path).
func (c *Capture) SendInput(ctx context.Context, text string, pressEnter bool) bool {
	c.mu.Lock()
	name := c.sessionName
	c.mu.Unlock()
	if name == "" {
		return false
	}
	if err := c.driver.Send(ctx, name, text, pressEnter); err != nil {
		c.log.Warn("send input failed", "session", name, "err", err)
		return false
	}
	return true
}

// SendKey injects one of the closed set of named keys.
func (c *Capture) SendKey(ctx context.Context, name string) (bool, error) {
	seq, err := keyBytesFor(name)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	sessionName := c.sessionName
	c.mu.Unlock()
	if sessionName == "" {
		return false, ErrNoSession
	}
	literal := dollarQuoteBytes(seq)
	if err := c.driver.SendKeys(ctx, sessionName, literal); err != nil {
		return false, err
	}
	return true, nil
}

// SwitchSession stops the current capture, clears the buffer, rebinds
// to newName, and restarts capture.
func (c *Capture) SwitchSession(ctx context.Context, newName string) error {
	c.Stop()
	c.mu.Lock()
	c.buf.Clear()
	c.mu.Unlock()
	return c.Start(ctx, newName)
}

// Pause stops snapshot polling; the PTY stream is unaffected.
func (c *Capture) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume re-enables snapshot polling.
func (c *Capture) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Destroy is terminal: the instance must not be reused afterward.
func (c *Capture) Destroy() {
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
	c.Stop()
	c.wg.Wait()
	c.mu.Lock()
	if c.vt != nil {
		c.vt.Close()
		c.vt = nil
	}
	c.mu.Unlock()
}

// State returns the current CaptureState snapshot.
func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		SessionName:     c.sessionName,
		Method:          c.method,
		Paused:          c.paused,
		CaptureCount:    c.captureCount,
		ErrorCount:      c.errorCount,
		LastCaptureTime: c.lastCapture,
	}
}

// SnapshotTail captures the last n lines of name's current screen plus
// scrollback without requiring a bound/live Capture, satisfying
// session.Snapshotter for the progress-dump path.
func (c *Capture) SnapshotTail(ctx context.Context, name string, n int) (string, error) {
	dest := filepath.Join(c.tmpDir, fmt.Sprintf("wrangler-dump-%d-%s", os.Getpid(), uuid.NewString()))
	defer os.Remove(dest)
	if err := c.driver.Snapshot(ctx, name, dest, true); err != nil {
		return "", err
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		return "", err
	}
	clean := stripC0(data)
	buf := ring.New(n)
	buf.AppendData(clean)
	buf.Flush()
	lines := buf.GetLast(n)
	var out bytes.Buffer
	for _, l := range lines {
		out.WriteString(l)
		out.WriteByte('\n')
	}
	return out.String(), nil
}

func (c *Capture) emit(typ events.Type, session string, data any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(typ, session, data)
}
