package capture

import (
	"fmt"
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// defaultScrollbackLines bounds the vterm's own scrollback ring,
// independent of the ring.Buffer the caller feeds rendered lines into.
const defaultScrollbackLines = 50000

// vterm renders PTY bytes through a headless terminal emulator so the
// ANSI-bearing scrollback it produces is exactly what a real terminal
// would have shown, including wide-character and SGR handling. Lines
// scrolled off the top are captured via the ScrollOut callback and fed
// to onLine in arrival order. All methods are thread-safe.
type vterm struct {
	emu    *vt.Emulator
	onLine func(line string)

	mu           sync.Mutex
	altScreen    bool
	cursorHidden bool
	cols, rows   int
}

func newVTerm(cols, rows int, onLine func(line string)) *vterm {
	v := &vterm{
		emu:    vt.NewEmulator(cols, rows),
		onLine: onLine,
		cols:   cols,
		rows:   rows,
	}
	v.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if v.altScreen || v.onLine == nil {
				return
			}
			for _, line := range lines {
				v.onLine(line.Render())
			}
		},
		AltScreen: func(on bool) {
			v.altScreen = on
		},
		CursorVisibility: func(visible bool) {
			v.cursorHidden = !visible
		},
	})
	return v
}

// Write feeds raw PTY output into the emulator.
func (v *vterm) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.emu.Write(p)
}

// Resize changes the terminal dimensions.
func (v *vterm) Resize(cols, rows int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.emu.Resize(cols, rows)
	v.cols, v.rows = cols, rows
}

// Redraw renders the current on-screen grid (not scrollback) as a
// single ANSI byte stream, cursor position and visibility restored.
func (v *vterm) Redraw() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	var buf strings.Builder
	buf.WriteString("\x1b[m\x1b[H")
	buf.WriteString(v.emu.Render())
	pos := v.emu.CursorPosition()
	fmt.Fprintf(&buf, "\x1b[%d;%dH", pos.Y+1, pos.X+1)
	if v.cursorHidden {
		buf.WriteString("\x1b[?25l")
	} else {
		buf.WriteString("\x1b[?25h")
	}
	return []byte(buf.String())
}

// Close releases the emulator's resources.
func (v *vterm) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.emu.Close()
}
