package capture

// keyBytes maps the closed set of key names accepted by SendKey (spec
// §6) to the literal byte sequence a terminal would receive for that
// keypress. Function keys use their standard xterm CSI/SS3 encodings.
var keyBytes = map[string][]byte{
	"enter":      {0x0d},
	"tab":        {0x09},
	"backspace":  {0x7f},
	"ctrl-c":     {0x03},
	"ctrl-d":     {0x04},
	"ctrl-z":     {0x1a},
	"ctrl-l":     {0x0c},
	"ctrl-a":     {0x01},
	"ctrl-e":     {0x05},
	"ctrl-u":     {0x15},
	"ctrl-k":     {0x0b},
	"ctrl-w":     {0x17},
	"esc":        {0x1b},
	"up":         []byte("\x1b[A"),
	"down":       []byte("\x1b[B"),
	"right":      []byte("\x1b[C"),
	"left":       []byte("\x1b[D"),
	"home":       []byte("\x1b[H"),
	"end":        []byte("\x1b[F"),
	"delete":     []byte("\x1b[3~"),
	"page-up":    []byte("\x1b[5~"),
	"page-down":  []byte("\x1b[6~"),
	"shift-tab":  []byte("\x1b[Z"),
	"insert":     []byte("\x1b[2~"),
	"f1":         []byte("\x1bOP"),
	"f2":         []byte("\x1bOQ"),
	"f3":         []byte("\x1bOR"),
	"f4":         []byte("\x1bOS"),
	"f5":         []byte("\x1b[15~"),
	"f6":         []byte("\x1b[17~"),
	"f7":         []byte("\x1b[18~"),
	"f8":         []byte("\x1b[19~"),
	"f9":         []byte("\x1b[20~"),
	"f10":        []byte("\x1b[21~"),
	"f11":        []byte("\x1b[23~"),
	"f12":        []byte("\x1b[24~"),
}

// keyBytesFor returns the byte sequence for a SendKey name, or
// ErrUnknownKey if name is outside the closed set.
func keyBytesFor(name string) ([]byte, error) {
	b, ok := keyBytes[name]
	if !ok {
		return nil, ErrUnknownKey
	}
	return b, nil
}
