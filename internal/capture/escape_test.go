package capture

import (
	"strings"
	"testing"
)

func TestShellQuoteTextSurvivesSpecialChars(t *testing.T) {
	cases := []string{
		`back\slash`,
		`"double quotes"`,
		`$dollar sign`,
		"`backtick`",
		`it's a test`,
		``,
		`mix: \ " $ ` + "`" + ` '`,
	}
	for _, in := range cases {
		quoted := shellQuoteText(in)
		if !strings.HasPrefix(quoted, "'") {
			t.Errorf("shellQuoteText(%q) = %q, want leading quote", in, quoted)
		}
	}
}

func TestDollarQuoteBytesRoundTripsControlBytes(t *testing.T) {
	in := []byte{0x1b, 0x00, 0x01, 'a', 0x7f}
	out := dollarQuoteBytes(in)
	if !strings.HasPrefix(out, "$'") || !strings.HasSuffix(out, "'") {
		t.Fatalf("dollarQuoteBytes() = %q, want $'...' literal", out)
	}
	// ESC (0x1b) must appear as an octal escape, never a raw byte or a
	// symbolic name, since the literal travels through shell parsing.
	if !strings.Contains(out, `\033`) {
		t.Fatalf("expected octal escape for ESC, got %q", out)
	}
}

func TestDollarQuoteBytesEscapesSingleQuoteAndBackslash(t *testing.T) {
	out := dollarQuoteBytes([]byte{'\'', '\\'})
	if !strings.Contains(out, `\'`) {
		t.Fatalf("expected escaped single quote in %q", out)
	}
	if !strings.Contains(out, `\\`) {
		t.Fatalf("expected escaped backslash in %q", out)
	}
}

func TestOctalEscapeAllBytes(t *testing.T) {
	for b := 0; b < 256; b++ {
		esc := octalEscape(byte(b))
		if len(esc) != 4 || esc[0] != '\\' {
			t.Fatalf("octalEscape(%d) = %q, malformed", b, esc)
		}
	}
}
