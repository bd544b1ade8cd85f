package capture

import "strings"

// shellQuoteText escapes text for delivery through the multiplexer's
// "stuff"-style input injection as a standard single-quoted shell
// literal, so embedded backslashes, double quotes, dollar signs, and
// backticks survive verbatim. Embedded single quotes are handled with
// the classic '\'' pattern: close the quote, emit an escaped quote,
// reopen.
func ShellQuoteText(s string) string { return shellQuoteText(s) }

func shellQuoteText(s string) string {
	if s == "" {
		return "''"
	}
	var b strings.Builder
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			b.WriteString(`'\''`)
			continue
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('\'')
	return b.String()
}

// dollarQuoteBytes encodes an arbitrary byte sequence as a $'...'
// ANSI-C-quoted shell literal, so control bytes (as produced by
// keyBytesFor) are delivered to the session verbatim regardless of
// what the multiplexer's own argument parsing would otherwise mangle.
// Printable ASCII outside the small escape set passes through
// unchanged; everything else is emitted as an octal escape.
func dollarQuoteBytes(b []byte) string {
	var out strings.Builder
	out.WriteString("$'")
	for _, c := range b {
		switch c {
		case '\'':
			out.WriteString(`\'`)
		case '\\':
			out.WriteString(`\\`)
		case '\n':
			out.WriteString(`\n`)
		case '\r':
			out.WriteString(`\r`)
		case '\t':
			out.WriteString(`\t`)
		default:
			if c >= 0x20 && c < 0x7f {
				out.WriteByte(c)
			} else {
				out.WriteString(octalEscape(c))
			}
		}
	}
	out.WriteString("'")
	return out.String()
}

func octalEscape(b byte) string {
	const digits = "01234567"
	return "\\" + string(digits[(b>>6)&7]) + string(digits[(b>>3)&7]) + string(digits[b&7])
}
