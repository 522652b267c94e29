package logging

import (
	"strings"
	"unicode"
)

// DefaultSanitizeLimit is the length Sanitize truncates to.
const DefaultSanitizeLimit = 200

// Sanitize makes caller-supplied text (model names, URLs, paths) safe to put
// in a log line: line breaks and tabs are escaped, other control and
// non-printable runes become '?', and the result is truncated to
// DefaultSanitizeLimit runes.
func Sanitize(s string) string {
	return SanitizeN(s, DefaultSanitizeLimit)
}

// SanitizeN is Sanitize with an explicit limit. A limit <= 0 disables
// truncation.
func SanitizeN(s string, limit int) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	written := 0
	for _, r := range s {
		if limit > 0 && written >= limit {
			b.WriteString("...[truncated]")
			break
		}
		switch {
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\\':
			b.WriteString(`\\`)
		case unicode.IsControl(r), !unicode.IsPrint(r):
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
		written++
	}
	return b.String()
}
