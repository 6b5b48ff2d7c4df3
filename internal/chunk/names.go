package chunk

import (
	"fmt"
	"strings"
	"unicode"
)

// Sanitize makes name safe for use in a file name: every rune that is not a
// letter, digit, space or underscore is dropped and trailing whitespace is
// trimmed.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == ' ' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.TrimRightFunc(b.String(), unicode.IsSpace)
}

// FileName returns the identifier for one part:
//
//	"<source> - <sheet> - part_<n>.txt"
//
// source is the source name without its extension. Both names are sanitized.
func FileName(source, sheet string, part int) string {
	return fmt.Sprintf("%s - %s - part_%d.txt", Sanitize(source), Sanitize(sheet), part)
}

// DefaultHeader returns the header used for converted spreadsheets:
//
//	# Data from <source>
//	## Sheet: <sheet> (Part <n>)
//
// followed by a blank line.
func DefaultHeader(source, sheet string) HeaderFunc {
	return func(part int) string {
		return fmt.Sprintf("# Data from %s\n## Sheet: %s (Part %d)\n\n", source, sheet, part)
	}
}
