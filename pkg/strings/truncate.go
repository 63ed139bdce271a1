// Package strings holds small text helpers for terminal output.
package strings

import (
	"strings"
)

// DefaultValueMaxLen is the width claim values are cut to in table output.
const DefaultValueMaxLen = 80

// minTruncateLen leaves room for one character plus "...".
const minTruncateLen = 4

// Truncate collapses s onto a single line and shortens it to maxLen runes,
// ending in "..." when cut.
func Truncate(s string, maxLen int) string {
	if maxLen < minTruncateLen {
		maxLen = minTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
