package core

import "strings"

// Truncate trims s and shortens it to max runes, appending an ellipsis when
// it cut anything. A non-positive max leaves s whole.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max])) + "…"
}
