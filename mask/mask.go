// Package mask redacts session identifiers for logs and traces.
package mask

import "strings"

// DefaultVisible is the number of trailing characters left readable.
const DefaultVisible = 4

// Last replaces every rune of s except the final n with '*'.
// When s has n or fewer runes the whole value is masked; n <= 0 masks everything.
func Last(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return strings.Repeat("*", len(r))
	}
	keep := len(r) - n
	return strings.Repeat("*", keep) + string(r[keep:])
}

// ID masks s with DefaultVisible trailing characters.
func ID(s string) string { return Last(s, DefaultVisible) }
