// Package ansiutil strips ANSI SGR escape sequences for pattern
// matching while leaving the original coloured bytes untouched
// wherever the caller keeps a separate copy.
package ansiutil

import "github.com/charmbracelet/x/ansi"

// Strip removes ANSI escape sequences from s. The errorformat adapter
// calls this on each line before running the recipe's anchor pattern
// against it, then keeps the original (unstripped) line for the
// block's Content field so colour survives into the finder.
func Strip(s string) string {
	return ansi.Strip(s)
}
