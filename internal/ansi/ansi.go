// Package ansi strips terminal control sequences from mux-captured
// scrollback so provider strategies classify plain text, never VT state.
package ansi

import (
	"regexp"
	"strings"
)

var (
	// csiPattern matches CSI sequences: ESC [ ... final-byte.
	csiPattern = regexp.MustCompile("\x1b\\[[0-9;?]*[a-zA-Z]")
	// oscPattern matches OSC sequences: ESC ] ... BEL or ESC \.
	oscPattern = regexp.MustCompile("\x1b\\][^\x07\x1b]*(\x07|\x1b\\\\)")
	// charsetPattern matches character-set selection: ESC ( X or ESC ) X.
	charsetPattern = regexp.MustCompile("\x1b[()][0-9A-Za-z]")
	// twoCharPattern matches remaining two-character ESC sequences.
	twoCharPattern = regexp.MustCompile("\x1b[0-9A-Za-z=>]")
)

// nonBreakingSpace is U+00A0, what spinner/progress UIs sometimes emit in
// place of a regular space.
const nonBreakingSpace = " "

// Strip removes CSI, OSC, charset-selection, and stray two-character ESC
// sequences from s, and normalizes non-breaking spaces to regular spaces.
// Strip(x) == Strip(Strip(x)) for all x — stripping is idempotent, which
// is what makes parseOutputDiff(x) == parseOutputDiff(Strip(x)) hold.
// Passes repeat until one changes nothing, so a sequence exposed by
// removing another is stripped too.
func Strip(s string) string {
	for {
		prev := s
		s = oscPattern.ReplaceAllString(s, "")
		s = csiPattern.ReplaceAllString(s, "")
		s = charsetPattern.ReplaceAllString(s, "")
		s = twoCharPattern.ReplaceAllString(s, "")
		s = strings.ReplaceAll(s, nonBreakingSpace, " ")
		if s == prev {
			return s
		}
	}
}
