package dlp

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxLength caps detection input so regex cost stays linear-ish in a
// bounded input size.
const DefaultMaxLength = 50000

// Invisible code points stripped before matching. These are the zero-width
// and directional characters commonly inserted to split literal patterns.
var invisibleRunes = map[rune]bool{
	'\u200b': true, // zero-width space
	'\u200c': true, // zero-width non-joiner
	'\u200d': true, // zero-width joiner
	'\ufeff': true, // byte order mark
	'\u00ad': true, // soft hyphen
	'\u2060': true, // word joiner
	'\u200e': true, // left-to-right mark
	'\u200f': true, // right-to-left mark
}

// Normalize prepares raw text for detection: invisible characters are
// removed, the result is put in Unicode NFC so combining sequences match the
// precomposed forms used in the catalog, and the text is truncated to
// maxLength runes. maxLength <= 0 selects DefaultMaxLength.
//
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	out := strings.Map(func(r rune) rune {
		if invisibleRunes[r] {
			return -1
		}
		return r
	}, text)

	out = norm.NFC.String(out)

	if utf8.RuneCountInString(out) > maxLength {
		n := 0
		for i := range out {
			if n == maxLength {
				out = out[:i]
				break
			}
			n++
		}
	}
	return out
}
