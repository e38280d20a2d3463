// Package scoring compares a learner's transcript with the reference text of
// a pronunciation exercise.
//
// Both strings are normalised the same way (lower case, diacritics removed,
// only [a-z0-9 ] kept) and compared position by position. A reference that
// normalises to a single character is scored in letter mode instead, since
// transcription services tend to write a spoken letter as its name ("ay",
// "double u") rather than the grapheme.
package scoring

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes to NFD and drops combining marks.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))

// Normalize lower-cases s, removes diacritics, drops every character outside
// [a-z0-9 ] and collapses runs of whitespace to one space.
//
//	Normalize("  Élève, ça va ? ") == "eleve ca va"
func Normalize(s string) string {
	decomposed, _, err := transform.String(stripMarks, strings.ToLower(s))
	if err != nil {
		decomposed = strings.ToLower(s)
	}

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
