// Package textnorm turns raw scraped strings into the canonical form stored
// in the gallery table.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// a space followed by at least one more whitespace character
	spaceRun = regexp.MustCompile(` [\t\n\v\f\r ]+`)
	noneRun  = regexp.MustCompile(`(?:None){1,3}`)
)

// CleanText trims the input, strips accents by decomposing and dropping
// every non-ASCII rune, collapses whitespace, turns newlines into ". ",
// removes apostrophes and replaces leftover "None" tokens with a space.
func CleanText(text string) string {
	out := strings.TrimSpace(text)
	out = ASCIIFold(out)
	out = spaceRun.ReplaceAllString(out, " ")
	out = strings.ReplaceAll(out, "\n", ". ")
	out = strings.ReplaceAll(out, "'", "")
	out = noneRun.ReplaceAllString(out, " ")
	return spaceRun.ReplaceAllString(out, " ")
}

// ASCIIFold applies canonical decomposition and drops the runes that do not
// fit in ASCII, so "é" becomes "e" and "ß" disappears.
func ASCIIFold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	})))
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}
