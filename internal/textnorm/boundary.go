package textnorm

import (
	"errors"
	"regexp"
	"strings"
)

// ErrEmptyTerm is returned when a boundary pattern is requested for a term
// that normalizes to nothing.
var ErrEmptyTerm = errors.New("textnorm: empty term")

// WordBoundaryPattern compiles a regex that matches the term only on full
// word boundaries within normalized text. Inner-substring occurrences are
// rejected: the pattern for "niyet" does not match "medeniyet".
func WordBoundaryPattern(term string) (*regexp.Regexp, error) {
	norm := Normalize(term)
	if norm == "" {
		return nil, ErrEmptyTerm
	}
	return regexp.Compile(`(^|[^a-z0-9])` + regexp.QuoteMeta(norm) + `([^a-z0-9]|$)`)
}

// StemBoundaryPattern compiles a regex that matches the lemma at a word
// start, allowing inflectional suffixes. "niyet" admits "niyet", "niyetli",
// "niyetler" but still rejects "medeniyet".
func StemBoundaryPattern(lemma string) (*regexp.Regexp, error) {
	norm := Normalize(lemma)
	if norm == "" {
		return nil, ErrEmptyTerm
	}
	return regexp.Compile(`(^|[^a-z0-9])` + regexp.QuoteMeta(norm) + `[a-z0-9]*`)
}

// MatchesWordBoundary reports whether text contains term on a word boundary.
// Both sides are normalized before the check.
func MatchesWordBoundary(text, term string) bool {
	re, err := WordBoundaryPattern(term)
	if err != nil {
		return false
	}
	return re.MatchString(Normalize(text))
}

// MatchesStemBoundary reports whether text contains the lemma at a word
// start, any suffix admitted.
func MatchesStemBoundary(text, lemma string) bool {
	re, err := StemBoundaryPattern(lemma)
	if err != nil {
		return false
	}
	return re.MatchString(Normalize(text))
}

// CountStemMatches returns how many stem-boundary occurrences of lemma the
// text contains.
func CountStemMatches(text, lemma string) int {
	re, err := StemBoundaryPattern(lemma)
	if err != nil {
		return 0
	}
	return len(re.FindAllStringIndex(Normalize(text), -1))
}

// ContainsQuoted extracts the first double-quoted phrase from a query, if
// any. Used by the router's direct-lookup detection.
func ContainsQuoted(query string) (string, bool) {
	start := strings.IndexAny(query, `"“`)
	if start < 0 {
		return "", false
	}
	rest := query[start+1:]
	end := strings.IndexAny(rest, `"”`)
	if end <= 0 {
		return "", false
	}
	return rest[:end], true
}
