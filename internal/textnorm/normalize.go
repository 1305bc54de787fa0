// Package textnorm provides Turkish-aware text normalization for retrieval:
// de-accenting, tokenization, boundary verification, and mojibake repair.
package textnorm

import (
	"strings"
	"unicode"
)

// foldTable maps accented and Turkish-specific runes onto their ASCII base.
// Both cases are listed because folding runs before lowercasing.
var foldTable = map[rune]rune{
	'ç': 'c', 'Ç': 'c',
	'ğ': 'g', 'Ğ': 'g',
	'ı': 'i', 'I': 'i', 'İ': 'i',
	'ö': 'o', 'Ö': 'o',
	'ş': 's', 'Ş': 's',
	'ü': 'u', 'Ü': 'u',
	'â': 'a', 'Â': 'a',
	'î': 'i', 'Î': 'i',
	'û': 'u', 'Û': 'u',
	'é': 'e', 'É': 'e',
}

// Deaccent folds Turkish and accented characters onto ASCII and lowercases.
// "Küfür" becomes "kufur", "DOĞA" becomes "doga".
func Deaccent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if folded, ok := foldTable[r]; ok {
			b.WriteRune(folded)
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Normalize produces the canonical searchable form of a text: de-accented,
// lowercased, with whitespace runs collapsed to single spaces and the ends
// trimmed. Chunk normalized_text and query patterns both go through here so
// that substring and boundary checks compare like with like.
func Normalize(s string) string {
	return CollapseWhitespace(Deaccent(s))
}

// CollapseWhitespace trims the string and collapses internal whitespace runs.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Tokenize splits a normalized string into alphanumeric tokens.
func Tokenize(s string) []string {
	return strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// SignificantTokens returns tokens of at least minLen runes.
func SignificantTokens(s string, minLen int) []string {
	var out []string
	for _, tok := range Tokenize(s) {
		if len([]rune(tok)) >= minLen {
			out = append(out, tok)
		}
	}
	return out
}
