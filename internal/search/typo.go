package search

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/storage"
	"github.com/tomehub/tomehub/internal/textnorm"
)

// CatalogCorrector repairs misspelled query tokens against a
// vocabulary built from the user's book-title catalog. Tokens shorter
// than four runes are never touched; tolerance is one edit up to seven
// runes and two beyond.
type CatalogCorrector struct {
	catalog storage.CatalogStore
	extra   []string
}

// NewCatalogCorrector creates a corrector. Extra vocabulary entries
// supplement the per-user catalog, normalized on use.
func NewCatalogCorrector(catalog storage.CatalogStore, extra ...string) *CatalogCorrector {
	return &CatalogCorrector{catalog: catalog, extra: extra}
}

// Correct returns the corrected query and whether anything changed.
// The corrected form is in normalized space, which is what the lexical
// strategies consume.
func (c *CatalogCorrector) Correct(ctx context.Context, userID uuid.UUID, query string) (string, bool) {
	vocab := c.vocabulary(ctx, userID)
	if len(vocab) == 0 {
		return query, false
	}

	tokens := textnorm.Tokenize(query)
	changed := false
	for i, tok := range tokens {
		if len([]rune(tok)) < 4 {
			continue
		}
		if _, ok := vocab[tok]; ok {
			continue
		}
		if repl, ok := closestWord(tok, vocab); ok {
			tokens[i] = repl
			changed = true
		}
	}
	if !changed {
		return query, false
	}
	return strings.Join(tokens, " "), true
}

func (c *CatalogCorrector) vocabulary(ctx context.Context, userID uuid.UUID) map[string]struct{} {
	vocab := make(map[string]struct{})
	addTokens := func(s string) {
		for _, tok := range textnorm.Tokenize(s) {
			if len([]rune(tok)) >= 3 {
				vocab[tok] = struct{}{}
			}
		}
	}

	if c.catalog != nil {
		titles, err := c.catalog.BookTitleCatalog(ctx, userID)
		if err == nil {
			for _, t := range titles {
				addTokens(t.Title)
				if t.Author != nil {
					addTokens(*t.Author)
				}
			}
		}
	}
	for _, w := range c.extra {
		addTokens(w)
	}
	return vocab
}

// closestWord finds the vocabulary word nearest to tok within the
// length-scaled tolerance. Ties go to the lexicographically smaller
// word so corrections are stable.
func closestWord(tok string, vocab map[string]struct{}) (string, bool) {
	tolerance := 1
	if len([]rune(tok)) >= 8 {
		tolerance = 2
	}

	best := ""
	bestDist := tolerance + 1
	for w := range vocab {
		d := textnorm.EditDistance(tok, w)
		if d < bestDist || (d == bestDist && best != "" && w < best) {
			best = w
			bestDist = d
		}
	}
	if bestDist > tolerance {
		return "", false
	}
	return best, true
}
