package search

import (
	"context"
	"sort"

	"github.com/tomehub/tomehub/internal/storage"
	"github.com/tomehub/tomehub/internal/textnorm"
)

// LemmaStrategy retrieves chunks whose lemma set overlaps the query
// lemmas and verifies each candidate with a stem-boundary regex, so
// "niyet" admits "niyetli" and "niyetler" but never "medeniyet".
type LemmaStrategy struct {
	store storage.SearchStore
}

// NewLemmaStrategy creates the lemma strategy.
func NewLemmaStrategy(store storage.SearchStore) *LemmaStrategy {
	return &LemmaStrategy{store: store}
}

// Name returns the bucket this strategy fills.
func (s *LemmaStrategy) Name() string { return BucketLemma }

// Search retrieves verified lemma matches scored by occurrence count.
func (s *LemmaStrategy) Search(ctx context.Context, req Request, fetch int) ([]Hit, error) {
	lemmas := QueryLemmas(req.Query)
	if len(lemmas) == 0 {
		return nil, nil
	}

	rows, err := s.store.SearchLemma(ctx, req.UserID, lemmas, req.Filters, fetch)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		hitCount := 0
		for _, lemma := range lemmas {
			hitCount += textnorm.CountStemMatches(row.NormalizedText, lemma)
		}

		titleBoost := 0
		normTitle := textnorm.Normalize(row.Title)
		for _, lemma := range lemmas {
			if textnorm.MatchesStemBoundary(normTitle, lemma) {
				titleBoost = 1
				break
			}
		}

		// Candidates whose only occurrence is an inner substring fail
		// both checks and are dropped here.
		if hitCount == 0 && titleBoost == 0 {
			continue
		}

		score := 70 + 5*hitCount + 4*titleBoost
		if score > 95 {
			score = 95
		}
		row.Score = float64(score)
		hits = append(hits, Hit{ChunkHit: row, Bucket: BucketLemma})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID.String() < hits[j].ID.String()
	})
	return hits, nil
}

// QueryLemmas extracts up to five lemma candidates from a query:
// normalized tokens of at least three characters that are not stop
// lemmas, in query order, deduplicated.
func QueryLemmas(query string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, tok := range textnorm.Tokenize(query) {
		if len([]rune(tok)) < 3 || textnorm.IsStopLemma(tok) {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) == 5 {
			break
		}
	}
	return out
}
