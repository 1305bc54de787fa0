package search

import (
	"context"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/storage"
	"github.com/tomehub/tomehub/internal/textnorm"
)

// ExactStrategy runs the two-pass lexical retrieval: a token AND pass,
// a LIKE backfill when the token pass comes up short, and a PDF
// fallback pass for unscoped queries. Every candidate is verified with
// a word-boundary regex so that "niyet" never matches "medeniyet".
type ExactStrategy struct {
	store storage.SearchStore
	cfg   Config
}

// NewExactStrategy creates the exact strategy.
func NewExactStrategy(store storage.SearchStore, cfg Config) *ExactStrategy {
	return &ExactStrategy{store: store, cfg: cfg.withDefaults()}
}

// Name returns the bucket this strategy fills.
func (s *ExactStrategy) Name() string { return BucketExact }

// Search retrieves verified exact matches. Verified hits score 100.
func (s *ExactStrategy) Search(ctx context.Context, req Request, fetch int) ([]Hit, error) {
	pattern := textnorm.Normalize(req.Query)
	if pattern == "" {
		return nil, nil
	}
	tokens := textnorm.SignificantTokens(pattern, 2)

	f := req.Filters
	f.ExcludePDF = true

	rows, err := s.passes(ctx, req.UserID, pattern, tokens, f, fetch)
	if err != nil {
		return nil, err
	}

	// PDF fallback: only for fully unscoped queries.
	if len(rows) == 0 && req.Filters.ItemID == nil &&
		req.Filters.ResourceType == "" && req.Filters.ContentType == "" {
		f.ExcludePDF = false
		rows, err = s.passes(ctx, req.UserID, pattern, tokens, f, fetch)
		if err != nil {
			return nil, err
		}
	}

	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		if !exactVerified(row.NormalizedText, pattern, tokens) {
			continue
		}
		row.Score = 100
		hits = append(hits, Hit{ChunkHit: row, Bucket: BucketExact})
	}
	return hits, nil
}

// passes runs the token AND pass and merges in the LIKE pass when the
// primary returned fewer than the minimum row count, preserving the
// primary order.
func (s *ExactStrategy) passes(ctx context.Context, userID uuid.UUID, pattern string, tokens []string, f storage.Filters, fetch int) ([]storage.ChunkHit, error) {
	var primary []storage.ChunkHit
	if len(tokens) >= 2 || (len(tokens) == 1 && s.cfg.SingleTokenExact) {
		var err error
		primary, err = s.store.SearchTokens(ctx, userID, tokens, f, fetch)
		if err != nil {
			return nil, err
		}
	}
	if len(primary) >= s.cfg.MinPrimaryRows {
		return primary, nil
	}

	secondary, err := s.store.SearchExact(ctx, userID, pattern, f, fetch)
	if err != nil {
		return nil, err
	}
	return mergeChunkHits(primary, secondary, fetch), nil
}

// exactVerified checks every significant token against a word-boundary
// regex; queries without significant tokens fall back to the whole
// pattern.
func exactVerified(normalizedText, pattern string, tokens []string) bool {
	if len(tokens) == 0 {
		return textnorm.MatchesWordBoundary(normalizedText, pattern)
	}
	for _, tok := range tokens {
		if !textnorm.MatchesWordBoundary(normalizedText, tok) {
			return false
		}
	}
	return true
}

// mergeChunkHits appends rows of b not already present in a, capped.
func mergeChunkHits(a, b []storage.ChunkHit, limit int) []storage.ChunkHit {
	seen := make(map[uuid.UUID]struct{}, len(a))
	for _, h := range a {
		seen[h.ID] = struct{}{}
	}
	out := a
	for _, h := range b {
		if len(out) >= limit {
			break
		}
		if _, ok := seen[h.ID]; ok {
			continue
		}
		seen[h.ID] = struct{}{}
		out = append(out, h)
	}
	return out
}
