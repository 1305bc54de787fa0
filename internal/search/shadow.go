package search

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/storage"
	"github.com/tomehub/tomehub/internal/textnorm"
)

// ShadowConfig gates the rescue pass over EXCLUDED_BY_DEFAULT chunks.
// Empty allowlists admit every user or item.
type ShadowConfig struct {
	Enabled      bool
	AllowedUsers []uuid.UUID
	AllowedItems []uuid.UUID
}

func (c ShadowConfig) admitsUser(id uuid.UUID) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, u := range c.AllowedUsers {
		if u == id {
			return true
		}
	}
	return false
}

func (c ShadowConfig) admitsItem(id uuid.UUID) bool {
	if len(c.AllowedItems) == 0 {
		return true
	}
	for _, it := range c.AllowedItems {
		if it == id {
			return true
		}
	}
	return false
}

// ShadowRescue re-admits chunks hidden by default visibility when the
// query matches them lexically. It only fires for PDF-derived content
// or when the request pins an allowlisted item.
type ShadowRescue struct {
	store storage.SearchStore
	cfg   ShadowConfig
}

// NewShadowRescue creates the rescue strategy.
func NewShadowRescue(store storage.SearchStore, cfg ShadowConfig) *ShadowRescue {
	return &ShadowRescue{store: store, cfg: cfg}
}

// Name returns the bucket this strategy fills.
func (s *ShadowRescue) Name() string { return BucketShadow }

// Active reports whether the rescue pass applies to this request.
func (s *ShadowRescue) Active(req Request) bool {
	if !s.cfg.Enabled || !s.cfg.admitsUser(req.UserID) {
		return false
	}
	if req.Filters.IngestionType == storage.IngestionTypePDF {
		return true
	}
	return req.Filters.ItemID != nil && s.cfg.admitsItem(*req.Filters.ItemID)
}

// Search runs the shadow pass. Rows that verify exactly score in the
// lexical band; lemma-only rows score below it so fused output keeps
// visible matches on top.
func (s *ShadowRescue) Search(ctx context.Context, req Request, fetch int) ([]Hit, error) {
	pattern := textnorm.Normalize(req.Query)
	if pattern == "" {
		return nil, nil
	}
	tokens := textnorm.SignificantTokens(pattern, 2)
	lemmas := QueryLemmas(req.Query)

	rows, err := s.store.SearchShadow(ctx, req.UserID, pattern, lemmas, req.Filters, fetch)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		titleBoost := 0.0
		normalizedTitle := textnorm.Normalize(row.Title)
		for _, lemma := range lemmas {
			if textnorm.MatchesStemBoundary(normalizedTitle, lemma) {
				titleBoost = 4
				break
			}
		}

		lemmaHits := 0
		for _, lemma := range lemmas {
			lemmaHits += textnorm.CountStemMatches(row.NormalizedText, lemma)
		}

		var score float64
		switch {
		case exactVerified(row.NormalizedText, pattern, tokens):
			score = 65 + math.Min(20, 2*float64(len(tokens))) + math.Min(10, 2*float64(lemmaHits)) + titleBoost
		case lemmaHits > 0:
			score = 40 + math.Min(35, 5*float64(lemmaHits)) + titleBoost
		default:
			continue
		}

		row.Score = score
		hits = append(hits, Hit{ChunkHit: row, Bucket: BucketShadow})
	}
	return hits, nil
}
