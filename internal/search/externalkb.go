package search

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/storage"
	"github.com/tomehub/tomehub/internal/textnorm"
)

// ExternalKBConfig controls how provider edges are admitted and ranked.
type ExternalKBConfig struct {
	Enabled         bool
	MaxCandidates   int
	MinConfidence   float64
	PrimaryProvider storage.ExternalProvider
	ProviderWeights map[storage.ExternalProvider]float64
}

func (c ExternalKBConfig) withDefaults() ExternalKBConfig {
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 12
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.45
	}
	if c.PrimaryProvider == "" {
		c.PrimaryProvider = storage.ProviderOpenLibrary
	}
	return c
}

// edgePhrases renders external relation types as Turkish connective
// phrases so an edge reads as a sentence fragment.
var edgePhrases = map[string]string{
	"HAS_SUBJECT":   "konusu",
	"HAS_AUTHOR":    "yazari",
	"HAS_PLACE":     "gectigi yer",
	"HAS_PERSON":    "bahsettigi kisi",
	"INFLUENCED_BY": "etkilendigi",
	"INFLUENCED":    "etkiledigi",
	"PART_OF":       "parcasi oldugu",
	"INSTANCE_OF":   "turu",
	"GENRE":         "turu",
	"ABOUT":         "hakkinda",
}

// humanizeEdgeType is casing-tolerant; providers deliver both
// "has_subject" and "HAS_SUBJECT".
func humanizeEdgeType(t string) string {
	if phrase, ok := edgePhrases[strings.ToUpper(t)]; ok {
		return phrase
	}
	return strings.ToLower(strings.ReplaceAll(t, "_", " "))
}

// ExternalKB turns imported provider edges into synthetic evidence
// chunks. These never enter the search result list; the assembler uses
// them as low-weight context.
type ExternalKB struct {
	store storage.ExternalKBStore
	cfg   ExternalKBConfig
}

// NewExternalKB creates the adapter.
func NewExternalKB(store storage.ExternalKBStore, cfg ExternalKBConfig) *ExternalKB {
	return &ExternalKB{store: store, cfg: cfg.withDefaults()}
}

// Enabled reports whether the adapter should be consulted at all.
func (e *ExternalKB) Enabled() bool { return e.cfg.Enabled && e.store != nil }

// Edges fetches provider edges for the item, filters by confidence and
// scores each against the query's keyword overlap.
func (e *ExternalKB) Edges(ctx context.Context, userID, itemID uuid.UUID, query string, limit int) ([]Hit, error) {
	if !e.Enabled() {
		return nil, nil
	}
	if limit <= 0 || limit > e.cfg.MaxCandidates {
		limit = e.cfg.MaxCandidates
	}

	edges, err := e.store.ExternalEdges(ctx, userID, itemID, e.cfg.MaxCandidates*2)
	if err != nil {
		return nil, err
	}

	keywords := make(map[string]struct{})
	for _, kw := range textnorm.Keywords(query) {
		keywords[kw] = struct{}{}
	}

	hits := make([]Hit, 0, len(edges))
	for _, edge := range edges {
		if edge.Weight < e.cfg.MinConfidence {
			continue
		}
		text := edge.SourceLabel + " " + humanizeEdgeType(edge.Type) + " " + edge.TargetLabel
		normalized := textnorm.Normalize(text)

		overlap := 0
		for _, tok := range strings.Fields(normalized) {
			if _, ok := keywords[tok]; ok {
				overlap++
			}
		}
		score := edge.Weight + math.Min(0.35, 0.08*float64(overlap))
		score *= e.providerWeight(edge.Provider)

		hits = append(hits, Hit{
			ChunkHit: storage.ChunkHit{
				Chunk: storage.Chunk{
					ID:             edge.ID,
					UserID:         edge.UserID,
					ItemID:         edge.ItemID,
					Title:          edge.SourceLabel,
					ContentType:    storage.ContentTypeExternalKB,
					Text:           text,
					NormalizedText: normalized,
					Visibility:     storage.VisibilityDefault,
					RAGWeight:      1,
				},
				Score: score,
			},
			Bucket: BucketExternalKB,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID.String() < hits[j].ID.String()
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (e *ExternalKB) providerWeight(p storage.ExternalProvider) float64 {
	if w, ok := e.cfg.ProviderWeights[p]; ok && w > 0 {
		return w
	}
	if p == e.cfg.PrimaryProvider {
		return 1.0
	}
	return 0.92
}
