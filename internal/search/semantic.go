package search

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/embedding"
	"github.com/tomehub/tomehub/internal/storage"
)

// Rune-length bounds for the intent-dependent length sweeps. Direct
// questions favour short definitional chunks, narrative questions
// favour long literary passages.
const (
	shortChunkMaxRunes = 320
	longChunkMinRunes  = 600
)

// SemanticStrategy embeds the query and retrieves nearest neighbours,
// sweeping extra length-filtered passes depending on intent.
type SemanticStrategy struct {
	store    storage.SearchStore
	embedder embedding.Embedder
}

// NewSemanticStrategy creates the semantic strategy.
func NewSemanticStrategy(store storage.SearchStore, embedder embedding.Embedder) *SemanticStrategy {
	return &SemanticStrategy{store: store, embedder: embedder}
}

// Name returns the bucket this strategy fills.
func (s *SemanticStrategy) Name() string { return BucketSemantic }

// Search embeds the query and runs the intent-dependent sweep set.
// Score is (1 - distance) * 100 clamped at zero; rag_weight boosts
// arrive through the adjusted distance.
func (s *SemanticStrategy) Search(ctx context.Context, req Request, fetch int) ([]Hit, error) {
	vec, err := s.embedder.EmbedSingle(ctx, req.Query, embedding.TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}

	var passes []storage.Filters
	base := req.Filters
	switch req.Intent {
	case IntentDirect, IntentFollowUp:
		short := base
		short.MaxTextLen = shortChunkMaxRunes
		passes = []storage.Filters{base, short}
	case IntentNarrative:
		long := base
		long.MinTextLen = longChunkMinRunes
		passes = []storage.Filters{base, long}
	default:
		passes = []storage.Filters{base}
	}

	best := make(map[uuid.UUID]storage.ChunkHit)
	for _, f := range passes {
		rows, err := s.store.SearchVector(ctx, req.UserID, vec, f, fetch)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if prev, ok := best[row.ID]; ok && prev.Distance <= row.Distance {
				continue
			}
			best[row.ID] = row
		}
	}

	hits := make([]Hit, 0, len(best))
	for _, row := range best {
		score := (1 - float64(row.Distance)) * 100
		if score < 0 {
			score = 0
		}
		row.Score = score
		hits = append(hits, Hit{ChunkHit: row, Bucket: BucketSemantic})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID.String() < hits[j].ID.String()
	})
	if len(hits) > fetch {
		hits = hits[:fetch]
	}
	return hits, nil
}
