package search

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/cache"
	"github.com/tomehub/tomehub/internal/embedding"
	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/internal/storage"
	"github.com/tomehub/tomehub/internal/textnorm"
)

const (
	graphCacheTTL          = 60 * time.Minute
	defaultMinLinkStrength = 0.3
	graphSeedLimit         = 5
	graphNearestSeedLimit  = 3
	minFinalGraphScore     = 0.5
)

// relationModifiers maps relation-type substrings to score modifiers,
// checked in order. Citation edges carry full weight, co-occurrence
// edges almost none.
var relationModifiers = []struct {
	substr   string
	modifier float64
}{
	{"CITES", 1.0},
	{"QUOTES", 1.0},
	{"IS_A", 0.9},
	{"DEFINES", 0.9},
	{"PART_OF", 0.9},
	{"SEMANTIC_SIMILARITY", 0.7},
	{"SYNONYM", 0.7},
	{"RELATED_TO", 0.6},
	{"CO_OCCURRENCE", 0.4},
}

func relationModifier(rt storage.RelationType) float64 {
	s := string(rt)
	for _, m := range relationModifiers {
		if strings.Contains(s, m.substr) {
			return m.modifier
		}
	}
	return 0.5
}

// GraphStrategy maps a query to seed concepts and traverses one hop to
// the chunks evidencing the neighbours. Results are cached for an hour
// per (query, user).
type GraphStrategy struct {
	store           storage.GraphStore
	embedder        embedding.Embedder
	extractor       ConceptExtractor
	cache           cache.Client
	log             *observability.Logger
	minLinkStrength float64
}

// NewGraphStrategy creates the graph strategy. Embedder, extractor and
// cache are optional; absent collaborators skip their seeding stage.
func NewGraphStrategy(store storage.GraphStore, embedder embedding.Embedder, extractor ConceptExtractor, c cache.Client, log *observability.Logger) *GraphStrategy {
	if log == nil {
		log = observability.Nop()
	}
	return &GraphStrategy{
		store:           store,
		embedder:        embedder,
		extractor:       extractor,
		cache:           c,
		log:             log.WithComponent("graph_strategy"),
		minLinkStrength: defaultMinLinkStrength,
	}
}

// Name returns the bucket this strategy fills.
func (s *GraphStrategy) Name() string { return BucketGraph }

// Search resolves seed concepts and returns 1-hop neighbour chunks
// scored by relation_weight times the relation-type modifier. Scores
// below 0.5 are discarded.
func (s *GraphStrategy) Search(ctx context.Context, req Request, fetch int) ([]Hit, error) {
	normalized := textnorm.Normalize(req.Query)
	if normalized == "" {
		return nil, nil
	}

	key := s.cacheKey(req.UserID, normalized)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var hits []Hit
			if err := json.Unmarshal(raw, &hits); err == nil {
				return hits, nil
			}
		}
	}

	seeds, err := s.resolveSeeds(ctx, req.Query, normalized)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, nil
	}

	seedIDs := make([]uuid.UUID, 0, len(seeds))
	for _, c := range seeds {
		seedIDs = append(seedIDs, c.ID)
	}

	rows, err := s.store.GraphNeighbors(ctx, req.UserID, seedIDs, s.minLinkStrength, fetch, 0)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		final := row.RelationWeight * relationModifier(row.RelationType)
		if final < minFinalGraphScore {
			continue
		}
		hits = append(hits, Hit{
			ChunkHit: storage.ChunkHit{Chunk: row.Chunk, Score: final * 100, GraphScore: final},
			Bucket:   BucketGraph,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].GraphScore != hits[j].GraphScore {
			return hits[i].GraphScore > hits[j].GraphScore
		}
		return hits[i].ID.String() < hits[j].ID.String()
	})

	if s.cache != nil {
		if raw, err := json.Marshal(hits); err == nil {
			if err := s.cache.Set(ctx, key, raw, graphCacheTTL); err != nil {
				s.log.Debug().Err(err).Msg("graph cache write failed")
			}
		}
	}
	return hits, nil
}

// resolveSeeds tries name matching, then LLM extraction, then
// description-vector similarity.
func (s *GraphStrategy) resolveSeeds(ctx context.Context, rawQuery, normalized string) ([]storage.Concept, error) {
	seeds := make([]storage.Concept, 0, graphSeedLimit)
	seen := make(map[uuid.UUID]struct{})
	add := func(concepts []storage.Concept) {
		for _, c := range concepts {
			if len(seeds) >= graphSeedLimit {
				return
			}
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			seeds = append(seeds, c)
		}
	}

	for _, kw := range textnorm.Keywords(normalized) {
		concepts, err := s.store.MatchConcepts(ctx, kw, graphSeedLimit)
		if err != nil {
			return nil, err
		}
		add(concepts)
	}
	if len(seeds) > 0 {
		return seeds, nil
	}

	if s.extractor != nil {
		names, err := s.extractor.ExtractConcepts(ctx, rawQuery)
		if err != nil {
			s.log.Debug().Err(err).Msg("concept extraction failed")
		} else {
			for _, name := range names {
				concepts, err := s.store.MatchConcepts(ctx, textnorm.Normalize(name), 2)
				if err != nil {
					return nil, err
				}
				add(concepts)
			}
		}
	}
	if len(seeds) > 0 {
		return seeds, nil
	}

	if s.embedder != nil {
		vec, err := s.embedder.EmbedSingle(ctx, rawQuery, embedding.TaskRetrievalQuery)
		if err != nil {
			s.log.Debug().Err(err).Msg("seed embedding failed")
			return nil, nil
		}
		concepts, err := s.store.NearestConcepts(ctx, vec, graphNearestSeedLimit)
		if err != nil {
			return nil, err
		}
		add(concepts)
	}
	return seeds, nil
}

func (s *GraphStrategy) cacheKey(userID uuid.UUID, normalized string) string {
	return cache.HashedKey(cache.Key("search", "graph", "u", userID.String())+":", normalized)
}
