package storage

import (
	"context"
	"database/sql"
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Common storage errors.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = errors.New("record conflict")
)

// DB is the subset of *sql.DB used by the SQL store. *sql.Tx also satisfies it.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Filters narrows a search query. The zero value admits all default-visible
// chunks. ContentType takes precedence over ResourceType when both are set.
type Filters struct {
	ItemID        *uuid.UUID
	ResourceType  ResourceType
	ContentType   ContentType
	IngestionType IngestionType
	Scope         VisibilityScope
	// MinTextLen and MaxTextLen bound the text length in runes; zero means
	// unbounded. Used by the length-filtered semantic sweeps.
	MinTextLen int
	MaxTextLen int
	// ExcludePDF drops PDF-ingested chunks. The exact strategy sets it on
	// its primary passes and clears it for the PDF fallback pass.
	ExcludePDF bool
}

// ContentTypes resolves the effective content type set, or nil for all.
func (f Filters) ContentTypes() []ContentType {
	if f.ContentType != "" {
		return []ContentType{f.ContentType}
	}
	return f.ResourceType.ContentTypes()
}

// EffectiveScope returns the visibility scope, defaulting to default-only.
func (f Filters) EffectiveScope() VisibilityScope {
	if f.Scope == "" {
		return VisibilityScopeDefault
	}
	return f.Scope
}

// Admits reports whether a chunk passes every filter clause. The SQL and
// in-memory stores must agree with this predicate.
func (f Filters) Admits(c *Chunk) bool {
	if !f.EffectiveScope().Admits(c.Visibility) {
		return false
	}
	if f.ItemID != nil && c.ItemID != *f.ItemID {
		return false
	}
	if cts := f.ContentTypes(); cts != nil {
		ok := false
		for _, ct := range cts {
			if c.ContentType == ct {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.IngestionType != "" && c.IngestionType != f.IngestionType {
		return false
	}
	if f.ExcludePDF && c.IngestionType == IngestionTypePDF {
		return false
	}
	if f.MinTextLen > 0 || f.MaxTextLen > 0 {
		n := utf8.RuneCountInString(c.Text)
		if f.MinTextLen > 0 && n < f.MinTextLen {
			return false
		}
		if f.MaxTextLen > 0 && n > f.MaxTextLen {
			return false
		}
	}
	return true
}

// ChunkHit is a chunk returned by a search query together with its
// retrieval score. Distance is set by vector search, GraphScore by
// graph traversal.
type ChunkHit struct {
	Chunk
	Score      float64 `json:"score"`
	Distance   float32 `json:"distance,omitempty"`
	GraphScore float64 `json:"graph_score,omitempty"`
}

// GraphHit is a chunk reached by 1-hop concept traversal, annotated with
// the relation that led to it. Final graph scoring happens in the caller.
type GraphHit struct {
	Chunk
	ConceptID      uuid.UUID    `json:"concept_id"`
	ConceptName    string       `json:"concept_name"`
	RelationType   RelationType `json:"relation_type"`
	RelationWeight float64      `json:"relation_weight"`
	LinkStrength   float64      `json:"link_strength"`
}

// SearchStore serves the lexical, semantic and shadow retrieval paths.
// Patterns and lemmas must already be normalized (lowercase, de-accented);
// word-boundary verification happens in the calling strategy.
type SearchStore interface {
	// SearchExact returns chunks whose normalized text contains pattern as
	// a contiguous substring.
	SearchExact(ctx context.Context, userID uuid.UUID, pattern string, f Filters, limit int) ([]ChunkHit, error)

	// SearchTokens returns chunks whose normalized text contains every token.
	SearchTokens(ctx context.Context, userID uuid.UUID, tokens []string, f Filters, limit int) ([]ChunkHit, error)

	// SearchLemma returns chunks whose lemma set contains any query lemma.
	SearchLemma(ctx context.Context, userID uuid.UUID, lemmas []string, f Filters, limit int) ([]ChunkHit, error)

	// SearchVector returns nearest neighbours ordered by cosine distance
	// divided by rag_weight. Distance carries the adjusted value.
	SearchVector(ctx context.Context, userID uuid.UUID, query []float32, f Filters, limit int) ([]ChunkHit, error)

	// SearchShadow returns shadow-table candidates matching the pattern as
	// a substring or overlapping the lemma set.
	SearchShadow(ctx context.Context, userID uuid.UUID, pattern string, lemmas []string, f Filters, limit int) ([]ChunkHit, error)
}

// GraphStore serves concept seeding and 1-hop traversal.
type GraphStore interface {
	// MatchConcepts finds concepts whose normalized name or alias contains
	// the pattern.
	MatchConcepts(ctx context.Context, pattern string, limit int) ([]Concept, error)

	// NearestConcepts finds concepts by description-vector similarity.
	NearestConcepts(ctx context.Context, query []float32, limit int) ([]Concept, error)

	// GraphNeighbors traverses seed -> relation -> neighbor -> chunks and
	// returns the neighbor chunks with link strength >= minStrength.
	GraphNeighbors(ctx context.Context, userID uuid.UUID, seedIDs []uuid.UUID, minStrength float64, limit, offset int) ([]GraphHit, error)

	// ConceptsForChunks returns the concepts linked to any of the chunks.
	ConceptsForChunks(ctx context.Context, chunkIDs []uuid.UUID, limit int) ([]Concept, error)

	// ConceptRelations returns relations touching any of the concepts,
	// strongest first.
	ConceptRelations(ctx context.Context, conceptIDs []uuid.UUID, limit int) ([]RelationEdge, error)
}

// ExternalKBStore reads pre-populated external knowledge base rows.
type ExternalKBStore interface {
	ExternalEdges(ctx context.Context, userID, itemID uuid.UUID, limit int) ([]ExternalEdge, error)
	ExternalMeta(ctx context.Context, userID, itemID uuid.UUID) (*ExternalMeta, error)
}

// CatalogStore serves item-level lookups.
type CatalogStore interface {
	BookTitleCatalog(ctx context.Context, userID uuid.UUID) ([]BookTitle, error)
	LibraryItem(ctx context.Context, userID, itemID uuid.UUID) (*LibraryItem, error)
}

// AnalyticsStore persists search telemetry.
type AnalyticsStore interface {
	LogSearch(ctx context.Context, entry *SearchLogEntry) (uuid.UUID, error)
	RecentSearches(ctx context.Context, userID uuid.UUID, limit int) ([]SearchLogEntry, error)
}

// WriteStore ingests library content, graph rows and external KB rows.
type WriteStore interface {
	UpsertLibraryItem(ctx context.Context, item *LibraryItem) error
	UpsertChunks(ctx context.Context, chunks []Chunk) error
	UpsertShadowChunks(ctx context.Context, chunks []Chunk) error
	UpsertConcept(ctx context.Context, c *Concept) error
	UpsertRelation(ctx context.Context, r *Relation) error
	LinkConceptChunk(ctx context.Context, link *ConceptChunkLink) error
	UpsertExternalEntity(ctx context.Context, e *ExternalEntity) error
	UpsertExternalEdge(ctx context.Context, e *ExternalEdge) error
	UpsertExternalMeta(ctx context.Context, m *ExternalMeta) error
}

// Store is the full persistence surface of the engine. Components should
// depend on the narrowest sub-interface that serves them.
type Store interface {
	SearchStore
	GraphStore
	ExternalKBStore
	CatalogStore
	AnalyticsStore
	WriteStore
}
