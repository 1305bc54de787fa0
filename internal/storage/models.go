// Package storage defines the TomeHub data model and the persistence
// contracts the retrieval core depends on.
package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ContentType classifies what a chunk's text is.
type ContentType string

const (
	ContentTypeBookChunk   ContentType = "BOOK_CHUNK"
	ContentTypeHighlight   ContentType = "HIGHLIGHT"
	ContentTypeInsight     ContentType = "INSIGHT"
	ContentTypeNote        ContentType = "NOTE"
	ContentTypeArticleBody ContentType = "ARTICLE_BODY"
	ContentTypeWebsiteBody ContentType = "WEBSITE_BODY"
	ContentTypeItemSummary ContentType = "ITEM_SUMMARY"
	ContentTypeExternalKB  ContentType = "EXTERNAL_KB"
)

// IngestionType records how a chunk entered the library.
type IngestionType string

const (
	IngestionTypePDF    IngestionType = "PDF"
	IngestionTypeEPUB   IngestionType = "EPUB"
	IngestionTypeWeb    IngestionType = "WEB"
	IngestionTypeManual IngestionType = "MANUAL"
	IngestionTypeSync   IngestionType = "SYNC"
)

// Visibility controls whether a chunk or item is retrievable by search.
type Visibility string

const (
	VisibilityDefault           Visibility = "DEFAULT"
	VisibilityExcludedByDefault Visibility = "EXCLUDED_BY_DEFAULT"
	VisibilityNeverRetrieve     Visibility = "NEVER_RETRIEVE"
)

// VisibilityScope selects which visibility classes a query admits.
type VisibilityScope string

const (
	// VisibilityScopeDefault admits only VisibilityDefault chunks.
	VisibilityScopeDefault VisibilityScope = "default"
	// VisibilityScopeAll admits everything except VisibilityNeverRetrieve.
	VisibilityScopeAll VisibilityScope = "all"
)

// Admits reports whether a chunk with the given visibility is retrievable
// under this scope. VisibilityNeverRetrieve is never admitted.
func (s VisibilityScope) Admits(v Visibility) bool {
	switch v {
	case VisibilityNeverRetrieve:
		return false
	case VisibilityExcludedByDefault:
		return s == VisibilityScopeAll
	default:
		return true
	}
}

// ItemType classifies a library item.
type ItemType string

const (
	ItemTypeBook         ItemType = "BOOK"
	ItemTypeArticle      ItemType = "ARTICLE"
	ItemTypeWebsite      ItemType = "WEBSITE"
	ItemTypePersonalNote ItemType = "PERSONAL_NOTE"
)

// ResourceType is the coarse filter vocabulary accepted by search requests.
// A raw ContentType value is also accepted and filters to exactly that type.
type ResourceType string

const (
	ResourceTypeBook         ResourceType = "BOOK"
	ResourceTypeAllNotes     ResourceType = "ALL_NOTES"
	ResourceTypePersonalNote ResourceType = "PERSONAL_NOTE"
	ResourceTypeArticle      ResourceType = "ARTICLE"
	ResourceTypeWebsite      ResourceType = "WEBSITE"
)

// ContentTypes expands a resource type to the chunk content types it covers.
// Unknown values are treated as a raw content type.
func (r ResourceType) ContentTypes() []ContentType {
	switch r {
	case "":
		return nil
	case ResourceTypeBook:
		return []ContentType{ContentTypeBookChunk, ContentTypeHighlight, ContentTypeInsight, ContentTypeItemSummary}
	case ResourceTypeAllNotes:
		return []ContentType{ContentTypeHighlight, ContentTypeInsight, ContentTypeNote}
	case ResourceTypePersonalNote:
		return []ContentType{ContentTypeNote}
	case ResourceTypeArticle:
		return []ContentType{ContentTypeArticleBody}
	case ResourceTypeWebsite:
		return []ContentType{ContentTypeWebsiteBody}
	default:
		return []ContentType{ContentType(r)}
	}
}

// RelationType labels an edge in the concept graph.
type RelationType string

const (
	RelationIsA                RelationType = "IS_A"
	RelationDefines            RelationType = "DEFINES"
	RelationPartOf             RelationType = "PART_OF"
	RelationSemanticSimilarity RelationType = "SEMANTIC_SIMILARITY"
	RelationSynonym            RelationType = "SYNONYM"
	RelationRelatedTo          RelationType = "RELATED_TO"
	RelationCoOccurrence       RelationType = "CO_OCCURRENCE"
	RelationCites              RelationType = "CITES"
)

// ExternalProvider identifies an external knowledge base.
type ExternalProvider string

const (
	ProviderOpenLibrary ExternalProvider = "OPENLIBRARY"
	ProviderWikidata    ExternalProvider = "WIKIDATA"
)

// ExternalEntityType classifies a node imported from an external KB.
type ExternalEntityType string

const (
	ExternalEntityWork    ExternalEntityType = "WORK"
	ExternalEntityAuthor  ExternalEntityType = "AUTHOR"
	ExternalEntitySubject ExternalEntityType = "SUBJECT"
)

// Chunk is the retrieval unit: a fragment of library content together with
// its search artifacts (normalized text, lemmas, embedding).
type Chunk struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	UserID         uuid.UUID     `json:"user_id" db:"user_id"`
	ItemID         uuid.UUID     `json:"item_id" db:"item_id"`
	Title          string        `json:"title" db:"title"`
	ContentType    ContentType   `json:"content_type" db:"content_type"`
	IngestionType  IngestionType `json:"ingestion_type" db:"ingestion_type"`
	Text           string        `json:"text" db:"text"`
	NormalizedText string        `json:"normalized_text" db:"normalized_text"`
	Lemmas         []string      `json:"lemmas,omitempty" db:"lemmas"`
	PageNumber     *int          `json:"page_number,omitempty" db:"page_number"`
	ChunkIndex     int           `json:"chunk_index" db:"chunk_index"`
	Comment        *string       `json:"comment,omitempty" db:"comment"`
	Tags           []string      `json:"tags,omitempty" db:"tags"`
	Vector         []float32     `json:"-" db:"vector"`
	EmbeddingModel *string       `json:"embedding_model,omitempty" db:"embedding_model"`
	RAGWeight      float64       `json:"rag_weight" db:"rag_weight"`
	Visibility     Visibility    `json:"search_visibility" db:"search_visibility"`
	AIEligible     bool          `json:"ai_eligible" db:"ai_eligible"`
	ContentHash    string        `json:"content_hash" db:"content_hash"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// LibraryItem is a book, article, website or personal note collection
// that chunks belong to.
type LibraryItem struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     uuid.UUID  `json:"user_id" db:"user_id"`
	Type       ItemType   `json:"item_type" db:"item_type"`
	Title      string     `json:"title" db:"title"`
	Author     *string    `json:"author,omitempty" db:"author"`
	Summary    *string    `json:"summary,omitempty" db:"summary"`
	Visibility Visibility `json:"search_visibility" db:"search_visibility"`
	Tags       []string   `json:"tags,omitempty" db:"tags"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Concept is a node in the personal knowledge graph.
type Concept struct {
	ID                uuid.UUID `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	NormalizedName    string    `json:"normalized_name" db:"normalized_name"`
	Aliases           []string  `json:"aliases,omitempty" db:"aliases"`
	Description       *string   `json:"description,omitempty" db:"description"`
	DescriptionVector []float32 `json:"-" db:"description_vector"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// Relation is a weighted, typed edge between two concepts.
type Relation struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	SourceID  uuid.UUID    `json:"source_id" db:"source_id"`
	TargetID  uuid.UUID    `json:"target_id" db:"target_id"`
	Type      RelationType `json:"relation_type" db:"relation_type"`
	Weight    float64      `json:"weight" db:"weight"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// RelationEdge is a relation joined with the names of both endpoints,
// for queries that feed human-readable output.
type RelationEdge struct {
	Relation
	SourceName string `json:"source_name"`
	TargetName string `json:"target_name"`
}

// ConceptChunkLink ties a concept to a chunk that evidences it.
type ConceptChunkLink struct {
	ConceptID     uuid.UUID `json:"concept_id" db:"concept_id"`
	ChunkID       uuid.UUID `json:"chunk_id" db:"chunk_id"`
	Strength      float64   `json:"strength" db:"strength"`
	Justification *string   `json:"justification,omitempty" db:"justification"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ExternalEntity is a node imported from an external knowledge base.
type ExternalEntity struct {
	ID         uuid.UUID          `json:"id" db:"id"`
	Provider   ExternalProvider   `json:"provider" db:"provider"`
	ExternalID string             `json:"external_id" db:"external_id"`
	Type       ExternalEntityType `json:"entity_type" db:"entity_type"`
	Label      string             `json:"label" db:"label"`
	CreatedAt  time.Time          `json:"created_at" db:"created_at"`
}

// ExternalEdge connects two external entities on behalf of a library item.
// SourceLabel and TargetLabel are denormalized from the entity rows.
type ExternalEdge struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	UserID      uuid.UUID        `json:"user_id" db:"user_id"`
	ItemID      uuid.UUID        `json:"item_id" db:"item_id"`
	SourceID    uuid.UUID        `json:"source_entity_id" db:"source_entity_id"`
	TargetID    uuid.UUID        `json:"target_entity_id" db:"target_entity_id"`
	Type        string           `json:"relation_type" db:"relation_type"`
	Weight      float64          `json:"weight" db:"weight"`
	Provider    ExternalProvider `json:"provider" db:"provider"`
	SourceLabel string           `json:"source_label" db:"-"`
	TargetLabel string           `json:"target_label" db:"-"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}

// ExternalMeta records the provider mapping for a library item.
type ExternalMeta struct {
	ItemID       uuid.UUID        `json:"item_id" db:"item_id"`
	UserID       uuid.UUID        `json:"user_id" db:"user_id"`
	Provider     ExternalProvider `json:"provider" db:"provider"`
	ExternalID   string           `json:"external_id" db:"external_id"`
	MatchScore   float64          `json:"match_score" db:"match_score"`
	EdgeCount    int              `json:"edge_count" db:"edge_count"`
	LastSyncedAt time.Time        `json:"last_synced_at" db:"last_synced_at"`
}

// BookTitle is one row of the per-user book catalog used for fuzzy
// title resolution.
type BookTitle struct {
	ItemID uuid.UUID `json:"item_id" db:"item_id"`
	Title  string    `json:"title" db:"title"`
	Author *string   `json:"author,omitempty" db:"author"`
}

// SearchLogEntry is one analytics row describing a completed search.
type SearchLogEntry struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	Query           string          `json:"query" db:"query"`
	NormalizedQuery string          `json:"normalized_query" db:"normalized_query"`
	Intent          string          `json:"intent" db:"intent"`
	RouterMode      string          `json:"router_mode" db:"router_mode"`
	ResultCount     int             `json:"result_count" db:"result_count"`
	TopScore        *float64        `json:"top_score,omitempty" db:"top_score"`
	TopChunkID      *uuid.UUID      `json:"top_chunk_id,omitempty" db:"top_chunk_id"`
	CacheHit        bool            `json:"cache_hit" db:"cache_hit"`
	DurationMs      int64           `json:"duration_ms" db:"duration_ms"`
	StrategyDetails json.RawMessage `json:"strategy_details,omitempty" db:"strategy_details"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}
