// Package search implements the retrieval orchestrator: a rule-based
// router over exact, lemma and semantic strategies, graph and external
// KB side-paths, deterministic fusion and a two-layer response cache.
package search

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/storage"
)

// Intent is the classified intent of a query. The RAG layer classifies
// questions into the same vocabulary before invoking the orchestrator.
type Intent string

const (
	IntentDirect          Intent = "DIRECT"
	IntentCitationSeeking Intent = "CITATION_SEEKING"
	IntentFollowUp        Intent = "FOLLOW_UP"
	IntentNarrative       Intent = "NARRATIVE"
	IntentComparative     Intent = "COMPARATIVE"
	IntentSynthesis       Intent = "SYNTHESIS"
)

// RouterMode is the retrieval mode selected by the rule-based router.
type RouterMode string

const (
	ModeFastExact     RouterMode = "fast_exact"
	ModeSemanticFocus RouterMode = "semantic_focus"
	ModeBalanced      RouterMode = "balanced"
)

// Bucket names identify which strategy produced a hit.
const (
	BucketExact      = "exact"
	BucketLemma      = "lemma"
	BucketSemantic   = "semantic"
	BucketGraph      = "graph"
	BucketExternalKB = "external_kb"
	BucketShadow     = "shadow_rescue"
)

// MixLexicalThenSemanticTail is the result mix policy that returns all
// lexical hits followed by a capped, noise-guarded semantic tail.
const MixLexicalThenSemanticTail = "lexical_then_semantic_tail"

// Hit is one retrieval result: a scored chunk tagged with the bucket
// that produced it.
type Hit struct {
	storage.ChunkHit
	Bucket string `json:"bucket"`
}

// Metadata is the diagnostics envelope returned with every response.
// Keys are stable and additive; consumers must ignore unknown keys.
type Metadata map[string]interface{}

// Merge copies every key of other into m, overwriting on conflict.
func (m Metadata) Merge(other Metadata) {
	for k, v := range other {
		m[k] = v
	}
}

// Request is one orchestrated search.
type Request struct {
	Query  string
	UserID uuid.UUID
	Limit  int
	Offset int
	// Intent is optional; empty routes through the default rules.
	Intent  Intent
	Filters storage.Filters
	// MixPolicy selects the post-fusion result shape. Only
	// MixLexicalThenSemanticTail is recognised.
	MixPolicy string
	// SemanticTailCap overrides the configured tail cap when positive.
	SemanticTailCap int
}

// Response is the orchestrator's answer.
type Response struct {
	Results    []Hit    `json:"results"`
	TotalCount int      `json:"total_count"`
	Metadata   Metadata `json:"metadata"`
}

// Route is the router's decision for one request.
type Route struct {
	Mode    RouterMode
	Buckets []string
	Reason  string
}

// Has reports whether the route selected the bucket.
func (r Route) Has(bucket string) bool {
	for _, b := range r.Buckets {
		if b == bucket {
			return true
		}
	}
	return false
}

// FusionMode selects how buckets are merged into one ranked list.
type FusionMode string

const (
	FusionRRF    FusionMode = "rrf"
	FusionConcat FusionMode = "concat"
)

// Config carries the orchestrator policy knobs. The config package
// populates it from SEARCH_* options; tests set fields directly.
type Config struct {
	// RuleRouterEnabled turns the rule-based router on. When false every
	// request uses DefaultMode's buckets.
	RuleRouterEnabled bool
	DefaultMode       RouterMode
	FusionMode        FusionMode

	NoiseGuardEnabled        bool
	TypoRescueEnabled        bool
	LemmaSeedFallbackEnabled bool
	DynamicSingleTokenCap    bool

	// SemanticTailCap bounds the semantic tail under the mix policy.
	SemanticTailCap int

	// ExpansionMax bounds LLM query variations, default 2, hard max 3.
	ExpansionMax int
	// ExpansionTailFix tightens the expansion timeout from 6s to 2s.
	ExpansionTailFix bool

	// MinPrimaryRows triggers the LIKE backfill when the token pass
	// returns fewer rows.
	MinPrimaryRows int
	// SingleTokenExact lets the token pass run for one-token queries.
	SingleTokenExact bool

	// Workers bounds concurrent strategy goroutines.
	Workers int

	CacheEnabled bool
	CacheTTL     time.Duration
	// EmbeddingModelVersion participates in cache keys so model upgrades
	// invalidate stale entries without a manual flush.
	EmbeddingModelVersion string
}

// withDefaults fills zero fields with the documented defaults.
func (c Config) withDefaults() Config {
	if c.DefaultMode == "" {
		c.DefaultMode = ModeBalanced
	}
	if c.FusionMode == "" {
		c.FusionMode = FusionConcat
	}
	if c.SemanticTailCap <= 0 {
		c.SemanticTailCap = 6
	}
	if c.ExpansionMax <= 0 {
		c.ExpansionMax = 2
	}
	if c.ExpansionMax > 3 {
		c.ExpansionMax = 3
	}
	if c.MinPrimaryRows <= 0 {
		c.MinPrimaryRows = 1
	}
	if c.Workers <= 0 {
		c.Workers = 6
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	return c
}

// ExpansionTimeout is the hard budget for LLM query expansion.
func (c Config) ExpansionTimeout() time.Duration {
	if c.ExpansionTailFix {
		return 2 * time.Second
	}
	return 6 * time.Second
}

// Corrector proposes a corrected form of a likely-misspelled query.
// Implementations return ok=false when no better form is known.
type Corrector interface {
	Correct(ctx context.Context, userID uuid.UUID, query string) (corrected string, ok bool)
}

// Expander produces semantic variations of a query for extra vector
// passes. Implementations must respect the context deadline.
type Expander interface {
	Expand(ctx context.Context, query string, max int) ([]string, error)
}

// ConceptExtractor maps a free-form query to concept names when direct
// name matching fails. Backed by an LLM in production.
type ConceptExtractor interface {
	ExtractConcepts(ctx context.Context, query string) ([]string, error)
}

// AnalyticsSink receives best-effort search telemetry.
type AnalyticsSink interface {
	Log(ctx context.Context, entry *storage.SearchLogEntry)
}
