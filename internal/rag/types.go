// Package rag assembles the evidence context for a single question:
// query rewriting, intent classification, compare fan-out, graph and
// external-KB merging, epistemic classification and answer-mode gating.
package rag

import (
	"errors"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/storage"
)

// ErrNoEvidence is returned when every retrieval path failed and no
// evidence survives. Callers surface it as a localized "no context
// found" answer instead of a hard error.
var ErrNoEvidence = errors.New("no evidence assembled")

// AnswerMode tells the answer engine which template to run.
type AnswerMode string

const (
	ModeQuote     AnswerMode = "QUOTE"
	ModeHybrid    AnswerMode = "HYBRID"
	ModeSynthesis AnswerMode = "SYNTHESIS"
	ModeAnalytic  AnswerMode = "ANALYTIC"
)

// Complexity is the coarse effort estimate for a question.
type Complexity string

const (
	ComplexityHigh Complexity = "HIGH"
	ComplexityLow  Complexity = "LOW"
)

// Level is the epistemic confidence tier of one evidence chunk.
type Level string

const (
	LevelA Level = "A"
	LevelB Level = "B"
	LevelC Level = "C"
)

// Feature is one regex-detected evidence signal. Features sum into the
// answerability score and drive the level rules.
type Feature string

const (
	FeatureKeywordMatch    Feature = "KEYWORD_MATCH"
	FeatureDefinitional    Feature = "DEFINITIONAL"
	FeatureTheory          Feature = "THEORY"
	FeatureModality        Feature = "MODALITY"
	FeaturePersonalComment Feature = "PERSONAL_COMMENT"
	FeatureEvaluative      Feature = "EVALUATIVE"
)

// PassageType is the collaborator-assigned passage category.
type PassageType string

const (
	PassageDefinition  PassageType = "DEFINITION"
	PassageTheory      PassageType = "THEORY"
	PassageNarrative   PassageType = "NARRATIVE"
	PassageSituational PassageType = "SITUATIONAL"
)

// Quotability grades how directly a passage can be quoted.
type Quotability string

const (
	QuotabilityHigh   Quotability = "HIGH"
	QuotabilityMedium Quotability = "MEDIUM"
	QuotabilityLow    Quotability = "LOW"
)

// NetworkStatus reports whether the question can be grounded in the
// user's own library, needs external augmentation, or neither.
type NetworkStatus string

const (
	NetworkIn     NetworkStatus = "IN_NETWORK"
	NetworkOut    NetworkStatus = "OUT_OF_NETWORK"
	NetworkHybrid NetworkStatus = "HYBRID"
)

// ScopeMode steers which slice of the library the retrieval favours.
type ScopeMode string

const (
	ScopeAuto           ScopeMode = "AUTO"
	ScopeBookFirst      ScopeMode = "BOOK_FIRST"
	ScopeHighlightFirst ScopeMode = "HIGHLIGHT_FIRST"
	ScopeGlobal         ScopeMode = "GLOBAL"
)

// CompareMode controls when the multi-book compare fan-out engages.
type CompareMode string

const (
	CompareExplicitOnly CompareMode = "EXPLICIT_ONLY"
	CompareAuto         CompareMode = "AUTO"
)

// Evidence source labels, recorded per chunk by the assembler pass that
// contributed it.
const (
	SourceCompare       = "compare"
	SourceOrchestrator  = "search_orchestrator"
	SourceGraph         = "graph"
	SourceExternalKB    = "external_kb"
	SourceSupplementary = "supplementary"
)

// EvidencePolicyCompareV1 names the per-target primary/secondary
// retrieval split used by the compare fan-out.
const EvidencePolicyCompareV1 = "TEXT_PRIMARY_NOTES_SECONDARY_V1"

// ChatTurn is one prior message of the conversation.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one question to assemble evidence for. Inputs are
// assumed validated and normalized by the request layer.
type Request struct {
	Question       string
	UserID         uuid.UUID
	ContextItemID  *uuid.UUID
	ChatHistory    []ChatTurn
	SessionSummary string
	SessionID      string

	Limit  int
	Offset int

	ScopeMode   ScopeMode
	CompareMode CompareMode
	// TargetItemIDs are explicit compare targets; unauthorized entries
	// are dropped silently.
	TargetItemIDs []uuid.UUID
	// IncludeNotesTarget adds the user-notes pseudo-target to a compare
	// against the context book.
	IncludeNotesTarget bool

	ResourceType  storage.ResourceType
	ContentType   storage.ContentType
	IngestionType storage.IngestionType
	Scope         storage.VisibilityScope
}

// Annotation carries the diagnostic state the assembler derives for one
// chunk. It lives beside the chunk, never inside it.
type Annotation struct {
	// Source is the assembler pass that contributed the chunk.
	Source string `json:"source"`

	Features []Feature `json:"features,omitempty"`
	// Score is the answerability score, 0..7.
	Score       float64     `json:"answerability_score"`
	Level       Level       `json:"epistemic_level"`
	PassageType PassageType `json:"passage_type"`
	Quotability Quotability `json:"quotability"`
	ExactMatch  bool        `json:"exact_match"`

	ComparePrimary   bool      `json:"compare_primary,omitempty"`
	CompareSecondary bool      `json:"compare_secondary,omitempty"`
	CompareTarget    uuid.UUID `json:"compare_target,omitempty"`

	// GraphBoosted marks a graph hit whose score came from the relation
	// strength instead of keyword features.
	GraphBoosted bool `json:"graph_boosted,omitempty"`

	// Weighted is the retrieval score after the intent/level weighting;
	// the final evidence order sorts on it.
	Weighted float64 `json:"weighted_score"`
}

// Has reports whether the feature was detected.
func (a Annotation) Has(f Feature) bool {
	for _, g := range a.Features {
		if g == f {
			return true
		}
	}
	return false
}

// Evidence is one retrieved chunk plus the assembler's annotation.
type Evidence struct {
	search.Hit
	Annotation Annotation `json:"annotation"`
}

// Context is the assembled input for answer generation.
type Context struct {
	Question string `json:"question"`
	// Original is the question as asked, before any rewrite.
	Original   string          `json:"original_question"`
	Intent     search.Intent   `json:"intent"`
	Complexity Complexity      `json:"complexity"`
	Keywords   []string        `json:"keywords"`
	Evidence   []Evidence      `json:"evidence"`
	Mode       AnswerMode      `json:"answer_mode"`
	Confidence float64         `json:"confidence"`
	Network    NetworkStatus   `json:"network_status"`
	Metadata   search.Metadata `json:"metadata"`
}
