package answer

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tomehub/tomehub/internal/llm"
	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/internal/rag"
	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/storage"
	"github.com/tomehub/tomehub/internal/textnorm"
)

const (
	defaultHistoryTurns    = 6
	defaultAnswerTimeout   = 30 * time.Second
	defaultBudgetTimeout   = 18 * time.Second
	defaultMaxOutputTokens = 650
	defaultBridgeTimeout   = 650 * time.Millisecond
	defaultMinAnswerRunes  = 520
	defaultMinParagraphs   = 2

	answerTemperature = 0.3

	recoveryTimeout        = 25 * time.Second
	recoveryMaxTokens      = 1600
	recoveryKeepDeltaRunes = 40
	recoveryKeepMinRunes   = 260
)

const recoveryInstruction = "Önceki yanıt çok kısaydı. Kanıtları tek tek ele alarak en az üç paragraf yaz, her başlığı doldur ve alıntıları kaynaklarıyla ver."

// ContextAssembler produces the evidence context for a question.
// *rag.Assembler satisfies it.
type ContextAssembler interface {
	Assemble(ctx context.Context, req rag.Request) (*rag.Context, error)
}

// Deps are the engine's collaborators. Assembler is required; Router is
// required for generative answers; Store and Catalog enable the analytic
// short-circuit; Graph enables the synthesis bridge.
type Deps struct {
	Logger    *observability.Logger
	Assembler ContextAssembler
	Router    *llm.Router
	Store     storage.SearchStore
	Catalog   storage.CatalogStore
	Graph     storage.GraphStore
}

// Config carries the engine policy knobs. The config package populates
// it from LLM_* and L3_PERF_* options; tests set fields directly.
type Config struct {
	// HistoryTurns is how many recent messages enter the prompt,
	// default 6.
	HistoryTurns int

	// Timeout bounds a generation call, default 30s. With
	// OutputBudgetEnabled the call runs under BudgetTimeout (default
	// 18s) and MaxOutputTokens (default 650) instead.
	Timeout             time.Duration
	OutputBudgetEnabled bool
	BudgetTimeout       time.Duration
	MaxOutputTokens     int

	// ContextBudgetEnabled caps the evidence blocks entering the prompt.
	ContextBudgetEnabled bool

	// ExplorerEnabled routes high-complexity questions through the
	// explorer ladder rung.
	ExplorerEnabled bool

	// GraphBridgeTimeout bounds the synthesis bridge pass, default 650ms.
	GraphBridgeTimeout time.Duration

	// MinAnswerRunes and MinParagraphs are the richness thresholds below
	// which the short-answer recovery re-invokes, defaults 520 and 2.
	MinAnswerRunes int
	MinParagraphs  int
}

func (c Config) withDefaults() Config {
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = defaultHistoryTurns
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultAnswerTimeout
	}
	if c.BudgetTimeout <= 0 {
		c.BudgetTimeout = defaultBudgetTimeout
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = defaultMaxOutputTokens
	}
	if c.GraphBridgeTimeout <= 0 {
		c.GraphBridgeTimeout = defaultBridgeTimeout
	}
	if c.MinAnswerRunes <= 0 {
		c.MinAnswerRunes = defaultMinAnswerRunes
	}
	if c.MinParagraphs <= 0 {
		c.MinParagraphs = defaultMinParagraphs
	}
	return c
}

// Engine produces the final answer: analytic pre-check, context
// assembly, synthesis bridge, prompt build, the provider ladder and
// short-answer recovery. Failures degrade to localized fallback texts;
// the engine never surfaces an upstream error to the user.
type Engine struct {
	cfg       Config
	log       *observability.Logger
	assembler ContextAssembler
	router    *llm.Router
	analytic  *analyticAnswerer
	bridge    *graphBridge
	prompts   *promptBuilder
}

// NewEngine wires the answer pipeline from deps and config.
func NewEngine(deps Deps, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	log := deps.Logger
	if log == nil {
		log = observability.Nop()
	}
	e := &Engine{
		cfg:       cfg,
		log:       log.WithComponent("answer_engine"),
		assembler: deps.Assembler,
		router:    deps.Router,
		prompts:   newPromptBuilder(cfg.HistoryTurns, cfg.ContextBudgetEnabled),
	}
	if deps.Store != nil {
		e.analytic = newAnalyticAnswerer(deps.Store, deps.Catalog, log)
	}
	if deps.Graph != nil {
		e.bridge = newGraphBridge(deps.Graph, log, cfg.GraphBridgeTimeout)
	}
	return e
}

// Answer runs the full pipeline for one question. The returned error is
// non-nil only when the caller's context ended; every upstream failure
// degrades to a fallback answer with diagnostics in the metadata.
func (e *Engine) Answer(ctx context.Context, req rag.Request) (*Answer, error) {
	start := time.Now()

	if e.analytic != nil {
		if ans, ok := e.analytic.try(ctx, req); ok {
			return ans, nil
		}
	}

	actx, err := e.assembler.Assemble(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.log.Warn().Err(err).Msg("context assembly produced no evidence")
		meta := search.Metadata{"status": StatusNoContext}
		if !errors.Is(err, rag.ErrNoEvidence) {
			appendDegradation(meta, "assembler", err.Error())
		}
		return &Answer{Text: noContextMessage, Metadata: meta}, nil
	}

	meta := make(search.Metadata, len(actx.Metadata)+12)
	meta.Merge(actx.Metadata)

	var bridgeLines []string
	if e.bridge != nil && actx.Mode == rag.ModeSynthesis {
		lines, timedOut := e.bridge.sentences(ctx, actx.Evidence)
		if timedOut {
			meta["graph_bridge_timeout"] = true
		}
		if len(lines) > 0 {
			bridgeLines = lines
			meta["graph_bridge_applied"] = true
			meta["graph_bridge_edge_count"] = len(lines)
		}
	}

	built := e.prompts.build(req, actx, bridgeLines)
	sources := buildSources(built.used)
	meta["used_chunk_count"] = len(built.used)

	if e.router == nil {
		meta["status"] = StatusLLMError
		appendDegradation(meta, "llm", "router_unconfigured")
		return &Answer{Text: llmFailureMessage, Sources: sources, Metadata: meta}, nil
	}

	routeMode := llm.RouteStandard
	if e.cfg.ExplorerEnabled && actx.Complexity == rag.ComplexityHigh {
		routeMode = llm.RouteExplorer
	}
	meta["llm_route_mode"] = string(routeMode)

	timeout := e.cfg.Timeout
	maxTokens := 0
	if e.cfg.OutputBudgetEnabled {
		timeout = e.cfg.BudgetTimeout
		maxTokens = e.cfg.MaxOutputTokens
	}
	meta["llm_generation_timeout_applied"] = e.cfg.OutputBudgetEnabled

	res, err := e.generate(ctx, built.system, built.user, routeMode, timeout, maxTokens)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.log.Error().Err(err).Msg("every llm rung failed, surfacing fallback text")
		meta["status"] = StatusLLMError
		appendDegradation(meta, "llm", err.Error())
		return &Answer{Text: llmFailureMessage, Sources: sources, Metadata: meta}, nil
	}

	text := strings.TrimSpace(res.Text)
	if actx.Network == rag.NetworkOut {
		text = ensureOutOfNetworkPrefix(text)
	}

	finalRes := res
	if e.needsRecovery(text, actx.Mode) {
		meta["short_answer_recovery_applied"] = true
		kept := false
		if rec, recErr := e.recover(ctx, actx, built.user); recErr == nil {
			recText := strings.TrimSpace(rec.Text)
			if actx.Network == rag.NetworkOut {
				recText = ensureOutOfNetworkPrefix(recText)
			}
			if keepRecovered(text, recText) {
				text = recText
				finalRes = rec
				kept = true
			}
		} else {
			e.log.Warn().Err(recErr).Msg("short-answer recovery call failed, keeping first answer")
		}
		meta["short_answer_recovery_kept"] = kept
	}

	meta["status"] = StatusOK
	meta["model_name"] = finalRes.ModelUsed
	meta["model_tier"] = finalRes.ModelTier
	meta["provider_name"] = finalRes.ProviderName
	meta["secondary_fallback_applied"] = finalRes.FallbackApplied
	meta["fallback_reason"] = finalRes.FallbackReason
	meta["answer_latency_ms"] = time.Since(start).Milliseconds()

	e.log.Info().
		Str("mode", string(actx.Mode)).
		Str("model", finalRes.ModelUsed).
		Int("evidence", len(built.used)).
		Int("answer_runes", utf8.RuneCountInString(text)).
		Msg("answer generated")

	return &Answer{Text: text, Sources: sources, Metadata: meta}, nil
}

// generate runs one provider-ladder call under its own deadline.
func (e *Engine) generate(ctx context.Context, system, user string, route llm.RouteMode, timeout time.Duration, maxTokens int) (*llm.GenerateResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.router.Generate(callCtx, user, llm.GenerateOptions{
		System:           system,
		Temperature:      answerTemperature,
		MaxOutputTokens:  maxTokens,
		Timeout:          timeout,
		RouteMode:        route,
		AllowSecondary:   true,
		AllowProFallback: true,
	})
}

// recover re-invokes once with the richer synthesis (or hybrid) template
// and a stricter instruction block.
func (e *Engine) recover(ctx context.Context, actx *rag.Context, user string) (*llm.GenerateResult, error) {
	mode := rag.ModeSynthesis
	if actx.Network == rag.NetworkHybrid {
		mode = rag.ModeHybrid
	}
	system := e.prompts.systemFor(actx, mode) + "\n" + recoveryInstruction
	return e.generate(ctx, system, user, llm.RouteStandard, recoveryTimeout, recoveryMaxTokens)
}

// needsRecovery reports whether the answer misses the richness bar:
// too short, too few paragraphs, or missing a required heading.
func (e *Engine) needsRecovery(text string, mode rag.AnswerMode) bool {
	if utf8.RuneCountInString(text) < e.cfg.MinAnswerRunes {
		return true
	}
	if countParagraphs(text) < e.cfg.MinParagraphs {
		return true
	}
	for _, h := range requiredHeadings(mode) {
		if !strings.Contains(text, h) {
			return true
		}
	}
	return false
}

func countParagraphs(text string) int {
	n := 0
	for _, block := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(block) != "" {
			n++
		}
	}
	return n
}

// keepRecovered applies the recovery keep rule: materially longer than
// the first answer and substantial on its own.
func keepRecovered(first, recovered string) bool {
	f := utf8.RuneCountInString(first)
	r := utf8.RuneCountInString(recovered)
	return r >= f+recoveryKeepDeltaRunes && r >= recoveryKeepMinRunes
}

// ensureOutOfNetworkPrefix guarantees the out-of-network disclaimer at
// the head of the answer without duplicating a variant the model already
// produced.
func ensureOutOfNetworkPrefix(text string) string {
	head := text
	if runes := []rune(text); len(runes) > 160 {
		head = string(runes[:160])
	}
	if strings.Contains(textnorm.Normalize(head), "bulamadim") {
		return text
	}
	return outOfNetworkPrefix + text
}

// buildSources mirrors the used evidence into the response source list.
func buildSources(evidence []rag.Evidence) []Source {
	sources := make([]Source, 0, len(evidence))
	for _, ev := range evidence {
		sources = append(sources, Source{
			ID:         ev.ID,
			Title:      ev.Title,
			PageNumber: ev.PageNumber,
			Snippet:    truncateRunes(textnorm.CollapseWhitespace(ev.Text), sourceSnippetRunes),
			Score:      ev.Score,
		})
	}
	return sources
}

// appendDegradation records a failed stage, tolerating the
// []interface{} shape a cache round-trip leaves behind.
func appendDegradation(meta search.Metadata, component, reason string) {
	d := search.Metadata{"component": component, "reason": reason, "severity": "high"}
	switch existing := meta["degradations"].(type) {
	case []search.Metadata:
		meta["degradations"] = append(existing, d)
	case []interface{}:
		meta["degradations"] = append(existing, d)
	default:
		meta["degradations"] = []search.Metadata{d}
	}
}
