package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/storage"
)

// Searcher is the orchestrated retrieval entry point.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// GraphSearcher is the concept-graph side path. *search.GraphStrategy
// satisfies it.
type GraphSearcher interface {
	Search(ctx context.Context, req search.Request, fetch int) ([]search.Hit, error)
}

// KBExplorer reads scored external knowledge-base edges for one item.
// *search.ExternalKB satisfies it.
type KBExplorer interface {
	Enabled() bool
	Edges(ctx context.Context, userID, itemID uuid.UUID, query string, limit int) ([]search.Hit, error)
}

// Deps are the assembler's collaborators. Search is required; every
// optional collaborator degrades to a skipped stage when absent.
type Deps struct {
	Logger   *observability.Logger
	Search   Searcher
	Graph    GraphSearcher
	External KBExplorer
	Catalog  storage.CatalogStore
	Rewriter *Rewriter
	Passage  PassageClassifier
	Network  NetworkDetector
}

// Config carries the assembler policy knobs. The config package
// populates it from RAG_* and L3_PERF_* options; tests set fields
// directly.
type Config struct {
	Compare CompareConfig

	// GraphTimeout bounds the parallel graph pass, default 120ms.
	GraphTimeout time.Duration
	// GraphDirectSkip drops the graph pass for direct and follow-up
	// questions.
	GraphDirectSkip bool

	// KBTopItems is how many candidate books feed the external-KB
	// explorer when no context book is set, default 3.
	KBTopItems int
	// KBMaxCandidates is the per-item edge limit, default 12.
	KBMaxCandidates int
	// KBWeight dampens external rows in the final sort, default 0.15.
	KBWeight float64

	// SupplementaryGateEnabled turns the sparse-pool keyword pass on.
	SupplementaryGateEnabled bool
	// GapFillThreshold is the combined-pool bound below which the pool
	// counts as sparse; zero falls back to the request limit.
	GapFillThreshold int

	// MaxStandard caps the assembled evidence before gold additions,
	// default 40.
	MaxStandard int
}

func (c Config) withDefaults() Config {
	c.Compare = c.Compare.withDefaults()
	if c.GraphTimeout <= 0 {
		c.GraphTimeout = 120 * time.Millisecond
	}
	if c.KBTopItems <= 0 {
		c.KBTopItems = 3
	}
	if c.KBMaxCandidates <= 0 {
		c.KBMaxCandidates = 12
	}
	if c.KBWeight <= 0 {
		c.KBWeight = defaultExternalKBWeight
	}
	if c.MaxStandard <= 0 {
		c.MaxStandard = 40
	}
	return c
}

const defaultEvidenceLimit = 10

// Assembler builds the evidence context for one question: rewrite,
// classify, compare fan-out, orchestrated retrieval with a parallel
// graph pass, external-KB merge, supplementary fill, epistemic
// classification, weighting and the answer-mode gate.
type Assembler struct {
	cfg       Config
	log       *observability.Logger
	search    Searcher
	graph     GraphSearcher
	external  KBExplorer
	rewriter  *Rewriter
	compare   *comparePolicy
	intents   *IntentClassifier
	epistemic *EpistemicClassifier
	network   NetworkDetector
}

// NewAssembler wires the pipeline from deps and config.
func NewAssembler(deps Deps, cfg Config) *Assembler {
	cfg = cfg.withDefaults()
	log := deps.Logger
	if log == nil {
		log = observability.Nop()
	}
	network := deps.Network
	if network == nil {
		network = NewThresholdNetworkDetector(0, 0)
	}
	return &Assembler{
		cfg:       cfg,
		log:       log.WithComponent("context_assembler"),
		search:    deps.Search,
		graph:     deps.Graph,
		external:  deps.External,
		rewriter:  deps.Rewriter,
		compare:   newComparePolicy(log, deps.Search, deps.Catalog, cfg.Compare),
		intents:   NewIntentClassifier(),
		epistemic: NewEpistemicClassifier(log, deps.Passage),
		network:   network,
	}
}

type graphResult struct {
	hits     []search.Hit
	err      error
	timedOut bool
}

// Assemble runs the pipeline for one question. ErrNoEvidence is
// returned only when every retrieval path failed outright; an empty
// but successful retrieval yields a context with no evidence.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Context, error) {
	start := time.Now()
	if req.Limit <= 0 {
		req.Limit = defaultEvidenceLimit
	}
	meta := search.Metadata{}
	var degradations []search.Metadata

	// 1. Query rewriting.
	question := req.Question
	followUp := false
	if a.rewriter != nil {
		outcome := a.rewriter.Rewrite(ctx, req.Question, req.ChatHistory)
		question = outcome.Query
		followUp = outcome.Anaphoric
		meta["query_rewrite_applied"] = outcome.Applied
		if outcome.Applied {
			meta["rewritten_query"] = outcome.Query
			meta["rewrite_cached"] = outcome.Cached
		}
		if outcome.SkipReason != "" {
			meta["rewrite_skip_reason"] = outcome.SkipReason
		}
	}

	// 2. Intent, complexity and keywords.
	cls := a.intents.Classify(question)
	meta["intent"] = string(cls.Intent)
	meta["complexity"] = string(cls.Complexity)

	// 3. Compare fan-out.
	cmp := a.compare.run(ctx, req, question, cls)
	degradations = append(degradations, cmp.degradations...)
	meta["compare_applied"] = cmp.applied
	if len(cmp.unauthorized) > 0 {
		meta["unauthorized_target_book_ids"] = uuidStrings(cmp.unauthorized)
	}
	if cmp.applied {
		meta["evidence_policy"] = EvidencePolicyCompareV1
		meta["target_books_used"] = uuidStrings(cmp.targetsUsed)
		meta["per_book_evidence_count"] = cmp.perBook
		if len(cmp.autoResolved) > 0 {
			meta["auto_resolved_target_book_ids"] = uuidStrings(cmp.autoResolved)
		}
		if cmp.notesTargetAdded {
			meta["notes_target_auto_added"] = true
		}
		meta["latency_budget_hit"] = cmp.latencyBudgetHit
		if cmp.degradeReason != "" {
			meta["compare_degrade_reason"] = cmp.degradeReason
		}
	}

	pool := newEvidencePool()
	for _, ev := range cmp.evidence {
		pool.add(ev)
	}

	// 4. Default retrieval with the graph pass alongside.
	graphCh := a.spawnGraph(ctx, req, question, cls, followUp, meta)

	sreq := search.Request{
		Query:   question,
		UserID:  req.UserID,
		Limit:   req.Limit,
		Offset:  req.Offset,
		Intent:  cls.Intent,
		Filters: a.searchFilters(req, cmp.applied),
	}
	resp, searchErr := a.search.Search(ctx, sreq)
	if searchErr != nil {
		degradations = append(degradations, search.Metadata{
			"component": "search_orchestrator",
			"reason":    searchErr.Error(),
			"severity":  "error",
		})
	} else {
		meta.Merge(resp.Metadata)
		for _, hit := range resp.Results {
			pool.add(Evidence{Hit: hit, Annotation: Annotation{Source: SourceOrchestrator}})
		}
	}

	if graphCh != nil {
		gr := <-graphCh
		switch {
		case gr.timedOut:
			meta["graph_timeout_triggered"] = true
		case gr.err != nil:
			degradations = append(degradations, search.Metadata{
				"component": "graph",
				"reason":    gr.err.Error(),
				"severity":  "warn",
			})
		default:
			for _, hit := range gr.hits {
				pool.add(Evidence{Hit: hit, Annotation: Annotation{Source: SourceGraph}})
			}
			meta["graph_hit_count"] = len(gr.hits)
		}
	}

	// 5. External KB, explorer mode.
	if a.external != nil && a.external.Enabled() {
		edges := a.mergeExternalKB(ctx, req, question, pool, &degradations)
		meta["external_kb_applied"] = edges > 0
		if edges > 0 {
			meta["external_kb_edge_count"] = edges
		}
	}

	// 6. Supplementary keyword pass for sparse pools.
	if a.cfg.SupplementaryGateEnabled && len(cls.Keywords) > 0 {
		a.supplementaryPass(ctx, req, cls, pool, meta, &degradations)
	}

	evidence := pool.list()
	if len(evidence) == 0 && searchErr != nil {
		a.log.Error().Err(searchErr).Str("question", req.Question).Msg("every retrieval path failed")
		return nil, fmt.Errorf("assemble context: %w", ErrNoEvidence)
	}

	// 8-9. Epistemic classification and weighting.
	for i := range evidence {
		a.epistemic.Annotate(ctx, &evidence[i], cls.Keywords)
	}
	applyWeights(cls.Intent, evidence, a.cfg.KBWeight)
	evidence = a.capWithGold(evidence)

	// 10-12. Mode gate, network status, output envelope.
	confidence := contextConfidence(evidence)
	mode, modeReason := DecideMode(cls.Intent, cls.Complexity, evidence)
	status := a.network.Detect(ctx, question, evidence)

	meta["answer_mode"] = string(mode)
	meta["answer_mode_reason"] = modeReason
	meta["confidence"] = confidence
	meta["network_status"] = string(status)
	meta["evidence_count"] = len(evidence)
	meta["quote_target_count"] = quoteTargetCount(mode, confidence)
	if hit, ok := meta["latency_budget_hit"].(bool); ok && hit {
		meta["latency_budget_applied"] = true
	}
	if timedOut, ok := meta["graph_timeout_triggered"].(bool); ok && timedOut {
		meta["latency_budget_applied"] = true
	}
	appendDegradations(meta, degradations)
	meta["assembly_latency_ms"] = time.Since(start).Milliseconds()

	return &Context{
		Question:   question,
		Original:   req.Question,
		Intent:     cls.Intent,
		Complexity: cls.Complexity,
		Keywords:   cls.Keywords,
		Evidence:   evidence,
		Mode:       mode,
		Confidence: confidence,
		Network:    status,
		Metadata:   meta,
	}, nil
}

// spawnGraph launches the bounded graph pass unless the intent rules
// it out. Returns nil when the pass is skipped.
func (a *Assembler) spawnGraph(ctx context.Context, req Request, question string, cls Classification, followUp bool, meta search.Metadata) <-chan graphResult {
	if a.graph == nil {
		return nil
	}
	if a.cfg.GraphDirectSkip && (cls.Intent == search.IntentDirect || followUp) {
		meta["graph_skipped_reason"] = "direct_intent"
		return nil
	}
	ch := make(chan graphResult, 1)
	greq := search.Request{
		Query:   question,
		UserID:  req.UserID,
		Limit:   req.Limit,
		Intent:  cls.Intent,
		Filters: storage.Filters{Scope: req.Scope},
	}
	go func() {
		gctx, cancel := context.WithTimeout(ctx, a.cfg.GraphTimeout)
		defer cancel()
		hits, err := a.graph.Search(gctx, greq, req.Limit)
		ch <- graphResult{
			hits:     hits,
			err:      err,
			timedOut: errors.Is(err, context.DeadlineExceeded),
		}
	}()
	return ch
}

// mergeExternalKB pulls edges for the candidate books and merges them
// into the pool. Returns the number of merged edges.
func (a *Assembler) mergeExternalKB(ctx context.Context, req Request, question string, pool *evidencePool, degradations *[]search.Metadata) int {
	var candidates []uuid.UUID
	if req.ContextItemID != nil {
		candidates = []uuid.UUID{*req.ContextItemID}
	} else {
		candidates = pool.topItems(a.cfg.KBTopItems)
	}
	merged := 0
	for _, itemID := range candidates {
		hits, err := a.external.Edges(ctx, req.UserID, itemID, question, a.cfg.KBMaxCandidates)
		if err != nil {
			*degradations = append(*degradations, search.Metadata{
				"component": "external_kb",
				"reason":    err.Error(),
				"severity":  "warn",
			})
			continue
		}
		for _, hit := range hits {
			pool.add(Evidence{Hit: hit, Annotation: Annotation{Source: SourceExternalKB}})
			merged++
		}
	}
	return merged
}

// supplementaryPass runs the gap-fill keyword search when the pool is
// sparse: few primary rows and a combined pool under the threshold.
func (a *Assembler) supplementaryPass(ctx context.Context, req Request, cls Classification, pool *evidencePool, meta search.Metadata, degradations *[]search.Metadata) {
	gap := a.cfg.GapFillThreshold
	if gap <= 0 {
		gap = req.Limit
	}
	primary := pool.countSource(SourceCompare, SourceOrchestrator)
	primaryCap := req.Limit / 2
	if primaryCap > 10 {
		primaryCap = 10
	}
	if primary > primaryCap || pool.len() >= gap {
		return
	}

	kws := cls.Keywords
	if len(kws) > 2 {
		kws = kws[:2]
	}
	supReq := search.Request{
		Query:     strings.Join(kws, " "),
		UserID:    req.UserID,
		Limit:     req.Limit,
		Intent:    cls.Intent,
		Filters:   a.searchFilters(req, false),
		MixPolicy: search.MixLexicalThenSemanticTail,
	}
	resp, err := a.search.Search(ctx, supReq)
	if err != nil {
		*degradations = append(*degradations, search.Metadata{
			"component": "supplementary",
			"reason":    err.Error(),
			"severity":  "warn",
		})
		return
	}
	for _, hit := range resp.Results {
		pool.add(Evidence{Hit: hit, Annotation: Annotation{Source: SourceSupplementary}})
	}
	meta["supplementary_applied"] = true
	meta["supplementary_query"] = supReq.Query
}

// searchFilters resolves the orchestrator filters from the request
// scope. The item restriction is dropped once compare has fanned out.
func (a *Assembler) searchFilters(req Request, compareApplied bool) storage.Filters {
	f := storage.Filters{
		ResourceType:  req.ResourceType,
		ContentType:   req.ContentType,
		IngestionType: req.IngestionType,
		Scope:         req.Scope,
	}
	switch req.ScopeMode {
	case ScopeGlobal:
		return f
	case ScopeHighlightFirst:
		if f.ContentType == "" && f.ResourceType == "" {
			f.ResourceType = storage.ResourceTypeAllNotes
		}
	}
	if req.ContextItemID != nil && !compareApplied {
		id := *req.ContextItemID
		f.ItemID = &id
	}
	return f
}

// capWithGold truncates the sorted evidence to the standard cap and
// re-appends the gold chunks beyond it: level A, or level B carrying
// definitional or theory features.
func (a *Assembler) capWithGold(evidence []Evidence) []Evidence {
	if len(evidence) <= a.cfg.MaxStandard {
		return evidence
	}
	kept := evidence[:a.cfg.MaxStandard]
	for _, ev := range evidence[a.cfg.MaxStandard:] {
		ann := ev.Annotation
		if ann.Level == LevelA || (ann.Level == LevelB && (ann.Has(FeatureDefinitional) || ann.Has(FeatureTheory))) {
			kept = append(kept, ev)
		}
	}
	return kept
}

// quoteTargetCount derives how many passages the template should ask
// the model to quote.
func quoteTargetCount(mode AnswerMode, confidence float64) int {
	if mode != ModeQuote && mode != ModeHybrid {
		return 0
	}
	n := int(math.Round(confidence))
	if n < 1 {
		n = 1
	}
	if n > 6 {
		n = 6
	}
	return n
}

func appendDegradations(meta search.Metadata, degs []search.Metadata) {
	if len(degs) == 0 {
		return
	}
	switch existing := meta["degradations"].(type) {
	case []search.Metadata:
		meta["degradations"] = append(existing, degs...)
	case []interface{}:
		for _, d := range degs {
			existing = append(existing, d)
		}
		meta["degradations"] = existing
	default:
		meta["degradations"] = degs
	}
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

// evidencePool deduplicates evidence on a title plus content-prefix
// key, preserving insertion order. Compare-marked chunks win their key
// against anything inserted later.
type evidencePool struct {
	order []string
	items map[string]*Evidence
}

func newEvidencePool() *evidencePool {
	return &evidencePool{items: map[string]*Evidence{}}
}

func poolKey(title, text string) string {
	r := []rune(text)
	if len(r) > 20 {
		r = r[:20]
	}
	return title + "|" + string(r)
}

func compareMarked(ev Evidence) bool {
	return ev.Annotation.ComparePrimary || ev.Annotation.CompareSecondary
}

func (p *evidencePool) add(ev Evidence) {
	key := poolKey(ev.Title, ev.Text)
	if cur, ok := p.items[key]; ok {
		if compareMarked(ev) && !compareMarked(*cur) {
			*cur = ev
		}
		return
	}
	copied := ev
	p.items[key] = &copied
	p.order = append(p.order, key)
}

func (p *evidencePool) len() int { return len(p.order) }

func (p *evidencePool) countSource(sources ...string) int {
	n := 0
	for _, key := range p.order {
		for _, s := range sources {
			if p.items[key].Annotation.Source == s {
				n++
				break
			}
		}
	}
	return n
}

// list returns the pooled evidence in insertion order.
func (p *evidencePool) list() []Evidence {
	out := make([]Evidence, 0, len(p.order))
	for _, key := range p.order {
		out = append(out, *p.items[key])
	}
	return out
}

// topItems returns the most frequent item ids in the pool, ties broken
// by first appearance.
func (p *evidencePool) topItems(n int) []uuid.UUID {
	counts := map[uuid.UUID]int{}
	var firstSeen []uuid.UUID
	for _, key := range p.order {
		id := p.items[key].ItemID
		if id == uuid.Nil {
			continue
		}
		if counts[id] == 0 {
			firstSeen = append(firstSeen, id)
		}
		counts[id]++
	}
	sort.SliceStable(firstSeen, func(i, j int) bool {
		return counts[firstSeen[i]] > counts[firstSeen[j]]
	})
	if len(firstSeen) > n {
		firstSeen = firstSeen[:n]
	}
	return firstSeen
}
