package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tomehub/tomehub/internal/cache"
	"github.com/tomehub/tomehub/internal/embedding"
	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/internal/storage"
	"github.com/tomehub/tomehub/internal/textnorm"
)

const (
	maxLimit     = 100
	defaultLimit = 10
	minFetch     = 30
	maxFetch     = 200
)

// Deps are the orchestrator's collaborators. Store is required;
// everything else degrades gracefully when absent.
type Deps struct {
	Logger    *observability.Logger
	Store     storage.SearchStore
	Embedder  embedding.Embedder
	Cache     cache.Client
	Corrector Corrector
	Expander  Expander
	Shadow    ShadowConfig
	Analytics AnalyticsSink
}

// Orchestrator routes a query to the enabled strategies, fuses their
// buckets and serves the result through the response cache.
type Orchestrator struct {
	cfg       Config
	log       *observability.Logger
	router    *Router
	exact     *ExactStrategy
	lemma     *LemmaStrategy
	semantic  *SemanticStrategy
	shadow    *ShadowRescue
	corrector Corrector
	expander  Expander
	respCache *ResponseCache
	analytics AnalyticsSink
}

// NewOrchestrator wires the strategies from deps and config.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	log := deps.Logger
	if log == nil {
		log = observability.Nop()
	}

	o := &Orchestrator{
		cfg:       cfg,
		log:       log.WithComponent("search_orchestrator"),
		router:    NewRouter(cfg),
		exact:     NewExactStrategy(deps.Store, cfg),
		lemma:     NewLemmaStrategy(deps.Store),
		corrector: deps.Corrector,
		expander:  deps.Expander,
		analytics: deps.Analytics,
	}
	if deps.Embedder != nil {
		o.semantic = NewSemanticStrategy(deps.Store, deps.Embedder)
	}
	if deps.Shadow.Enabled {
		o.shadow = NewShadowRescue(deps.Store, deps.Shadow)
	}
	if deps.Cache != nil && cfg.CacheEnabled {
		o.respCache = NewResponseCache(deps.Cache, cfg.CacheTTL)
	}
	return o
}

// Search runs one orchestrated retrieval. Strategy failures degrade to
// partial results; an error is returned only when every selected
// bucket and the safety net fail.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	route := o.router.Decide(req.Query, req.Intent)

	var cacheKey string
	if o.respCache != nil {
		cacheKey = o.respCache.Key(req, route, o.cfg)
		if resp, ok := o.respCache.Probe(ctx, cacheKey); ok {
			o.log.Debug().Str("query", req.Query).Msg("response cache hit")
			o.logAnalytics(ctx, req, route, resp, true, time.Since(start))
			return resp, nil
		}
	}

	fetch := (req.Limit + req.Offset) * 2
	if fetch < minFetch {
		fetch = minFetch
	}
	if fetch > maxFetch {
		fetch = maxFetch
	}

	meta := Metadata{}
	var (
		mu                  sync.Mutex
		buckets             = make(map[string][]Hit)
		timings             = make(map[string]int64)
		degradations        []Metadata
		dispatched          int
		failed              int
		lastErr             error
		expansionVariations []string
		expansionSkipReason string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)

	// Strategy goroutines never propagate errors so one failing bucket
	// cannot cancel its siblings.
	run := func(name string, fn func(context.Context) ([]Hit, error)) {
		dispatched++
		g.Go(func() error {
			t0 := time.Now()
			hits, err := fn(gctx)
			mu.Lock()
			defer mu.Unlock()
			timings[name] = time.Since(t0).Milliseconds()
			if err != nil {
				failed++
				lastErr = err
				degradations = append(degradations, Metadata{
					"component": name,
					"reason":    err.Error(),
					"severity":  "warn",
				})
				return nil
			}
			buckets[name] = append(buckets[name], hits...)
			return nil
		})
	}

	if route.Has(BucketExact) {
		run(BucketExact, func(ctx context.Context) ([]Hit, error) {
			return o.exact.Search(ctx, req, fetch)
		})
	}
	if route.Has(BucketLemma) {
		run(BucketLemma, func(ctx context.Context) ([]Hit, error) {
			return o.lemma.Search(ctx, req, fetch)
		})
	}
	semanticSelected := route.Has(BucketSemantic) && o.semantic != nil
	if semanticSelected {
		run(BucketSemantic, func(ctx context.Context) ([]Hit, error) {
			return o.semantic.Search(ctx, req, fetch)
		})
	}
	if o.shadow != nil && o.shadow.Active(req) {
		run(BucketShadow, func(ctx context.Context) ([]Hit, error) {
			return o.shadow.Search(ctx, req, fetch)
		})
	}

	// Expansion shares the pool but is advisory: the hard timeout
	// bounds the LLM call, the extra vector passes reuse the group
	// context.
	if o.expander != nil && semanticSelected && o.cfg.ExpansionMax > 0 {
		g.Go(func() error {
			expCtx, cancel := context.WithTimeout(gctx, o.cfg.ExpansionTimeout())
			defer cancel()
			variations, err := o.expander.Expand(expCtx, req.Query, o.cfg.ExpansionMax)
			if err != nil {
				mu.Lock()
				if errors.Is(err, context.DeadlineExceeded) {
					expansionSkipReason = "expansion_timeout"
				} else {
					expansionSkipReason = "expansion_error"
				}
				mu.Unlock()
				return nil
			}
			reduced := fetch / 2
			if reduced < 3 {
				reduced = 3
			}
			for _, v := range variations {
				vreq := req
				vreq.Query = v
				hits, err := o.semantic.Search(gctx, vreq, reduced)
				if err != nil {
					continue
				}
				mu.Lock()
				buckets[BucketSemantic] = append(buckets[BucketSemantic], hits...)
				mu.Unlock()
			}
			mu.Lock()
			expansionVariations = variations
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	lexicalRaw := len(buckets[BucketExact]) + len(buckets[BucketLemma])
	if o.cfg.TypoRescueEnabled && o.corrector != nil && lexicalRaw <= 2 {
		corrected, ok := o.corrector.Correct(ctx, req.UserID, req.Query)
		if ok && textnorm.Normalize(corrected) != textnorm.Normalize(req.Query) {
			creq := req
			creq.Query = corrected
			if hits, err := o.exact.Search(ctx, creq, fetch); err == nil {
				buckets[BucketExact] = append(buckets[BucketExact], hits...)
			}
			if hits, err := o.lemma.Search(ctx, creq, fetch); err == nil {
				buckets[BucketLemma] = append(buckets[BucketLemma], hits...)
			}
			meta["query_correction_applied"] = true
			meta["corrected_query"] = corrected
		}
	}

	if o.cfg.LemmaSeedFallbackEnabled && len(buckets[BucketLemma]) == 0 && route.Has(BucketExact) {
		seeds := QueryLemmas(req.Query)
		if len(seeds) > 2 {
			seeds = seeds[:2]
		}
		applied := false
		for _, seed := range seeds {
			sreq := req
			sreq.Query = seed
			hits, err := o.exact.Search(ctx, sreq, fetch)
			if err != nil || len(hits) == 0 {
				continue
			}
			buckets[BucketExact] = append(buckets[BucketExact], hits...)
			applied = true
		}
		if applied {
			meta["lemma_seed_fallback_applied"] = true
		}
	}

	for name := range buckets {
		buckets[name] = dedupeHits(buckets[name])
	}

	total := 0
	for _, hs := range buckets {
		total += len(hs)
	}
	var netErr error
	if total == 0 && !semanticSelected && o.semantic != nil {
		hits, err := o.semantic.Search(ctx, req, fetch)
		netErr = err
		if err == nil && len(hits) > 0 {
			buckets[BucketSemantic] = hits
			total = len(hits)
			meta["semantic_safety_net_applied"] = true
		}
	}
	if total == 0 && dispatched > 0 && failed == dispatched {
		if netErr != nil || o.semantic == nil || semanticSelected {
			return nil, fmt.Errorf("search failed for every strategy: %w", lastErr)
		}
	}

	ordered := []bucketList{
		{BucketExact, buckets[BucketExact]},
		{BucketLemma, buckets[BucketLemma]},
		{BucketSemantic, buckets[BucketSemantic]},
		{BucketShadow, buckets[BucketShadow]},
	}
	var fused []Hit
	if o.cfg.FusionMode == FusionRRF {
		fused = FuseRRF(ordered, req.Intent)
	} else {
		fused = FuseConcat(ordered)
	}

	if req.MixPolicy == MixLexicalThenSemanticTail {
		mixed := MixLexicalThenTail(fused, req, o.cfg)
		fused = mixed.Hits
		meta["result_mix_policy"] = MixLexicalThenSemanticTail
		meta["noise_guard_applied"] = mixed.NoiseGuardApplied
		meta["noise_guard_rejected"] = mixed.NoiseRejected
		meta["semantic_tail_count"] = mixed.TailCount
		meta["semantic_tail_cap"] = mixed.CapUsed
	}

	totalCount := len(fused)
	lo := req.Offset
	if lo > totalCount {
		lo = totalCount
	}
	hi := lo + req.Limit
	if hi > totalCount {
		hi = totalCount
	}
	paged := fused[lo:hi]

	routerMode := "static"
	if o.cfg.RuleRouterEnabled {
		routerMode = "rule_based"
	}
	rawCounts := make(map[string]int, len(buckets))
	for name, hs := range buckets {
		if len(hs) > 0 {
			rawCounts[name] = len(hs)
		}
	}
	executed := make([]string, 0, len(timings))
	for _, name := range []string{BucketExact, BucketLemma, BucketSemantic, BucketShadow} {
		if _, ok := timings[name]; ok {
			executed = append(executed, name)
		}
	}
	meta["retrieval_fusion_mode"] = string(o.cfg.FusionMode)
	meta["retrieval_path"] = "search_orchestrator"
	meta["router_mode"] = routerMode
	meta["retrieval_mode"] = string(route.Mode)
	meta["router_reason"] = route.Reason
	meta["selected_buckets"] = route.Buckets
	meta["executed_strategies"] = executed
	meta["strategy_timings_ms"] = timings
	meta["raw_bucket_counts"] = rawCounts
	meta["cached"] = false
	meta["total_latency_ms"] = time.Since(start).Milliseconds()
	if len(degradations) > 0 {
		meta["degradations"] = degradations
	}
	if len(expansionVariations) > 0 {
		meta["expansion_variations"] = expansionVariations
	}
	if expansionSkipReason != "" {
		meta["expansion_skipped_reason"] = expansionSkipReason
	}

	resp := &Response{Results: paged, TotalCount: totalCount, Metadata: meta}
	if o.respCache != nil {
		o.respCache.Store(ctx, cacheKey, resp)
	}
	o.logAnalytics(ctx, req, route, resp, false, time.Since(start))
	return resp, nil
}

// logAnalytics writes the search-log row best-effort.
func (o *Orchestrator) logAnalytics(ctx context.Context, req Request, route Route, resp *Response, cacheHit bool, elapsed time.Duration) {
	if o.analytics == nil {
		return
	}
	entry := &storage.SearchLogEntry{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Query:           req.Query,
		NormalizedQuery: textnorm.Normalize(req.Query),
		Intent:          string(req.Intent),
		RouterMode:      string(route.Mode),
		ResultCount:     resp.TotalCount,
		CacheHit:        cacheHit,
		DurationMs:      elapsed.Milliseconds(),
		CreatedAt:       time.Now().UTC(),
	}
	if len(resp.Results) > 0 {
		top := resp.Results[0]
		score := top.Score
		id := top.ID
		entry.TopScore = &score
		entry.TopChunkID = &id
	}
	if raw, err := json.Marshal(resp.Metadata); err == nil {
		entry.StrategyDetails = raw
	}
	o.analytics.Log(ctx, entry)
}
