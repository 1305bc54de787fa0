package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tomehub/tomehub/internal/analytics"
	"github.com/tomehub/tomehub/internal/answer"
	"github.com/tomehub/tomehub/internal/api/rpc"
	"github.com/tomehub/tomehub/internal/cache"
	"github.com/tomehub/tomehub/internal/config"
	"github.com/tomehub/tomehub/internal/embedding"
	"github.com/tomehub/tomehub/internal/fixture"
	"github.com/tomehub/tomehub/internal/llm"
	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/internal/rag"
	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/storage"
)

// App holds the wired retrieval pipeline plus everything that needs
// closing on shutdown.
type App struct {
	Store     storage.Store
	Cache     cache.Client
	Analytics *analytics.SearchLogger
	RPC       *rpc.Service

	db  *sql.DB
	log *observability.Logger
}

// buildApp wires the pipeline from configuration. Optional collaborators
// degrade to a skipped stage when their credentials or endpoints are
// absent, so a bare development config still serves lexical search.
func buildApp(ctx context.Context, log *observability.Logger, cfg *config.Config) (*App, error) {
	store, db, err := openStore(ctx, log, cfg)
	if err != nil {
		return nil, err
	}

	appCache := openCache(log, cfg)
	embedder := openEmbedder(log, cfg)
	router := openLLMRouter(log, cfg)

	if cfg.Database.Driver == "memory" {
		if seed, _ := strconv.ParseBool(os.Getenv("TOMEHUB_SEED_FIXTURE")); seed {
			if _, err := fixture.Seed(ctx, store, embedder); err != nil {
				if db != nil {
					db.Close()
				}
				return nil, fmt.Errorf("seeding fixture corpus: %w", err)
			}
			log.Info().Msg("fixture corpus seeded into the memory store")
		}
	}

	searchLogger := analytics.NewSearchLogger(log, store, analytics.Config{
		BufferSize:    cfg.Analytics.BufferSize,
		FlushInterval: cfg.Analytics.FlushInterval,
		Async:         cfg.Analytics.Async,
	})

	var expander search.Expander
	var extractor search.ConceptExtractor
	if router != nil {
		expander = search.NewLLMExpander(router)
		extractor = search.NewLLMConceptExtractor(router)
	}

	orchestrator := search.NewOrchestrator(search.Deps{
		Logger:    log,
		Store:     store,
		Embedder:  embedder,
		Cache:     appCache,
		Corrector: search.NewCatalogCorrector(store),
		Expander:  expander,
		Shadow: search.ShadowConfig{
			Enabled:      cfg.Search.Shadow.Enabled,
			AllowedUsers: parseIDList(log, "shadow_allowed_users", cfg.Search.Shadow.AllowedUserIDs),
			AllowedItems: parseIDList(log, "shadow_allowed_items", cfg.Search.Shadow.AllowedItemIDs),
		},
		Analytics: searchLogger,
	}, search.Config{
		RuleRouterEnabled:        cfg.Search.ModeRoutingEnabled && cfg.Search.RouterMode == "rule_based",
		DefaultMode:              search.RouterMode(cfg.Search.DefaultMode),
		FusionMode:               search.FusionMode(cfg.Search.FusionMode),
		NoiseGuardEnabled:        cfg.Search.NoiseGuardEnabled,
		TypoRescueEnabled:        cfg.Search.TypoRescueEnabled,
		LemmaSeedFallbackEnabled: cfg.Search.LemmaSeedFallbackEnabled,
		DynamicSingleTokenCap:    cfg.Search.DynamicSingleTokenCapEnabled,
		SemanticTailCap:          cfg.Search.SemanticTailCap,
		ExpansionTailFix:         cfg.Perf.ExpansionTailFixEnabled,
		Workers:                  cfg.Search.Workers,
		CacheEnabled:             cfg.Search.CacheEnabled,
		CacheTTL:                 cfg.Cache.L1TTL,
		EmbeddingModelVersion:    cfg.CacheVersion(),
	})

	graph := search.NewGraphStrategy(store, embedder, extractor, appCache, log)
	external := search.NewExternalKB(store, search.ExternalKBConfig{
		Enabled:         cfg.ExternalKB.Enabled,
		MaxCandidates:   cfg.ExternalKB.MaxCandidates,
		MinConfidence:   cfg.ExternalKB.MinConfidence,
		PrimaryProvider: storage.ExternalProvider(cfg.ExternalKB.PrimaryProvider),
		ProviderWeights: providerWeights(cfg.ExternalKB.ProviderWeights),
	})

	var rewriter *rag.Rewriter
	if router != nil {
		rewriter = rag.NewRewriter(log, router, appCache, rag.RewriteConfig{
			GuardEnabled: cfg.Perf.RewriteGuardEnabled,
		})
	}

	assembler := rag.NewAssembler(rag.Deps{
		Logger:   log,
		Search:   orchestrator,
		Graph:    graph,
		External: external,
		Catalog:  store,
		Rewriter: rewriter,
	}, rag.Config{
		Compare: rag.CompareConfig{
			Enabled:           cfg.Search.Compare.Enabled,
			TargetMax:         cfg.Search.Compare.TargetMax,
			PrimaryPerBook:    cfg.Search.Compare.PrimaryPerBook,
			SecondaryPerBook:  cfg.Search.Compare.SecondaryPerBook,
			Timeout:           cfg.Search.Compare.Timeout,
			SecondaryMaxRatio: cfg.Search.Compare.SecondaryMaxRatio,
			CanaryUserIDs:     parseIDList(log, "compare_canary_uids", cfg.Search.Compare.CanaryUserIDs),
		},
		GraphTimeout:             cfg.Search.Graph.Timeout,
		GraphDirectSkip:          cfg.Search.Graph.DirectSkip,
		KBTopItems:               cfg.ExternalKB.TopItems,
		KBMaxCandidates:          cfg.ExternalKB.MaxCandidates,
		KBWeight:                 cfg.ExternalKB.Weight,
		SupplementaryGateEnabled: cfg.Perf.SupplementaryGateEnabled,
	})

	engine := answer.NewEngine(answer.Deps{
		Logger:    log,
		Assembler: assembler,
		Router:    router,
		Store:     store,
		Catalog:   store,
		Graph:     store,
	}, answer.Config{
		OutputBudgetEnabled:  cfg.Perf.OutputBudgetEnabled,
		MaxOutputTokens:      cfg.Perf.MaxOutputTokensStandard,
		ContextBudgetEnabled: cfg.Perf.ContextBudgetEnabled,
		ExplorerEnabled:      cfg.LLM.Explorer.QwenPilotEnabled,
		GraphBridgeTimeout:   cfg.Search.Graph.BridgeTimeout,
	})

	return &App{
		Store:     store,
		Cache:     appCache,
		Analytics: searchLogger,
		RPC:       rpc.NewService(log, orchestrator, engine),
		db:        db,
		log:       log,
	}, nil
}

// Close flushes telemetry and releases the cache and database handles.
func (a *App) Close() {
	if a.Analytics != nil {
		a.Analytics.Stop()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.log.Warn().Err(err).Msg("cache close failed")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn().Err(err).Msg("database close failed")
		}
	}
}

// Ping reports database reachability for the readiness probe. The
// memory store is always ready.
func (a *App) Ping(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.PingContext(ctx)
}

func openStore(ctx context.Context, log *observability.Logger, cfg *config.Config) (storage.Store, *sql.DB, error) {
	switch cfg.Database.Driver {
	case "memory":
		log.Warn().Msg("using the in-memory store, data will not survive restarts")
		return storage.NewMemoryStore(), nil, nil

	case "sqlite":
		db, err := sql.Open("sqlite3", cfg.DatabaseDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.SQLite.MaxOpenConns)
		return prepareSQLStore(ctx, log, db)

	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres pool: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.Postgres.ConnMaxLifetime)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return prepareSQLStore(ctx, log, db)
	}
	return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
}

func prepareSQLStore(ctx context.Context, log *observability.Logger, db *sql.DB) (storage.Store, *sql.DB, error) {
	if _, err := db.ExecContext(ctx, storage.Schema); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("applying schema: %w", err)
	}
	store := storage.NewSQLStore(db)
	if n, err := store.WarmVectorIndex(ctx); err != nil {
		log.Warn().Err(err).Msg("vector index warmup failed, semantic scans start cold")
	} else {
		log.Info().Int("vectors", n).Msg("vector index warmed")
	}
	return store, db, nil
}

func openCache(log *observability.Logger, cfg *config.Config) cache.Client {
	l1 := cache.NewLRUClient(cfg.Cache.L1MaxEntries, cfg.Cache.L1TTL)
	if cfg.Cache.Driver != "layered" {
		return l1
	}
	redis, err := cache.NewRedisClient(cache.RedisConfig{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		PoolSize: cfg.Cache.Redis.PoolSize,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Cache.Redis.Addr).
			Msg("redis unavailable, falling back to the in-process cache")
		return l1
	}
	return cache.NewMultiLayer(l1, redis)
}

func openEmbedder(log *observability.Logger, cfg *config.Config) embedding.Embedder {
	if cfg.Embedding.APIKey == "" {
		log.Warn().Msg("no embedding api key, semantic search disabled")
		return nil
	}
	client, err := embedding.NewClient(embedding.Config{
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout,
	})
	if err != nil {
		log.Warn().Err(err).Msg("embedding client unavailable, semantic search disabled")
		return nil
	}
	return client
}

func openLLMRouter(log *observability.Logger, cfg *config.Config) *llm.Router {
	var qwen, gemini llm.Provider
	if cfg.LLM.QwenAPIKey != "" {
		qwen = llm.NewQwen(cfg.LLM.QwenAPIKey)
	}
	if cfg.LLM.GeminiAPIKey != "" {
		gemini = llm.NewGemini(cfg.LLM.GeminiAPIKey)
	}
	if qwen == nil && gemini == nil {
		log.Warn().Msg("no llm api keys, answers degrade to analytic and fallback text")
		return nil
	}
	return llm.NewRouter(llm.RouterConfig{
		Qwen:                   qwen,
		Gemini:                 gemini,
		QwenModel:              cfg.LLM.Explorer.PrimaryModel,
		LiteModel:              cfg.LLM.LiteModel,
		FlashModel:             cfg.LLM.FlashModel,
		ProModel:               cfg.LLM.ProModel,
		QwenPilotEnabled:       cfg.LLM.Explorer.QwenPilotEnabled && cfg.LLM.Explorer.PrimaryProvider == "qwen" && qwen != nil,
		RPMCap:                 cfg.LLM.Explorer.RPMCap,
		SecondaryMaxPerRequest: cfg.LLM.Explorer.SecondaryMaxPerRequest,
		ProFallbackEnabled:     cfg.LLM.ProFallback.Enabled,
		ProMaxPerRequest:       cfg.LLM.ProFallback.MaxPerRequest,
		Logger:                 log,
	})
}

// parseIDList converts configured id strings, dropping malformed
// entries with a warning instead of refusing to start.
func parseIDList(log *observability.Logger, field string, raw []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			log.Warn().Str("field", field).Str("value", s).Msg("dropping malformed id in config")
			continue
		}
		out = append(out, id)
	}
	return out
}

func providerWeights(raw map[string]float64) map[storage.ExternalProvider]float64 {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[storage.ExternalProvider]float64, len(raw))
	for name, weight := range raw {
		out[storage.ExternalProvider(name)] = weight
	}
	return out
}
