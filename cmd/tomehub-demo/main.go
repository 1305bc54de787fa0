// Package main provides an interactive offline demo of the TomeHub engine.
//
// The demo seeds an in-memory Turkish library, wires the full retrieval
// and answer pipeline against it, walks through a scripted tour, and then
// drops into an interactive prompt. Without LLM API keys the tour answers
// come from a scripted provider; set GEMINI_API_KEY or QWEN_API_KEY to
// generate live ones.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/tomehub/tomehub/internal/analytics"
	"github.com/tomehub/tomehub/internal/answer"
	"github.com/tomehub/tomehub/internal/cache"
	"github.com/tomehub/tomehub/internal/embedding"
	"github.com/tomehub/tomehub/internal/fixture"
	"github.com/tomehub/tomehub/internal/llm"
	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/internal/rag"
	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// scriptedVicdan and scriptedCompare are the stand-in completions used
// when no LLM API key is configured. They follow the sectioned answer
// layout the richness check expects and cite the pages the seeded corpus
// carries, so the source list below them lines up.
const scriptedVicdan = `## Doğrudan Tanımlar

"Vicdan, insanın içindeki yargıcın sesidir." (Nutuk, s. 12)
"Milli mücadele, milletin vicdanından doğan bir harekettir." (Nutuk, s. 45)

## Bağlamsal Analiz

Nutuk vicdanı kişisel bir duygudan çok milletin ortak karar gücü olarak okur; karar anlarında beliren bu ses, dışarıdan gelen hiçbir buyruğa benzemez. Ahlak felsefesi açısından da vicdan, modern etikte içsel denetim mekanizması olarak tanımlanır ve kişiyi iyi ile kötü arasında yargıya çağırır.

## Sonuç

Kitaplığınızdaki kaynaklarda vicdan, hem kişiyi hem milleti doğru karara çağıran iç yargı gücüdür; biri onu hürriyetin, öteki ahlakın güvencesi yapar.`

const scriptedCompare = `## Doğrudan Tanımlar

"Ahlak, bir milletin ruhudur; ahlakı çöken millet ayakta kalamaz." (Safahat, s. 56)
"Milli mücadele, milletin vicdanından doğan bir harekettir." (Nutuk, s. 45)

## Bağlamsal Analiz

Nutuk ahlakı, milletin istiklalini taşıyan bir sorumluluk terbiyesi olarak kurar; doğru davranış, milletin vicdanında beliren karara uymaktır ve hürriyet bu ahlakın önkoşuludur (Nutuk, s. 102). Safahat ise ahlakı toplumun ruhu sayar, erdemi de bilgiyle amel arasındaki köprü olarak över (Safahat, s. 78).

## Sonuç

İlki ahlakı devlet kuran iradeye, ikincisi toplumu ayakta tutan samimiyete bağlar; iki eser birlikte ahlakı hem siyasal hem vicdani bir zemine oturtur.`

type demoApp struct {
	store     *storage.MemoryStore
	corpus    *fixture.Corpus
	searcher  *search.Orchestrator
	engine    *answer.Engine
	analytics *analytics.SearchLogger
	scripted  bool
}

func main() {
	printBanner()

	ctx := context.Background()
	log := observability.NewLogger(observability.LogConfig{
		Level:       "warn",
		Format:      "console",
		ServiceName: "tomehub-demo",
	})

	app, err := buildApp(ctx, log)
	if err != nil {
		fmt.Printf("%sError: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
	defer app.analytics.Stop()

	app.printStats(ctx)
	app.warmCaches(ctx)
	app.runTour(ctx)
	app.interactive(ctx)
}

func printBanner() {
	banner := `
╔═══════════════════════════════════════════════════════════════╗
║                                                               ║
║   📚  TomeHub Interactive Demo                                ║
║                                                               ║
║   Search and question a seeded Turkish library                ║
║                                                               ║
╚═══════════════════════════════════════════════════════════════╝
`
	fmt.Println(colorCyan + banner + colorReset)
}

// buildApp seeds the in-memory corpus and wires the full pipeline on top
// of it: orchestrated search, graph strategy, external KB augmentation,
// context assembly, and the answer engine.
func buildApp(ctx context.Context, log *observability.Logger) (*demoApp, error) {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.Suffix = " Building the in-memory library..."
	sp.Writer = os.Stderr
	sp.Start()

	emb := embedding.NewMockClient(64)
	store := storage.NewMemoryStore()
	corpus, err := fixture.Seed(ctx, store, emb)
	sp.Stop()
	if err != nil {
		return nil, fmt.Errorf("seeding corpus: %w", err)
	}
	fmt.Printf("%s✓ Library seeded: %d chunks across 2 books, 1 article, 1 note set%s\n",
		colorGreen, corpus.ChunkCount, colorReset)

	appCache := cache.NewLRUClient(512, 5*time.Minute)
	searchLogger := analytics.NewSearchLogger(log, store, analytics.Config{Async: false})

	// Seeded concept labels widen the correction vocabulary beyond the
	// title catalog, so domain-word typos get repaired too.
	concepts := make([]string, 0, len(corpus.ConceptIDs))
	for label := range corpus.ConceptIDs {
		concepts = append(concepts, label)
	}

	orch := search.NewOrchestrator(search.Deps{
		Logger:    log,
		Store:     store,
		Embedder:  emb,
		Cache:     appCache,
		Corrector: search.NewCatalogCorrector(store, concepts...),
		Analytics: searchLogger,
	}, search.Config{
		RuleRouterEnabled:        true,
		NoiseGuardEnabled:        true,
		TypoRescueEnabled:        true,
		LemmaSeedFallbackEnabled: true,
		CacheEnabled:             true,
		CacheTTL:                 time.Minute,
	})

	graph := search.NewGraphStrategy(store, emb, nil, appCache, log)
	kb := search.NewExternalKB(store, search.ExternalKBConfig{Enabled: true})

	router, scripted := buildRouter(log)

	asm := rag.NewAssembler(rag.Deps{
		Logger:   log,
		Search:   orch,
		Graph:    graph,
		External: kb,
		Catalog:  store,
	}, rag.Config{
		Compare: rag.CompareConfig{Enabled: true},
	})

	eng := answer.NewEngine(answer.Deps{
		Logger:    log,
		Assembler: asm,
		Router:    router,
		Store:     store,
		Catalog:   store,
		Graph:     store,
	}, answer.Config{
		// Scripted completions are shorter than live ones; keep the
		// richness check from burning a second mock step.
		MinAnswerRunes: 200,
		MinParagraphs:  1,
	})

	if scripted {
		fmt.Printf("%s⚠ No LLM API keys found, tour answers are scripted (set GEMINI_API_KEY for live ones)%s\n",
			colorYellow, colorReset)
	} else {
		fmt.Printf("%s✓ Live LLM providers configured%s\n", colorGreen, colorReset)
	}

	return &demoApp{
		store:     store,
		corpus:    corpus,
		searcher:  orch,
		engine:    eng,
		analytics: searchLogger,
		scripted:  scripted,
	}, nil
}

// buildRouter prefers real providers from the environment and falls back
// to a scripted mock holding exactly the two tour completions.
func buildRouter(log *observability.Logger) (*llm.Router, bool) {
	var qwen, gemini llm.Provider
	if key := os.Getenv("QWEN_API_KEY"); key != "" {
		qwen = llm.NewQwen(key)
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		gemini = llm.NewGemini(key)
	}

	if qwen == nil && gemini == nil {
		mock := llm.NewMockProvider("gemini").
			Queue(scriptedVicdan).
			Queue(scriptedCompare)
		return llm.NewRouter(llm.RouterConfig{Gemini: mock, Logger: log}), true
	}

	return llm.NewRouter(llm.RouterConfig{Qwen: qwen, Gemini: gemini, Logger: log}), false
}

func warmQueries() []string {
	return []string{"hürriyet", "millet", "iman", "cemiyet", "istiklal"}
}

// warmCaches runs a short probe suite so the tour hits warm paths.
func (a *demoApp) warmCaches(ctx context.Context) {
	queries := warmQueries()
	bar := progressbar.NewOptions64(
		int64(len(queries)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Warming caches"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
	)
	for _, q := range queries {
		_, _ = a.searcher.Search(ctx, search.Request{
			UserID: a.corpus.UserID,
			Query:  q,
			Limit:  5,
		})
		_ = bar.Add(1)
	}
	_ = bar.Finish()
}

// runTour walks the scripted showcase: one search per retrieval behavior,
// then two generated answers.
func (a *demoApp) runTour(ctx context.Context) {
	section("Search tour")

	a.runSearch(ctx, "vicdan", "exact match across books")
	a.runSearch(ctx, "vıcdan", "diacritic folding (ı matches i)")
	a.runSearch(ctx, "vicden", "typo rescue from the concept vocabulary")
	a.runSearch(ctx, "niyet", "word-boundary guard (medeniyet stays out)")
	a.runSearch(ctx, "ahlak erdem", "multi-token lexical retrieval")

	section("Question tour")

	a.runAsk(ctx, rag.Request{
		UserID:   a.corpus.UserID,
		Question: "Vicdan nedir?",
	})
	a.runAsk(ctx, rag.Request{
		UserID:        a.corpus.UserID,
		Question:      "Nutuk ile Safahat'ın ahlak anlayışını karşılaştır.",
		CompareMode:   rag.CompareExplicitOnly,
		TargetItemIDs: []uuid.UUID{a.corpus.NutukID, a.corpus.SafahatID},
	})
}

func (a *demoApp) runSearch(ctx context.Context, query, label string) {
	fmt.Printf("\n%s🔍 %q%s — %s\n", colorBold, query, colorReset, label)

	resp, err := a.searcher.Search(ctx, search.Request{
		UserID:    a.corpus.UserID,
		Query:     query,
		Limit:     5,
		MixPolicy: search.MixLexicalThenSemanticTail,
	})
	if err != nil {
		fmt.Printf("%s✗ search failed: %v%s\n", colorRed, err, colorReset)
		return
	}

	route, _ := resp.Metadata["router_mode"].(string)
	latency, _ := resp.Metadata["total_latency_ms"].(int64)
	fmt.Printf("   route=%s results=%d latency=%dms", route, resp.TotalCount, latency)
	if corrected, ok := resp.Metadata["corrected_query"].(string); ok {
		fmt.Printf(" corrected=%q", corrected)
	}
	if cached, ok := resp.Metadata["cached"].(bool); ok && cached {
		fmt.Print(" (cached)")
	}
	fmt.Println()

	if len(resp.Results) == 0 {
		if rejected, ok := resp.Metadata["noise_guard_rejected"].(int); ok && rejected > 0 {
			fmt.Printf("   %s⚠ no results, noise guard dropped %d substring-only candidates%s\n",
				colorYellow, rejected, colorReset)
		} else {
			fmt.Printf("   %s⚠ no results%s\n", colorYellow, colorReset)
		}
		return
	}
	for _, hit := range resp.Results {
		page := ""
		if hit.Chunk.PageNumber != nil {
			page = fmt.Sprintf(" s.%d", *hit.Chunk.PageNumber)
		}
		fmt.Printf("   %s %s%s%s%s — %s\n",
			bucketIcon(hit.Bucket), colorCyan, hit.Chunk.Title, colorReset, page,
			clip(hit.Chunk.Text, 90))
	}
}

func (a *demoApp) runAsk(ctx context.Context, req rag.Request) {
	fmt.Printf("\n%s❓ %s%s\n", colorBold, req.Question, colorReset)

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.Suffix = " Generating answer..."
	sp.Writer = os.Stderr
	sp.Start()
	ans, err := a.engine.Answer(ctx, req)
	sp.Stop()
	if err != nil {
		fmt.Printf("%s✗ answer failed: %v%s\n", colorRed, err, colorReset)
		return
	}

	fmt.Println()
	fmt.Println(ans.Text)

	if len(ans.Sources) > 0 {
		fmt.Printf("\n%sSources:%s\n", colorBold, colorReset)
		for _, src := range ans.Sources {
			page := ""
			if src.PageNumber != nil {
				page = fmt.Sprintf(", s.%d", *src.PageNumber)
			}
			fmt.Printf("   • %s%s — %s\n", src.Title, page, clip(src.Snippet, 80))
		}
	}
	fmt.Printf("\n   status=%v model=%v\n", ans.Metadata["status"], ans.Metadata["model_name"])
}

// interactive reads queries from stdin until quit.
func (a *demoApp) interactive(ctx context.Context) {
	section("Interactive mode")
	fmt.Println("Type a query to search your library. Commands:")
	fmt.Println("   /ask <question>  - generate a grounded answer")
	fmt.Println("   /books           - list the seeded catalog")
	fmt.Println("   /stats           - show library and search stats")
	fmt.Println("   /help            - show this help")
	fmt.Println("   quit             - exit the demo")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(colorBold + "📚 TomeHub> " + colorReset)
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if lower == "quit" || lower == "exit" {
			fmt.Println("\n" + colorCyan + "Görüşmek üzere! 👋" + colorReset)
			break
		}

		switch {
		case strings.HasPrefix(line, "/ask "):
			question := strings.TrimSpace(strings.TrimPrefix(line, "/ask "))
			if question == "" {
				fmt.Println("Usage: /ask <question>")
				continue
			}
			if a.scripted {
				fmt.Printf("%s⚠ Live answers need GEMINI_API_KEY or QWEN_API_KEY; the tour above showed the scripted path.%s\n",
					colorYellow, colorReset)
				continue
			}
			a.runAsk(ctx, rag.Request{UserID: a.corpus.UserID, Question: question})
		case line == "/books":
			a.printBooks(ctx)
		case line == "/stats":
			a.printStats(ctx)
		case line == "/help":
			fmt.Println("Commands: /ask <question>, /books, /stats, /help, quit")
		case strings.HasPrefix(line, "/"):
			fmt.Printf("%sUnknown command: %s%s (try /help)\n", colorRed, line, colorReset)
		default:
			a.runSearch(ctx, line, "interactive")
		}
	}
}

func (a *demoApp) printBooks(ctx context.Context) {
	titles, err := a.store.BookTitleCatalog(ctx, a.corpus.UserID)
	if err != nil {
		fmt.Printf("%s✗ catalog lookup failed: %v%s\n", colorRed, err, colorReset)
		return
	}
	fmt.Printf("\n%s📖 Catalog:%s\n", colorBold, colorReset)
	for _, t := range titles {
		author := ""
		if t.Author != nil {
			author = " — " + *t.Author
		}
		fmt.Printf("   • %s%s (%s)\n", t.Title, author, t.ItemID)
	}
	fmt.Println()
}

func (a *demoApp) printStats(ctx context.Context) {
	fmt.Printf("\n%s📊 Library stats:%s\n", colorBold, colorReset)
	fmt.Printf("   Chunks: %d\n", a.corpus.ChunkCount)
	fmt.Printf("   Concepts: %d\n", len(a.corpus.ConceptIDs))

	recent, err := a.store.RecentSearches(ctx, a.corpus.UserID, 100)
	if err == nil {
		fmt.Printf("   Logged searches: %d\n", len(recent))
	}
}

func section(title string) {
	fmt.Printf("\n%s═══ %s ═══%s\n", colorBold, strings.ToUpper(title), colorReset)
}

func bucketIcon(bucket string) string {
	switch bucket {
	case search.BucketExact:
		return "⭐"
	case search.BucketLemma:
		return "📝"
	case search.BucketSemantic:
		return "💡"
	case search.BucketGraph:
		return "🕸"
	case search.BucketExternalKB:
		return "🌐"
	case search.BucketShadow:
		return "🛟"
	default:
		return "📄"
	}
}

// clip shortens text to max runes for single-line display.
func clip(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
