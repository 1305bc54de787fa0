// Package e2e exercises the full pipeline over the deterministic fixture
// corpus: seeding, orchestrated retrieval with diacritic folding, typo
// rescue and the boundary guard, response caching, context assembly,
// scripted generation for standard and compare questions, and the
// analytics trail the searches leave behind.
package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// The two completions queued on the mock provider. Both carry the
// sectioned answer layout the richness check expects and cite pages the
// fixture corpus actually holds, so the source lists line up.
const pipelineAnswerVicdan = `## Doğrudan Tanımlar

"Vicdan, insanın içindeki yargıcın sesidir." (Nutuk, s. 12)
"Vicdan kavramı, modern etikte içsel denetim mekanizması olarak tanımlanır." (Ahlak Felsefesine Giriş)

## Bağlamsal Analiz

Nutuk vicdanı milletin ortak karar gücüne bağlar: milli mücadeleyi milletin vicdanından doğan bir hareket olarak anlatır ve bu sesi her türlü kuvvetin üstünde sayar. Makale ise aynı kavramı etik kuram içinden okur ve vicdanı kişinin kendi eylemleri üzerindeki iç denetimi olarak konumlar.

## Sonuç

Kitaplığınızdaki kaynaklar vicdanı, kişiyi ve milleti doğru karara çağıran iç yargı gücü olarak tanımlıyor.`

const pipelineAnswerCompare = `## Doğrudan Tanımlar

"Ahlak, bir milletin ruhudur; ahlakı çöken millet ayakta kalamaz." (Safahat, s. 56)
"Hürriyet ve istiklal benim karakterimdir." (Nutuk, s. 102)

## Bağlamsal Analiz

Nutuk ahlakı istiklal davasının disiplini olarak kurar: doğru davranış milletin vicdanında beliren karara uymaktır ve hürriyet bu ahlakın önkoşuludur. Safahat ise ahlakı toplumun ruhu sayar; erdemi bilgiyle amel arasındaki köprü olarak anar ve çöküşü ahlakın çözülmesiyle açıklar (Safahat, s. 78).

## Sonuç

Nutuk ahlakı devlet kuran iradeye, Safahat toplumu ayakta tutan samimiyete bağlar.`

func TestLibraryPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	log := observability.Nop()

	t.Log("\n=== Step 1: Seed the fixture library ===")
	seedStart := time.Now()
	emb := embedding.NewMockClient(64)
	store := storage.NewMemoryStore()
	corpus, err := fixture.Seed(ctx, store, emb)
	require.NoError(t, err)
	seedTime := time.Since(seedStart)
	require.Equal(t, 13, corpus.ChunkCount)
	t.Logf("Seeded %d chunks across 4 items in %v", corpus.ChunkCount, seedTime)

	t.Log("\n=== Step 2: Wire search, assembly and generation ===")
	appCache := cache.NewLRUClient(256, 5*time.Minute)
	searchLogger := analytics.NewSearchLogger(log, store, analytics.Config{Async: false})

	concepts := make([]string, 0, len(corpus.ConceptIDs))
	for label := range corpus.ConceptIDs {
		concepts = append(concepts, label)
	}

	searcher := search.NewOrchestrator(search.Deps{
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

	mock := llm.NewMockProvider("gemini").
		Queue(pipelineAnswerVicdan).
		Queue(pipelineAnswerCompare)
	router := llm.NewRouter(llm.RouterConfig{Gemini: mock, Logger: log})

	assembler := rag.NewAssembler(rag.Deps{
		Logger:   log,
		Search:   searcher,
		Graph:    graph,
		External: kb,
		Catalog:  store,
	}, rag.Config{
		Compare: rag.CompareConfig{Enabled: true},
	})

	engine := answer.NewEngine(answer.Deps{
		Logger:    log,
		Assembler: assembler,
		Router:    router,
		Store:     store,
		Catalog:   store,
		Graph:     store,
	}, answer.Config{
		MinAnswerRunes: 200,
		MinParagraphs:  1,
	})

	t.Log("\n=== Step 3: Retrieval behavior sweep ===")
	sweep := []struct {
		query         string
		reason        string
		wantItem      uuid.UUID
		wantPage      int
		wantIndex     int
		wantBucket    string
		wantCorrected string
		semanticOnly  bool
	}{
		{
			query:      "vicdan",
			reason:     "standalone word in book and article text",
			wantItem:   corpus.NutukID,
			wantPage:   12,
			wantBucket: search.BucketExact,
		},
		{
			query:      "vıcdan",
			reason:     "dotless ı folds onto the same normalized form",
			wantItem:   corpus.NutukID,
			wantPage:   12,
			wantBucket: search.BucketExact,
		},
		{
			query:      "kufur",
			reason:     "ASCII query reaches accented PDF text via the fallback pass",
			wantItem:   corpus.SafahatID,
			wantPage:   23,
			wantBucket: search.BucketExact,
		},
		{
			query:      "hürriyet",
			reason:     "accented query against EPUB text",
			wantItem:   corpus.NutukID,
			wantPage:   102,
			wantBucket: search.BucketExact,
		},
		{
			query:         "vicden",
			reason:        "one edit away from the concept vocabulary",
			wantItem:      corpus.NutukID,
			wantPage:      12,
			wantBucket:    search.BucketExact,
			wantCorrected: "vicdan",
		},
		{
			query:        "niyet",
			reason:       "inner substring of medeniyet stays out of the lexical buckets",
			semanticOnly: true,
		},
		{
			query:      "ahlak erdem",
			reason:     "token AND pass lands on the article",
			wantItem:   corpus.ArticleID,
			wantIndex:  0,
			wantBucket: search.BucketExact,
		},
	}

	var (
		sweepHits  int
		sweepTime  time.Duration
		vicdanResp *search.Response
	)
	for _, tc := range sweep {
		qStart := time.Now()
		resp, err := searcher.Search(ctx, search.Request{
			UserID:    corpus.UserID,
			Query:     tc.query,
			Limit:     10,
			MixPolicy: search.MixLexicalThenSemanticTail,
		})
		qTime := time.Since(qStart)
		sweepTime += qTime
		require.NoError(t, err, "query %q", tc.query)
		if len(resp.Results) > 0 {
			sweepHits++
		}
		if tc.query == "vicdan" {
			vicdanResp = resp
		}

		if tc.semanticOnly {
			for _, hit := range resp.Results {
				assert.Equal(t, search.BucketSemantic, hit.Bucket,
					"query %q must not surface lexical hits, got %s for %q",
					tc.query, hit.Bucket, hit.Title)
			}
			assert.Equal(t, true, resp.Metadata["noise_guard_applied"], "query %q", tc.query)
			t.Logf("✓ Q: %-14q | %v | %d semantic-only results | %s",
				tc.query, qTime, len(resp.Results), tc.reason)
			continue
		}

		var hit *search.Hit
		if tc.wantPage > 0 {
			hit = hitOnPage(resp, tc.wantItem, tc.wantPage)
		} else {
			hit = hitAtIndex(resp, tc.wantItem, tc.wantIndex)
		}
		require.NotNil(t, hit, "query %q should surface the expected chunk: %s", tc.query, tc.reason)
		assert.Equal(t, tc.wantBucket, hit.Bucket, "query %q", tc.query)

		if tc.wantCorrected != "" {
			assert.Equal(t, tc.wantCorrected, resp.Metadata["corrected_query"], "query %q", tc.query)
			assert.Equal(t, true, resp.Metadata["query_correction_applied"], "query %q", tc.query)
		} else {
			_, corrected := resp.Metadata["corrected_query"]
			assert.False(t, corrected, "query %q needed no correction", tc.query)
		}
		t.Logf("✓ Q: %-14q | %v | %d results | %s", tc.query, qTime, resp.TotalCount, tc.reason)
	}

	t.Log("\n=== Step 4: Multi-item recall and result ordering ===")
	require.NotNil(t, vicdanResp)
	p45 := hitOnPage(vicdanResp, corpus.NutukID, 45)
	require.NotNil(t, p45, "the suffixed form on page 45 should arrive through the lemma pass")
	assert.Equal(t, search.BucketLemma, p45.Bucket)
	assert.NotNil(t, hitAtIndex(vicdanResp, corpus.ArticleID, 1), "the article chunk should be recalled")
	for _, hit := range vicdanResp.Results {
		assert.NotEqual(t, corpus.NotesID, hit.ItemID,
			"notes are excluded from the default visibility scope")
	}
	var semanticSeen bool
	for _, hit := range vicdanResp.Results {
		if hit.Bucket == search.BucketSemantic {
			semanticSeen = true
			continue
		}
		assert.False(t, semanticSeen, "lexical hit %q trailing the semantic tail", hit.Title)
	}
	assert.Contains(t, vicdanResp.Metadata["executed_strategies"], search.BucketExact)

	paged, err := searcher.Search(ctx, search.Request{
		UserID:    corpus.UserID,
		Query:     "vicdan",
		Limit:     2,
		MixPolicy: search.MixLexicalThenSemanticTail,
	})
	require.NoError(t, err)
	assert.Len(t, paged.Results, 2)
	assert.GreaterOrEqual(t, paged.TotalCount, 3)

	t.Log("\n=== Step 5: Visibility scope and item scoping ===")
	allScope, err := searcher.Search(ctx, search.Request{
		UserID:    corpus.UserID,
		Query:     "vicdan",
		Limit:     10,
		MixPolicy: search.MixLexicalThenSemanticTail,
		Filters:   storage.Filters{Scope: storage.VisibilityScopeAll},
	})
	require.NoError(t, err)
	require.NotNil(t, hitAtIndex(allScope, corpus.NotesID, 0),
		"scope=all should admit the personal note")

	scoped, err := searcher.Search(ctx, search.Request{
		UserID:    corpus.UserID,
		Query:     "vicdan",
		Limit:     10,
		MixPolicy: search.MixLexicalThenSemanticTail,
		Filters:   storage.Filters{ItemID: &corpus.ArticleID},
	})
	require.NoError(t, err)
	require.NotEmpty(t, scoped.Results)
	for _, hit := range scoped.Results {
		assert.Equal(t, corpus.ArticleID, hit.ItemID, "item scope must hold for every hit")
	}

	t.Log("\n=== Step 6: Response cache replay ===")
	first, err := searcher.Search(ctx, search.Request{
		UserID:    corpus.UserID,
		Query:     "istikbal",
		Limit:     10,
		MixPolicy: search.MixLexicalThenSemanticTail,
	})
	require.NoError(t, err)
	require.NotNil(t, hitOnPage(first, corpus.NutukID, 150))
	_, cachedBefore := first.Metadata["cached"]
	assert.False(t, cachedBefore, "first pass must compute")

	replay, err := searcher.Search(ctx, search.Request{
		UserID:    corpus.UserID,
		Query:     "istikbal",
		Limit:     10,
		MixPolicy: search.MixLexicalThenSemanticTail,
	})
	require.NoError(t, err)
	assert.Equal(t, true, replay.Metadata["cached"])
	assert.Equal(t, first.TotalCount, replay.TotalCount)
	assert.Len(t, replay.Results, len(first.Results))

	t.Log("\n=== Step 7: Standard question ===")
	askStart := time.Now()
	ans, err := engine.Answer(ctx, rag.Request{
		UserID:   corpus.UserID,
		Question: "Vicdan nedir?",
	})
	askTime := time.Since(askStart)
	require.NoError(t, err)
	assert.Equal(t, pipelineAnswerVicdan, ans.Text)
	assert.Equal(t, answer.StatusOK, ans.Metadata["status"])
	assert.NotEmpty(t, ans.Metadata["model_name"])
	assert.Equal(t, false, ans.Metadata["compare_applied"])
	assert.Equal(t, true, ans.Metadata["external_kb_applied"])

	used, ok := ans.Metadata["used_chunk_count"].(int)
	require.True(t, ok)
	assert.Greater(t, used, 0)

	require.NotEmpty(t, ans.Sources)
	src := sourceOnPage(ans.Sources, "Nutuk", 12)
	require.NotNil(t, src, "the definitional passage should be cited")
	assert.Greater(t, src.Score, 0.0)
	assert.NotEmpty(t, src.Snippet)
	t.Logf("Answer: %d sources, %d evidence chunks, %v", len(ans.Sources), used, askTime)

	t.Log("\n=== Step 8: Explicit two-book compare ===")
	cmpStart := time.Now()
	cmpAns, err := engine.Answer(ctx, rag.Request{
		UserID:        corpus.UserID,
		Question:      "Nutuk ile Safahat'ın ahlak anlayışını karşılaştır.",
		CompareMode:   rag.CompareExplicitOnly,
		TargetItemIDs: corpus.BookIDs(),
	})
	cmpTime := time.Since(cmpStart)
	require.NoError(t, err)
	assert.Equal(t, pipelineAnswerCompare, cmpAns.Text)
	assert.Equal(t, answer.StatusOK, cmpAns.Metadata["status"])
	assert.Equal(t, true, cmpAns.Metadata["compare_applied"])
	require.NotEmpty(t, cmpAns.Sources)
	assert.True(t, sourceTitled(cmpAns.Sources, "Nutuk"), "compare evidence must cover Nutuk")
	assert.True(t, sourceTitled(cmpAns.Sources, "Safahat"), "compare evidence must cover Safahat")
	t.Logf("Compare answer: %d sources, %v", len(cmpAns.Sources), cmpTime)

	t.Log("\n=== Step 9: Analytics trail ===")
	entries, err := store.RecentSearches(ctx, corpus.UserID, 50)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 12, "every orchestrated search should be logged")
	var sawCacheHit bool
	for _, entry := range entries {
		assert.NotEmpty(t, entry.Query)
		assert.Equal(t, "rule_based", entry.RouterMode)
		if entry.Query == "istikbal" && entry.CacheHit {
			sawCacheHit = true
		}
	}
	assert.True(t, sawCacheHit, "the cache replay should be logged as a hit")

	hitRate := float64(sweepHits) / float64(len(sweep)) * 100

	t.Log("\n=== Summary ===")
	t.Logf("Seed time:       %v", seedTime)
	t.Logf("Sweep time:      %v (%d queries)", sweepTime, len(sweep))
	t.Logf("Avg query time:  %v", sweepTime/time.Duration(len(sweep)))
	t.Logf("Hit rate:        %.0f%%", hitRate)
	t.Logf("Log entries:     %d", len(entries))
	t.Log("\nLegend: ✓ = query surfaced the expected chunk")

	if hitRate < 100 {
		t.Errorf("hit rate %.0f%%, every sweep query should return results", hitRate)
	}
}

// hitOnPage returns the first result from the item with the given page
// number, or nil.
func hitOnPage(resp *search.Response, itemID uuid.UUID, page int) *search.Hit {
	for i := range resp.Results {
		h := &resp.Results[i]
		if h.ItemID == itemID && h.PageNumber != nil && *h.PageNumber == page {
			return h
		}
	}
	return nil
}

// hitAtIndex returns the first result from the item with the given chunk
// index, for pageless chunks.
func hitAtIndex(resp *search.Response, itemID uuid.UUID, index int) *search.Hit {
	for i := range resp.Results {
		h := &resp.Results[i]
		if h.ItemID == itemID && h.ChunkIndex == index {
			return h
		}
	}
	return nil
}

func sourceOnPage(sources []answer.Source, title string, page int) *answer.Source {
	for i := range sources {
		s := &sources[i]
		if s.Title == title && s.PageNumber != nil && *s.PageNumber == page {
			return s
		}
	}
	return nil
}

func sourceTitled(sources []answer.Source, title string) bool {
	for _, s := range sources {
		if s.Title == title {
			return true
		}
	}
	return false
}
