package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehub/tomehub/internal/llm"
	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/storage"
)

func definitionalHits() []search.Hit {
	texts := []string{
		"Vicdan, insanın içindeki yargıcın sesi olarak tanımlanır.",
		"Yazara göre vicdan, ahlaki yargının kaynağı demektir.",
		"Vicdan kavramı, iç denetim duygusu olarak bilinir.",
		"Vicdanın tanımı: insanı iyiye çağıran iç ses.",
	}
	hits := make([]search.Hit, 0, len(texts))
	for i, text := range texts {
		bucket := search.BucketLemma
		if i == 0 {
			bucket = search.BucketExact
		}
		hits = append(hits, libraryHit(bucket, "Ahlak Üzerine", text, 72))
	}
	return hits
}

func TestAssembleDirectDefinitionQuestion(t *testing.T) {
	searcher := &scriptedSearcher{respond: func(search.Request) *search.Response {
		return &search.Response{
			Results:  definitionalHits(),
			Metadata: search.Metadata{"retrieval_path": "lexical"},
		}
	}}
	a := NewAssembler(Deps{Search: searcher}, Config{})

	ctxOut, err := a.Assemble(context.Background(), Request{
		Question: "vicdan nedir",
		UserID:   uuid.New(),
	})
	require.NoError(t, err)

	assert.Equal(t, "vicdan nedir", ctxOut.Question)
	assert.Equal(t, search.IntentDirect, ctxOut.Intent)
	assert.Equal(t, ComplexityLow, ctxOut.Complexity)
	assert.Equal(t, []string{"vicdan"}, ctxOut.Keywords)
	assert.Equal(t, ModeQuote, ctxOut.Mode)
	assert.Equal(t, NetworkIn, ctxOut.Network)
	assert.InDelta(t, 4.32, ctxOut.Confidence, 1e-6)

	require.Len(t, ctxOut.Evidence, 4)
	for _, ev := range ctxOut.Evidence {
		assert.Equal(t, LevelA, ev.Annotation.Level)
		assert.Equal(t, SourceOrchestrator, ev.Annotation.Source)
		assert.InDelta(t, 86.4, ev.Annotation.Weighted, 1e-6)
	}

	meta := ctxOut.Metadata
	assert.Equal(t, "DIRECT", meta["intent"])
	assert.Equal(t, "QUOTE", meta["answer_mode"])
	assert.Equal(t, "direct_definitional_evidence", meta["answer_mode_reason"])
	assert.Equal(t, 4, meta["quote_target_count"])
	assert.Equal(t, "IN_NETWORK", meta["network_status"])
	assert.Equal(t, 4, meta["evidence_count"])
	assert.Equal(t, false, meta["compare_applied"])
	assert.Equal(t, "lexical", meta["retrieval_path"], "orchestrator metadata should merge through")
	_, hasRewrite := meta["query_rewrite_applied"]
	assert.False(t, hasRewrite, "no rewriter wired, no rewrite telemetry")

	reqs := searcher.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "vicdan nedir", reqs[0].Query)
	assert.Equal(t, defaultEvidenceLimit, reqs[0].Limit)
	assert.Equal(t, search.IntentDirect, reqs[0].Intent)
	assert.Nil(t, reqs[0].Filters.ItemID)
}

func TestAssembleMergesGraphHits(t *testing.T) {
	searcher := &scriptedSearcher{respond: func(search.Request) *search.Response {
		return &search.Response{
			Results:  []search.Hit{libraryHit(search.BucketExact, "Ahlak Üzerine", "Vicdan, iç yargıcın sesi olarak tanımlanır.", 80)},
			Metadata: search.Metadata{},
		}
	}}
	graph := &stubGraph{hits: []search.Hit{graphHit("Erdem Kitabı", "Erdem ile iç ses arasındaki bağ.", 0.8)}}
	a := NewAssembler(Deps{Search: searcher, Graph: graph}, Config{})

	ctxOut, err := a.Assemble(context.Background(), Request{Question: "vicdan nedir", UserID: uuid.New()})
	require.NoError(t, err)

	assert.Equal(t, 1, graph.callCount())
	assert.Equal(t, defaultEvidenceLimit, graph.fetch)
	assert.Equal(t, 1, ctxOut.Metadata["graph_hit_count"])
	_, skipped := ctxOut.Metadata["graph_skipped_reason"]
	assert.False(t, skipped)

	require.Len(t, ctxOut.Evidence, 2)
	graphEv := ctxOut.Evidence[1]
	assert.Equal(t, SourceGraph, graphEv.Annotation.Source)
	assert.True(t, graphEv.Annotation.GraphBoosted)
	assert.Equal(t, LevelB, graphEv.Annotation.Level)
}

func TestAssembleSkipsGraphForDirectIntent(t *testing.T) {
	searcher := &scriptedSearcher{respond: func(search.Request) *search.Response {
		return &search.Response{Results: definitionalHits()[:1], Metadata: search.Metadata{}}
	}}
	graph := &stubGraph{hits: []search.Hit{graphHit("Erdem Kitabı", "İlgili bir bölüm.", 0.9)}}
	a := NewAssembler(Deps{Search: searcher, Graph: graph}, Config{GraphDirectSkip: true})

	ctxOut, err := a.Assemble(context.Background(), Request{Question: "vicdan nedir", UserID: uuid.New()})
	require.NoError(t, err)

	assert.Equal(t, 0, graph.callCount())
	assert.Equal(t, "direct_intent", ctxOut.Metadata["graph_skipped_reason"])
	assert.Len(t, ctxOut.Evidence, 1)
}

func TestAssembleGraphTimeout(t *testing.T) {
	searcher := &scriptedSearcher{respond: func(search.Request) *search.Response {
		return &search.Response{Results: definitionalHits()[:1], Metadata: search.Metadata{}}
	}}
	graph := &stubGraph{
		delay: 80 * time.Millisecond,
		hits:  []search.Hit{graphHit("Erdem Kitabı", "İlgili bir bölüm.", 0.9)},
	}
	a := NewAssembler(Deps{Search: searcher, Graph: graph}, Config{GraphTimeout: 5 * time.Millisecond})

	ctxOut, err := a.Assemble(context.Background(), Request{Question: "vicdan nedir", UserID: uuid.New()})
	require.NoError(t, err)

	assert.Equal(t, true, ctxOut.Metadata["graph_timeout_triggered"])
	assert.Equal(t, true, ctxOut.Metadata["latency_budget_applied"])
	assert.Len(t, ctxOut.Evidence, 1, "the slow graph pass contributes nothing")
}

func TestAssembleGraphFailureDegrades(t *testing.T) {
	searcher := &scriptedSearcher{respond: func(search.Request) *search.Response {
		return &search.Response{
			Results:  definitionalHits()[:1],
			Metadata: search.Metadata{"degradations": []search.Metadata{{"component": "semantic"}}},
		}
	}}
	graph := &stubGraph{err: errors.New("graph store offline")}
	a := NewAssembler(Deps{Search: searcher, Graph: graph}, Config{})

	ctxOut, err := a.Assemble(context.Background(), Request{Question: "vicdan nedir", UserID: uuid.New()})
	require.NoError(t, err)

	degs, ok := ctxOut.Metadata["degradations"].([]search.Metadata)
	require.True(t, ok)
	require.Len(t, degs, 2)
	assert.Equal(t, "semantic", degs[0]["component"])
	assert.Equal(t, "graph", degs[1]["component"])
}

func TestAssembleExternalKBForContextItem(t *testing.T) {
	ctxItem := uuid.New()
	searcher := &scriptedSearcher{respond: func(search.Request) *search.Response {
		return &search.Response{Results: definitionalHits()[:1], Metadata: search.Metadata{}}
	}}
	kb := &stubKB{
		enabled: true,
		edges: map[uuid.UUID][]search.Hit{
			ctxItem: {kbHit("Sefiller", "Sefiller konusu adalet ve merhamet.", 0.9)},
		},
	}
	a := NewAssembler(Deps{Search: searcher, External: kb}, Config{})

	ctxOut, err := a.Assemble(context.Background(), Request{
		Question:      "vicdan nedir",
		UserID:        uuid.New(),
		ContextItemID: &ctxItem,
	})
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{ctxItem}, kb.queried)
	assert.Equal(t, true, ctxOut.Metadata["external_kb_applied"])
	assert.Equal(t, 1, ctxOut.Metadata["external_kb_edge_count"])
	assert.Equal(t, NetworkHybrid, ctxOut.Network, "external rows turn strong library grounding hybrid")

	require.Len(t, ctxOut.Evidence, 2)
	kbEv := ctxOut.Evidence[1]
	assert.Equal(t, SourceExternalKB, kbEv.Annotation.Source)
	assert.InDelta(t, 0.9*defaultExternalKBWeight, kbEv.Annotation.Weighted, 1e-6, "edges stay supplementary in the sort")

	// The context item restricts the orchestrator call when compare is
	// not in play.
	reqs := searcher.recorded()
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].Filters.ItemID)
	assert.Equal(t, ctxItem, *reqs[0].Filters.ItemID)
}

func TestAssembleExternalKBTopItems(t *testing.T) {
	itemX, itemY := uuid.New(), uuid.New()
	hx1 := libraryHit(search.BucketLemma, "Ahlak Üzerine", "Vicdan üzerine birinci bölüm.", 70)
	hx1.ItemID = itemX
	hx2 := libraryHit(search.BucketLemma, "Ahlak Üzerine", "Vicdan üzerine ikinci bölüm.", 65)
	hx2.ItemID = itemX
	hy := libraryHit(search.BucketSemantic, "Erdem Kitabı", "Erdem üzerine bir bölüm.", 60)
	hy.ItemID = itemY

	searcher := &scriptedSearcher{respond: func(search.Request) *search.Response {
		return &search.Response{Results: []search.Hit{hx1, hx2, hy}, Metadata: search.Metadata{}}
	}}
	kb := &stubKB{
		enabled: true,
		edges:   map[uuid.UUID][]search.Hit{itemX: {kbHit("Ahlak Üzerine", "HAS_SUBJECT konusu ahlak.", 0.8)}},
	}
	a := NewAssembler(Deps{Search: searcher, External: kb}, Config{})

	ctxOut, err := a.Assemble(context.Background(), Request{Question: "vicdan nedir", UserID: uuid.New()})
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{itemX, itemY}, kb.queried, "candidates ranked by pooled chunk count")
	assert.Equal(t, 1, ctxOut.Metadata["external_kb_edge_count"])
}

func TestAssembleSupplementaryFill(t *testing.T) {
	newSearcher := func(primaryCount int) *scriptedSearcher {
		return &scriptedSearcher{respond: func(req search.Request) *search.Response {
			resp := &search.Response{Metadata: search.Metadata{}}
			if req.MixPolicy == search.MixLexicalThenSemanticTail {
				resp.Results = []search.Hit{
					libraryHit(search.BucketLemma, "Ahlak Üzerine", "Ahlak ile vicdanın ilişkisi üzerine.", 40),
					libraryHit(search.BucketSemantic, "Erdem Kitabı", "Vicdanın erdemle bağı üzerine.", 35),
				}
				return resp
			}
			for i := 0; i < primaryCount; i++ {
				resp.Results = append(resp.Results, libraryHit(search.BucketLemma, "Ahlak Üzerine", fmt.Sprintf("Bölüm %d: vicdan üzerine.", i), 50))
			}
			return resp
		}}
	}

	t.Run("sparse pool fills", func(t *testing.T) {
		searcher := newSearcher(1)
		a := NewAssembler(Deps{Search: searcher}, Config{SupplementaryGateEnabled: true})

		ctxOut, err := a.Assemble(context.Background(), Request{Question: "vicdan ve ahlak ilişkisi nedir", UserID: uuid.New()})
		require.NoError(t, err)

		reqs := searcher.recorded()
		require.Len(t, reqs, 2)
		assert.Equal(t, search.MixLexicalThenSemanticTail, reqs[1].MixPolicy)
		assert.Equal(t, "vicdan ahlak", reqs[1].Query)

		assert.Equal(t, true, ctxOut.Metadata["supplementary_applied"])
		assert.Equal(t, "vicdan ahlak", ctxOut.Metadata["supplementary_query"])
		assert.Len(t, ctxOut.Evidence, 3)

		supplementary := 0
		for _, ev := range ctxOut.Evidence {
			if ev.Annotation.Source == SourceSupplementary {
				supplementary++
			}
		}
		assert.Equal(t, 2, supplementary)
	})

	t.Run("dense pool skips", func(t *testing.T) {
		searcher := newSearcher(10)
		a := NewAssembler(Deps{Search: searcher}, Config{SupplementaryGateEnabled: true})

		ctxOut, err := a.Assemble(context.Background(), Request{Question: "vicdan ve ahlak ilişkisi nedir", UserID: uuid.New()})
		require.NoError(t, err)

		assert.Len(t, searcher.recorded(), 1)
		_, applied := ctxOut.Metadata["supplementary_applied"]
		assert.False(t, applied)
	})

	t.Run("gate off skips", func(t *testing.T) {
		searcher := newSearcher(1)
		a := NewAssembler(Deps{Search: searcher}, Config{})

		_, err := a.Assemble(context.Background(), Request{Question: "vicdan ve ahlak ilişkisi nedir", UserID: uuid.New()})
		require.NoError(t, err)
		assert.Len(t, searcher.recorded(), 1)
	})
}

func TestAssembleCompareFlow(t *testing.T) {
	user := uuid.New()
	store := storage.NewMemoryStore()
	b1 := seedBook(t, store, user, "Küfür Defteri")
	b2 := seedBook(t, store, user, "Medeniyet Tarihi")

	bookTitle := func(id uuid.UUID) string { return "Kitap " + id.String()[:8] }
	primaryText := func(i int) string { return fmt.Sprintf("Bölüm %d: vicdan burada tanımlanır.", i) }
	noteText := func(i int) string { return fmt.Sprintf("Not %d: bu bölümdeki düşüncem.", i) }

	searcher := &scriptedSearcher{respond: func(req search.Request) *search.Response {
		resp := &search.Response{Metadata: search.Metadata{}}
		switch {
		case req.Filters.ResourceType == storage.ResourceTypeBook && req.Filters.ItemID != nil:
			for i := 0; i < 3; i++ {
				h := libraryHit(search.BucketLemma, bookTitle(*req.Filters.ItemID), primaryText(i), 70)
				h.ItemID = *req.Filters.ItemID
				resp.Results = append(resp.Results, h)
			}
		case req.Filters.ResourceType == storage.ResourceTypeAllNotes && req.Filters.ItemID != nil:
			for i := 0; i < 2; i++ {
				h := libraryHit(search.BucketLemma, bookTitle(*req.Filters.ItemID), noteText(i), 60)
				h.ItemID = *req.Filters.ItemID
				h.ContentType = storage.ContentTypeNote
				resp.Results = append(resp.Results, h)
			}
		default:
			// The default pass returns a duplicate of the first compare
			// chunk plus one fresh passage.
			dup := libraryHit(search.BucketExact, bookTitle(b1), primaryText(0), 100)
			dup.ItemID = b1
			fresh := libraryHit(search.BucketSemantic, "Serbest Kaynak", "Vicdan üzerine serbest bir bölüm.", 50)
			resp.Results = []search.Hit{dup, fresh}
		}
		return resp
	}}

	a := NewAssembler(Deps{Search: searcher, Catalog: store}, Config{
		Compare: CompareConfig{Enabled: true},
	})

	ctxOut, err := a.Assemble(context.Background(), Request{
		Question:      "iki kitaptaki vicdan görüşünü karşılaştır",
		UserID:        user,
		CompareMode:   CompareExplicitOnly,
		TargetItemIDs: []uuid.UUID{b1, b2},
		ContextItemID: &b1,
	})
	require.NoError(t, err)

	meta := ctxOut.Metadata
	assert.Equal(t, "COMPARATIVE", meta["intent"])
	assert.Equal(t, true, meta["compare_applied"])
	assert.Equal(t, EvidencePolicyCompareV1, meta["evidence_policy"])
	assert.Equal(t, []string{b1.String(), b2.String()}, meta["target_books_used"])
	assert.Equal(t, map[string]int{b1.String(): 5, b2.String(): 3}, meta["per_book_evidence_count"])
	assert.Equal(t, false, meta["latency_budget_hit"])

	// Six primaries, the deduplicated fresh chunk, and two secondaries
	// at the tail.
	require.Len(t, ctxOut.Evidence, 9)
	for _, ev := range ctxOut.Evidence[:6] {
		assert.True(t, ev.Annotation.ComparePrimary)
	}
	assert.Equal(t, "Serbest Kaynak", ctxOut.Evidence[6].Title)
	for _, ev := range ctxOut.Evidence[7:] {
		assert.True(t, ev.Annotation.CompareSecondary)
		assert.Equal(t, b1, ev.Annotation.CompareTarget)
	}

	// The duplicate from the default pass lost to the compare copy.
	dupCount := 0
	for _, ev := range ctxOut.Evidence {
		if ev.Title == bookTitle(b1) && ev.Text == primaryText(0) {
			dupCount++
			assert.True(t, ev.Annotation.ComparePrimary)
			assert.InDelta(t, 70, ev.Score, 1e-9)
		}
	}
	assert.Equal(t, 1, dupCount)

	// Compare dropped the context-item restriction on the default pass.
	var defaultReq *search.Request
	for i := range searcher.recorded() {
		sr := searcher.recorded()[i]
		if sr.Filters.ResourceType == "" {
			defaultReq = &sr
			break
		}
	}
	require.NotNil(t, defaultReq)
	assert.Nil(t, defaultReq.Filters.ItemID)

	assert.Equal(t, ModeQuote, ctxOut.Mode)
	assert.Equal(t, "high_confidence_evidence", meta["answer_mode_reason"])
	assert.Equal(t, NetworkIn, ctxOut.Network)
}

func TestAssembleNoEvidence(t *testing.T) {
	t.Run("total retrieval failure", func(t *testing.T) {
		searcher := &scriptedSearcher{err: errors.New("store offline")}
		a := NewAssembler(Deps{Search: searcher}, Config{})

		ctxOut, err := a.Assemble(context.Background(), Request{Question: "vicdan nedir", UserID: uuid.New()})
		assert.Nil(t, ctxOut)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoEvidence)
	})

	t.Run("empty but successful retrieval", func(t *testing.T) {
		searcher := &scriptedSearcher{}
		a := NewAssembler(Deps{Search: searcher}, Config{})

		ctxOut, err := a.Assemble(context.Background(), Request{Question: "vicdan nedir", UserID: uuid.New()})
		require.NoError(t, err)

		assert.Empty(t, ctxOut.Evidence)
		assert.Equal(t, ModeSynthesis, ctxOut.Mode)
		assert.Equal(t, NetworkOut, ctxOut.Network)
		assert.InDelta(t, 0.5, ctxOut.Confidence, 1e-9)
		assert.Equal(t, 0, ctxOut.Metadata["evidence_count"])
	})
}

func TestAssembleRewriteFlow(t *testing.T) {
	rewritten := "Küfür Defteri ile Medeniyet Tarihi kitaplarını karşılaştır"
	provider := llm.NewMockProvider("gemini").Queue(rewritten)
	rewriter := newTestRewriter(provider, nil, RewriteConfig{})

	searcher := &scriptedSearcher{respond: func(search.Request) *search.Response {
		return &search.Response{Results: definitionalHits()[:1], Metadata: search.Metadata{}}
	}}
	graph := &stubGraph{hits: []search.Hit{graphHit("Erdem Kitabı", "İlgili bölüm.", 0.9)}}
	a := NewAssembler(Deps{Search: searcher, Graph: graph, Rewriter: rewriter}, Config{GraphDirectSkip: true})

	ctxOut, err := a.Assemble(context.Background(), Request{
		Question:    "peki bunları karşılaştırır mısın",
		UserID:      uuid.New(),
		ChatHistory: chatHistory(),
	})
	require.NoError(t, err)

	assert.Equal(t, rewritten, ctxOut.Question)
	assert.Equal(t, "peki bunları karşılaştırır mısın", ctxOut.Original)
	assert.Equal(t, search.IntentComparative, ctxOut.Intent)

	meta := ctxOut.Metadata
	assert.Equal(t, true, meta["query_rewrite_applied"])
	assert.Equal(t, rewritten, meta["rewritten_query"])
	assert.Equal(t, false, meta["rewrite_cached"])

	// A follow-up skips the graph pass even when its rewritten intent
	// is not direct.
	assert.Equal(t, 0, graph.callCount())
	assert.Contains(t, meta, "graph_skipped_reason")

	reqs := searcher.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, rewritten, reqs[0].Query)
}

func TestSearchFiltersScopeModes(t *testing.T) {
	a := NewAssembler(Deps{Search: &scriptedSearcher{}}, Config{})
	itemID := uuid.New()

	f := a.searchFilters(Request{ScopeMode: ScopeGlobal, ContextItemID: &itemID, ResourceType: storage.ResourceTypeBook}, false)
	assert.Nil(t, f.ItemID)
	assert.Equal(t, storage.ResourceTypeBook, f.ResourceType)

	f = a.searchFilters(Request{ScopeMode: ScopeHighlightFirst, ContextItemID: &itemID}, false)
	assert.Equal(t, storage.ResourceTypeAllNotes, f.ResourceType)
	require.NotNil(t, f.ItemID)
	assert.Equal(t, itemID, *f.ItemID)

	// Explicit type filters win over the highlight-first default.
	f = a.searchFilters(Request{ScopeMode: ScopeHighlightFirst, ContentType: storage.ContentTypeHighlight}, false)
	assert.Empty(t, f.ResourceType)
	assert.Equal(t, storage.ContentTypeHighlight, f.ContentType)

	f = a.searchFilters(Request{ContextItemID: &itemID}, false)
	require.NotNil(t, f.ItemID)

	f = a.searchFilters(Request{ContextItemID: &itemID}, true)
	assert.Nil(t, f.ItemID, "compare fan-out already scoped the targets")
}

func TestCapWithGold(t *testing.T) {
	a := NewAssembler(Deps{Search: &scriptedSearcher{}}, Config{MaxStandard: 5})

	evidence := make([]Evidence, 0, 8)
	for i := 0; i < 5; i++ {
		evidence = append(evidence, annotated(Annotation{Level: LevelB}))
	}
	evidence = append(evidence,
		annotated(Annotation{Level: LevelA}),
		annotated(Annotation{Level: LevelB, Features: []Feature{FeatureDefinitional}}),
		annotated(Annotation{Level: LevelC}),
	)

	kept := a.capWithGold(evidence)

	require.Len(t, kept, 7)
	assert.Equal(t, LevelA, kept[5].Annotation.Level)
	assert.True(t, kept[6].Annotation.Has(FeatureDefinitional))
}

func TestQuoteTargetCount(t *testing.T) {
	assert.Equal(t, 4, quoteTargetCount(ModeQuote, 4.32))
	assert.Equal(t, 1, quoteTargetCount(ModeHybrid, 0.5))
	assert.Equal(t, 5, quoteTargetCount(ModeQuote, 5.0))
	assert.Equal(t, 6, quoteTargetCount(ModeQuote, 6.6))
	assert.Equal(t, 0, quoteTargetCount(ModeSynthesis, 4.0))
	assert.Equal(t, 0, quoteTargetCount(ModeAnalytic, 4.0))
}

func TestAppendDegradations(t *testing.T) {
	// Cached orchestrator responses decode their degradation list as
	// []interface{}; new entries must still append.
	meta := search.Metadata{"degradations": []interface{}{map[string]interface{}{"component": "cache"}}}
	appendDegradations(meta, []search.Metadata{{"component": "graph"}})

	got, ok := meta["degradations"].([]interface{})
	require.True(t, ok)
	assert.Len(t, got, 2)
}
