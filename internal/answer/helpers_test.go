package answer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tomehub/tomehub/internal/llm"
	"github.com/tomehub/tomehub/internal/rag"
	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/storage"
)

func intPtr(n int) *int { return &n }

func seedBook(t *testing.T, s *storage.MemoryStore, userID uuid.UUID, title string) uuid.UUID {
	t.Helper()
	item := &storage.LibraryItem{UserID: userID, Type: storage.ItemTypeBook, Title: title}
	require.NoError(t, s.UpsertLibraryItem(context.Background(), item))
	return item.ID
}

func seedChunk(t *testing.T, s *storage.MemoryStore, userID, itemID uuid.UUID, index int, page *int, text string) {
	t.Helper()
	require.NoError(t, s.UpsertChunks(context.Background(), []storage.Chunk{{
		UserID:      userID,
		ItemID:      itemID,
		ContentType: storage.ContentTypeBookChunk,
		ChunkIndex:  index,
		PageNumber:  page,
		Text:        text,
	}}))
}

// libraryEvidence builds one annotated evidence row for a titled source.
func libraryEvidence(title, text string, ann rag.Annotation) rag.Evidence {
	return rag.Evidence{
		Hit: search.Hit{
			ChunkHit: storage.ChunkHit{
				Chunk: storage.Chunk{
					ID:          uuid.New(),
					ItemID:      uuid.New(),
					Title:       title,
					ContentType: storage.ContentTypeBookChunk,
					Text:        text,
				},
				Score: 72,
			},
			Bucket: search.BucketLemma,
		},
		Annotation: ann,
	}
}

// answerContext is a ready assembled context the stub assembler returns.
func answerContext(mode rag.AnswerMode, network rag.NetworkStatus, evidence ...rag.Evidence) *rag.Context {
	return &rag.Context{
		Question:   "vicdan nedir",
		Original:   "vicdan nedir",
		Intent:     search.IntentDirect,
		Complexity: rag.ComplexityLow,
		Keywords:   []string{"vicdan"},
		Evidence:   evidence,
		Mode:       mode,
		Confidence: 4.3,
		Network:    network,
		Metadata:   search.Metadata{"quote_target_count": 4},
	}
}

// richText returns a reply that clears every recovery threshold for the
// given mode.
func richText(mode rag.AnswerMode) string {
	filler := strings.Repeat("Kanıtların ayrıntılı bir değerlendirmesi burada yer alıyor. ", 5)
	var text string
	switch mode {
	case rag.ModeQuote:
		text = headingDefinitions + "\n" + filler + "\n\n" + headingAnalysis + "\n" + filler + "\n\n" + headingConclusion + "\n" + filler
	case rag.ModeHybrid:
		text = headingLibrary + "\n" + filler + "\n\n" + headingOutside + "\n" + filler + "\n\n" + headingConclusion + "\n" + filler
	default:
		text = headingAnalysis + "\n" + filler + "\n\n" + headingConclusion + "\n" + filler
	}
	return strings.TrimSpace(text)
}

type stubAssembler struct {
	actx  *rag.Context
	err   error
	calls int
	got   []rag.Request
}

func (s *stubAssembler) Assemble(_ context.Context, req rag.Request) (*rag.Context, error) {
	s.calls++
	s.got = append(s.got, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.actx, nil
}

func newTestEngine(asm ContextAssembler, provider *llm.MockProvider, cfg Config) *Engine {
	router := llm.NewRouter(llm.RouterConfig{Gemini: provider})
	return NewEngine(Deps{Assembler: asm, Router: router}, cfg)
}

type failingSearchStore struct{ err error }

func (f failingSearchStore) SearchExact(context.Context, uuid.UUID, string, storage.Filters, int) ([]storage.ChunkHit, error) {
	return nil, f.err
}

func (f failingSearchStore) SearchTokens(context.Context, uuid.UUID, []string, storage.Filters, int) ([]storage.ChunkHit, error) {
	return nil, f.err
}

func (f failingSearchStore) SearchLemma(context.Context, uuid.UUID, []string, storage.Filters, int) ([]storage.ChunkHit, error) {
	return nil, f.err
}

func (f failingSearchStore) SearchVector(context.Context, uuid.UUID, []float32, storage.Filters, int) ([]storage.ChunkHit, error) {
	return nil, f.err
}

func (f failingSearchStore) SearchShadow(context.Context, uuid.UUID, string, []string, storage.Filters, int) ([]storage.ChunkHit, error) {
	return nil, f.err
}

// stubGraphStore serves the bridge lookups; a delay on ConceptsForChunks
// makes it overshoot the bridge deadline.
type stubGraphStore struct {
	concepts []storage.Concept
	edges    []storage.RelationEdge
	err      error
	delay    time.Duration

	conceptCalls int
}

func (g *stubGraphStore) MatchConcepts(context.Context, string, int) ([]storage.Concept, error) {
	return nil, nil
}

func (g *stubGraphStore) NearestConcepts(context.Context, []float32, int) ([]storage.Concept, error) {
	return nil, nil
}

func (g *stubGraphStore) GraphNeighbors(context.Context, uuid.UUID, []uuid.UUID, float64, int, int) ([]storage.GraphHit, error) {
	return nil, nil
}

func (g *stubGraphStore) ConceptsForChunks(ctx context.Context, _ []uuid.UUID, _ int) ([]storage.Concept, error) {
	g.conceptCalls++
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.concepts, nil
}

func (g *stubGraphStore) ConceptRelations(context.Context, []uuid.UUID, int) ([]storage.RelationEdge, error) {
	return g.edges, nil
}
