package rpc

import (
	"context"
	"errors"
	"testing"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehub/tomehub/internal/answer"
	"github.com/tomehub/tomehub/internal/rag"
	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/storage"
)

type stubSearcher struct {
	resp *search.Response
	err  error
	got  []search.Request
}

func (s *stubSearcher) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	s.got = append(s.got, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

type stubAnswerer struct {
	resp *answer.Answer
	err  error
	got  []rag.Request
}

func (s *stubAnswerer) Answer(ctx context.Context, req rag.Request) (*answer.Answer, error) {
	s.got = append(s.got, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func intp(n int) *int { return &n }

func TestSearchProcedureMapsRequestAndResponse(t *testing.T) {
	userID := uuid.New()
	bookID := uuid.New()
	chunkID := uuid.New()

	searcher := &stubSearcher{resp: &search.Response{
		Results: []search.Hit{{
			ChunkHit: storage.ChunkHit{
				Chunk: storage.Chunk{
					ID: chunkID, ItemID: bookID, Title: "Nutuk",
					ContentType: storage.ContentTypeBookChunk,
					Text:        "Vicdan, insanın içindeki yargıcın sesidir.",
					PageNumber:  intp(12), ChunkIndex: 3,
				},
				Score: 12.5,
			},
			Bucket: search.BucketExact,
		}},
		TotalCount: 7,
		Metadata:   search.Metadata{"router_mode": "fast_exact"},
	}}
	svc := NewService(nil, searcher, &stubAnswerer{})

	resp, err := svc.Search(context.Background(), connect.NewRequest(&SearchRequest{
		UserID:          userID.String(),
		Query:           "vicdan",
		Limit:           10,
		Offset:          2,
		Intent:          "DIRECT",
		BookID:          bookID.String(),
		ResourceType:    "BOOK",
		VisibilityScope: "all",
		ResultMixPolicy: search.MixLexicalThenSemanticTail,
		SemanticTailCap: 4,
	}))
	require.NoError(t, err)

	require.Len(t, searcher.got, 1)
	sent := searcher.got[0]
	assert.Equal(t, userID, sent.UserID)
	assert.Equal(t, "vicdan", sent.Query)
	assert.Equal(t, 10, sent.Limit)
	assert.Equal(t, 2, sent.Offset)
	assert.Equal(t, search.IntentDirect, sent.Intent)
	require.NotNil(t, sent.Filters.ItemID)
	assert.Equal(t, bookID, *sent.Filters.ItemID)
	assert.Equal(t, storage.ResourceTypeBook, sent.Filters.ResourceType)
	assert.Equal(t, storage.VisibilityScopeAll, sent.Filters.Scope)
	assert.Equal(t, search.MixLexicalThenSemanticTail, sent.MixPolicy)
	assert.Equal(t, 4, sent.SemanticTailCap)

	msg := resp.Msg
	assert.Equal(t, int32(7), msg.TotalCount)
	assert.Equal(t, "fast_exact", msg.Metadata["router_mode"])
	require.Len(t, msg.Results, 1)
	hit := msg.Results[0]
	assert.Equal(t, chunkID.String(), hit.ChunkID)
	assert.Equal(t, bookID.String(), hit.ItemID)
	assert.Equal(t, "Nutuk", hit.Title)
	assert.Equal(t, "BOOK_CHUNK", hit.ContentType)
	assert.Equal(t, int32(12), hit.PageNumber)
	assert.Equal(t, int32(3), hit.ChunkIndex)
	assert.Equal(t, 12.5, hit.Score)
	assert.Equal(t, search.BucketExact, hit.Bucket)
}

func TestSearchProcedureValidation(t *testing.T) {
	userID := uuid.New().String()
	cases := []struct {
		name string
		req  *SearchRequest
	}{
		{"missing user id", &SearchRequest{Query: "vicdan"}},
		{"malformed user id", &SearchRequest{UserID: "not-a-uuid", Query: "vicdan"}},
		{"empty query", &SearchRequest{UserID: userID}},
		{"limit above cap", &SearchRequest{UserID: userID, Query: "vicdan", Limit: 101}},
		{"offset above cap", &SearchRequest{UserID: userID, Query: "vicdan", Offset: 10001}},
		{"malformed book id", &SearchRequest{UserID: userID, Query: "vicdan", BookID: "xyz"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			searcher := &stubSearcher{}
			svc := NewService(nil, searcher, &stubAnswerer{})
			_, err := svc.Search(context.Background(), connect.NewRequest(tc.req))
			require.Error(t, err)
			assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
			assert.Empty(t, searcher.got)
		})
	}
}

func TestSearchProcedureInternalError(t *testing.T) {
	searcher := &stubSearcher{err: errors.New("store down")}
	svc := NewService(nil, searcher, &stubAnswerer{})

	_, err := svc.Search(context.Background(), connect.NewRequest(&SearchRequest{
		UserID: uuid.New().String(),
		Query:  "vicdan",
	}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeInternal, connect.CodeOf(err))
}

func TestAskProcedureMapsRequestAndResponse(t *testing.T) {
	userID := uuid.New()
	contextID := uuid.New()
	targetID := uuid.New()
	sourceID := uuid.New()

	answerer := &stubAnswerer{resp: &answer.Answer{
		Text: "Vicdan, iç sestir.",
		Sources: []answer.Source{{
			ID: sourceID, Title: "Nutuk", PageNumber: intp(12),
			Snippet: "Vicdan, insanın içindeki...", Score: 12.5,
		}},
		Metadata: search.Metadata{"status": "ok"},
	}}
	svc := NewService(nil, &stubSearcher{}, answerer)

	resp, err := svc.Ask(context.Background(), connect.NewRequest(&AskRequest{
		UserID:         userID.String(),
		Question:       "vicdan nedir",
		SessionID:      "s-1",
		SessionSummary: "önceki konu: ahlak",
		History: []*ChatTurn{
			{Role: "user", Content: "ahlak nedir"},
			{Role: "assistant", Content: "Ahlak..."},
		},
		ContextItemID: contextID.String(),
		ScopeMode:     "BOOK_FIRST",
		CompareMode:   "EXPLICIT_ONLY",
		TargetBookIDs: []string{targetID.String(), "broken"},
		IncludeNotes:  true,
		Limit:         20,
	}))
	require.NoError(t, err)

	require.Len(t, answerer.got, 1)
	sent := answerer.got[0]
	assert.Equal(t, userID, sent.UserID)
	assert.Equal(t, "vicdan nedir", sent.Question)
	assert.Equal(t, "s-1", sent.SessionID)
	require.NotNil(t, sent.ContextItemID)
	assert.Equal(t, contextID, *sent.ContextItemID)
	assert.Equal(t, rag.ScopeBookFirst, sent.ScopeMode)
	assert.Equal(t, rag.CompareExplicitOnly, sent.CompareMode)
	assert.Equal(t, []uuid.UUID{targetID}, sent.TargetItemIDs)
	assert.True(t, sent.IncludeNotesTarget)
	require.Len(t, sent.ChatHistory, 2)
	assert.Equal(t, "user", sent.ChatHistory[0].Role)
	assert.Equal(t, 20, sent.Limit)

	msg := resp.Msg
	assert.Equal(t, "Vicdan, iç sestir.", msg.AnswerText)
	assert.Equal(t, "ok", msg.Metadata["status"])
	require.Len(t, msg.Sources, 1)
	assert.Equal(t, sourceID.String(), msg.Sources[0].ChunkID)
	assert.Equal(t, int32(12), msg.Sources[0].PageNumber)
}

func TestAskProcedureValidation(t *testing.T) {
	userID := uuid.New().String()
	cases := []struct {
		name string
		req  *AskRequest
	}{
		{"missing question", &AskRequest{UserID: userID}},
		{"malformed user id", &AskRequest{UserID: "nope", Question: "vicdan nedir"}},
		{"malformed context item", &AskRequest{UserID: userID, Question: "vicdan nedir", ContextItemID: "zz"}},
		{"limit above cap", &AskRequest{UserID: userID, Question: "vicdan nedir", Limit: 500}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			answerer := &stubAnswerer{}
			svc := NewService(nil, &stubSearcher{}, answerer)
			_, err := svc.Ask(context.Background(), connect.NewRequest(tc.req))
			require.Error(t, err)
			assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
			assert.Empty(t, answerer.got)
		})
	}
}

func TestHandlersExposeBothProcedures(t *testing.T) {
	svc := NewService(nil, &stubSearcher{}, &stubAnswerer{})
	handlers := svc.Handlers()

	require.Len(t, handlers, 2)
	assert.NotNil(t, handlers[SearchProcedure])
	assert.NotNil(t, handlers[AskProcedure])
}
