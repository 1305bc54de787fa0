// Package rpc exposes the retrieval core over Connect unary procedures
// for service-to-service callers. Messages are hand-written mirror
// structs; the browser-facing REST routes live beside this surface in
// the API binary.
package rpc

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/answer"
	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/internal/rag"
	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/storage"
)

// Procedure paths for mounting and for client call sites.
const (
	SearchProcedure = "/tomehub.v1.TomeHubService/Search"
	AskProcedure    = "/tomehub.v1.TomeHubService/Ask"
)

// Request bounds shared with the REST handlers.
const (
	MaxLimit  = 100
	MaxOffset = 10000
)

// Searcher runs one orchestrated search.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// Answerer runs the question answering pipeline.
type Answerer interface {
	Answer(ctx context.Context, req rag.Request) (*answer.Answer, error)
}

// Service implements the Connect procedures.
type Service struct {
	log      *observability.Logger
	searcher Searcher
	answerer Answerer
}

// NewService creates the Connect service.
func NewService(logger *observability.Logger, searcher Searcher, answerer Answerer) *Service {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Service{
		log:      logger.WithComponent("rpc"),
		searcher: searcher,
		answerer: answerer,
	}
}

// Handlers returns the procedure paths and their handlers, ready to
// mount on a mux.
func (s *Service) Handlers() map[string]http.Handler {
	return map[string]http.Handler{
		SearchProcedure: connect.NewUnaryHandler(SearchProcedure, s.Search),
		AskProcedure:    connect.NewUnaryHandler(AskProcedure, s.Ask),
	}
}

// SearchRequest is the Search procedure request message.
type SearchRequest struct {
	UserID          string `json:"user_id"`
	Query           string `json:"query"`
	Limit           int32  `json:"limit,omitempty"`
	Offset          int32  `json:"offset,omitempty"`
	Intent          string `json:"intent,omitempty"`
	BookID          string `json:"book_id,omitempty"`
	ResourceType    string `json:"resource_type,omitempty"`
	ContentType     string `json:"content_type,omitempty"`
	IngestionType   string `json:"ingestion_type,omitempty"`
	VisibilityScope string `json:"visibility_scope,omitempty"`
	ResultMixPolicy string `json:"result_mix_policy,omitempty"`
	SemanticTailCap int32  `json:"semantic_tail_cap,omitempty"`
}

// SearchHit is one result row of the Search procedure.
type SearchHit struct {
	ChunkID     string  `json:"chunk_id"`
	ItemID      string  `json:"item_id"`
	Title       string  `json:"title"`
	ContentType string  `json:"content_type"`
	Text        string  `json:"text"`
	PageNumber  int32   `json:"page_number,omitempty"`
	ChunkIndex  int32   `json:"chunk_index"`
	Score       float64 `json:"score"`
	Bucket      string  `json:"bucket"`
}

// SearchResponse is the Search procedure response message.
type SearchResponse struct {
	Results    []*SearchHit           `json:"results"`
	TotalCount int32                  `json:"total_count"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ChatTurn is one prior conversation message.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AskRequest is the Ask procedure request message.
type AskRequest struct {
	UserID          string      `json:"user_id"`
	Question        string      `json:"question"`
	SessionID       string      `json:"session_id,omitempty"`
	SessionSummary  string      `json:"session_summary,omitempty"`
	History         []*ChatTurn `json:"history,omitempty"`
	ContextItemID   string      `json:"context_item_id,omitempty"`
	ScopeMode       string      `json:"scope_mode,omitempty"`
	CompareMode     string      `json:"compare_mode,omitempty"`
	TargetBookIDs   []string    `json:"target_book_ids,omitempty"`
	IncludeNotes    bool        `json:"include_notes,omitempty"`
	ResourceType    string      `json:"resource_type,omitempty"`
	ContentType     string      `json:"content_type,omitempty"`
	IngestionType   string      `json:"ingestion_type,omitempty"`
	VisibilityScope string      `json:"visibility_scope,omitempty"`
	Limit           int32       `json:"limit,omitempty"`
}

// AnswerSource is one cited chunk of the Ask procedure response.
type AnswerSource struct {
	ChunkID    string  `json:"chunk_id"`
	Title      string  `json:"title"`
	PageNumber int32   `json:"page_number,omitempty"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// AskResponse is the Ask procedure response message.
type AskResponse struct {
	AnswerText string                 `json:"answer_text"`
	Sources    []*AnswerSource        `json:"sources"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Search handles the Search procedure.
func (s *Service) Search(ctx context.Context, req *connect.Request[SearchRequest]) (*connect.Response[SearchResponse], error) {
	msg := req.Msg

	userID, err := requireUser(msg.UserID)
	if err != nil {
		return nil, err
	}
	if msg.Query == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("query is required"))
	}
	limit, offset, err := checkWindow(msg.Limit, msg.Offset)
	if err != nil {
		return nil, err
	}

	internal := search.Request{
		Query:           msg.Query,
		UserID:          userID,
		Limit:           limit,
		Offset:          offset,
		Intent:          search.Intent(msg.Intent),
		MixPolicy:       msg.ResultMixPolicy,
		SemanticTailCap: int(msg.SemanticTailCap),
		Filters: storage.Filters{
			ResourceType:  storage.ResourceType(msg.ResourceType),
			ContentType:   storage.ContentType(msg.ContentType),
			IngestionType: storage.IngestionType(msg.IngestionType),
			Scope:         storage.VisibilityScope(msg.VisibilityScope),
		},
	}
	if msg.BookID != "" {
		itemID, err := uuid.Parse(msg.BookID)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid book_id format"))
		}
		internal.Filters.ItemID = &itemID
	}

	resp, err := s.searcher.Search(ctx, internal)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", msg.UserID).Msg("search procedure failed")
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	out := &SearchResponse{
		Results:    make([]*SearchHit, 0, len(resp.Results)),
		TotalCount: int32(resp.TotalCount),
		Metadata:   resp.Metadata,
	}
	for _, hit := range resp.Results {
		out.Results = append(out.Results, toSearchHit(hit))
	}
	return connect.NewResponse(out), nil
}

// Ask handles the Ask procedure.
func (s *Service) Ask(ctx context.Context, req *connect.Request[AskRequest]) (*connect.Response[AskResponse], error) {
	msg := req.Msg

	userID, err := requireUser(msg.UserID)
	if err != nil {
		return nil, err
	}
	if msg.Question == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("question is required"))
	}
	limit, _, err := checkWindow(msg.Limit, 0)
	if err != nil {
		return nil, err
	}

	internal := rag.Request{
		Question:           msg.Question,
		UserID:             userID,
		SessionID:          msg.SessionID,
		SessionSummary:     msg.SessionSummary,
		Limit:              limit,
		ScopeMode:          rag.ScopeMode(msg.ScopeMode),
		CompareMode:        rag.CompareMode(msg.CompareMode),
		IncludeNotesTarget: msg.IncludeNotes,
		ResourceType:       storage.ResourceType(msg.ResourceType),
		ContentType:        storage.ContentType(msg.ContentType),
		IngestionType:      storage.IngestionType(msg.IngestionType),
		Scope:              storage.VisibilityScope(msg.VisibilityScope),
	}
	if msg.ContextItemID != "" {
		itemID, err := uuid.Parse(msg.ContextItemID)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid context_item_id format"))
		}
		internal.ContextItemID = &itemID
	}
	// Malformed target ids are dropped like unauthorized ones.
	for _, raw := range msg.TargetBookIDs {
		if id, err := uuid.Parse(raw); err == nil {
			internal.TargetItemIDs = append(internal.TargetItemIDs, id)
		}
	}
	for _, turn := range msg.History {
		if turn == nil {
			continue
		}
		internal.ChatHistory = append(internal.ChatHistory, rag.ChatTurn{Role: turn.Role, Content: turn.Content})
	}

	ans, err := s.answerer.Answer(ctx, internal)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", msg.UserID).Msg("ask procedure failed")
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	out := &AskResponse{
		AnswerText: ans.Text,
		Sources:    make([]*AnswerSource, 0, len(ans.Sources)),
		Metadata:   ans.Metadata,
	}
	for _, src := range ans.Sources {
		out.Sources = append(out.Sources, toAnswerSource(src))
	}
	return connect.NewResponse(out), nil
}

func requireUser(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, errors.New("user_id is required"))
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid user_id format"))
	}
	return userID, nil
}

func checkWindow(limit, offset int32) (int, int, error) {
	if limit < 0 || limit > MaxLimit {
		return 0, 0, connect.NewError(connect.CodeInvalidArgument, errors.New("limit must be between 1 and 100"))
	}
	if offset < 0 || offset > MaxOffset {
		return 0, 0, connect.NewError(connect.CodeInvalidArgument, errors.New("offset must be between 0 and 10000"))
	}
	return int(limit), int(offset), nil
}

func toSearchHit(hit search.Hit) *SearchHit {
	out := &SearchHit{
		ChunkID:     hit.ID.String(),
		ItemID:      hit.ItemID.String(),
		Title:       hit.Title,
		ContentType: string(hit.ContentType),
		Text:        hit.Text,
		ChunkIndex:  int32(hit.ChunkIndex),
		Score:       hit.Score,
		Bucket:      hit.Bucket,
	}
	if hit.PageNumber != nil {
		out.PageNumber = int32(*hit.PageNumber)
	}
	return out
}

func toAnswerSource(src answer.Source) *AnswerSource {
	out := &AnswerSource{
		ChunkID: src.ID.String(),
		Title:   src.Title,
		Snippet: src.Snippet,
		Score:   src.Score,
	}
	if src.PageNumber != nil {
		out.PageNumber = int32(*src.PageNumber)
	}
	return out
}
