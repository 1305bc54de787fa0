// Package tomehub provides the public Go client for the TomeHub API.
package tomehub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "http://localhost:8080"

// Client calls a running TomeHub server over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	// BaseURL is the server root, default http://localhost:8080.
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Timeout bounds each call, default 60 seconds. Answer generation
	// can take most of that under a cold LLM ladder.
	Timeout time.Duration
}

// NewClient creates a TomeHub client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpc:   &http.Client{Timeout: cfg.Timeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tomehub: server returned %d: %s", e.StatusCode, e.Message)
}

// SearchRequest is one orchestrated search call.
type SearchRequest struct {
	UserID          string `json:"user_id"`
	Query           string `json:"query"`
	Limit           int    `json:"limit,omitempty"`
	Offset          int    `json:"offset,omitempty"`
	Intent          string `json:"intent,omitempty"`
	BookID          string `json:"book_id,omitempty"`
	ResourceType    string `json:"resource_type,omitempty"`
	ContentType     string `json:"content_type,omitempty"`
	IngestionType   string `json:"ingestion_type,omitempty"`
	VisibilityScope string `json:"visibility_scope,omitempty"`
	ResultMixPolicy string `json:"result_mix_policy,omitempty"`
	SemanticTailCap int    `json:"semantic_tail_cap,omitempty"`
}

// SearchHit is one ranked result row.
type SearchHit struct {
	ChunkID     string  `json:"chunk_id"`
	ItemID      string  `json:"item_id"`
	Title       string  `json:"title"`
	ContentType string  `json:"content_type"`
	Text        string  `json:"text"`
	PageNumber  int     `json:"page_number,omitempty"`
	ChunkIndex  int     `json:"chunk_index"`
	Score       float64 `json:"score"`
	Bucket      string  `json:"bucket"`
}

// SearchResponse carries the ranked results and routing diagnostics.
type SearchResponse struct {
	Results    []SearchHit            `json:"results"`
	TotalCount int                    `json:"total_count"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ChatTurn is one prior conversation turn.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AskRequest is one question for the answer pipeline.
type AskRequest struct {
	UserID          string     `json:"user_id"`
	Question        string     `json:"question"`
	SessionID       string     `json:"session_id,omitempty"`
	SessionSummary  string     `json:"session_summary,omitempty"`
	History         []ChatTurn `json:"history,omitempty"`
	ContextItemID   string     `json:"context_item_id,omitempty"`
	ScopeMode       string     `json:"scope_mode,omitempty"`
	CompareMode     string     `json:"compare_mode,omitempty"`
	TargetBookIDs   []string   `json:"target_book_ids,omitempty"`
	IncludeNotes    bool       `json:"include_notes,omitempty"`
	ResourceType    string     `json:"resource_type,omitempty"`
	ContentType     string     `json:"content_type,omitempty"`
	IngestionType   string     `json:"ingestion_type,omitempty"`
	VisibilityScope string     `json:"visibility_scope,omitempty"`
	Limit           int        `json:"limit,omitempty"`
}

// AnswerSource is one evidence citation behind an answer.
type AnswerSource struct {
	ChunkID    string  `json:"chunk_id"`
	Title      string  `json:"title"`
	PageNumber int     `json:"page_number,omitempty"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// AskResponse carries the generated answer with its sources and the
// pipeline diagnostics.
type AskResponse struct {
	AnswerText string                 `json:"answer_text"`
	Sources    []AnswerSource         `json:"sources"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// StatsEntry is one logged search.
type StatsEntry struct {
	ID          string    `json:"id"`
	Query       string    `json:"query"`
	Intent      string    `json:"intent"`
	RouterMode  string    `json:"router_mode"`
	ResultCount int       `json:"result_count"`
	TopScore    *float64  `json:"top_score,omitempty"`
	CacheHit    bool      `json:"cache_hit"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// StatsResponse carries recent search telemetry, newest first.
type StatsResponse struct {
	Searches []StatsEntry `json:"searches"`
}

// Health is the service liveness report.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Search runs one orchestrated search.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.post(ctx, "/v1/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ask runs the full question-answering pipeline.
func (c *Client) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	var resp AskResponse
	if err := c.post(ctx, "/v1/answer", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats returns the user's recent searches. A zero limit uses the
// server default.
func (c *Client) Stats(ctx context.Context, userID string, limit int) (*StatsResponse, error) {
	query := url.Values{"user_id": {userID}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp StatsResponse
	if err := c.get(ctx, "/v1/stats", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks service liveness.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	if err := c.get(ctx, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ready checks whether the service can reach its dependencies.
func (c *Client) Ready(ctx context.Context) error {
	return c.get(ctx, "/ready", nil, nil)
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
