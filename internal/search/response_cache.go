package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tomehub/tomehub/internal/cache"
)

// ResponseCache memoizes fully mixed responses. The key fingerprints
// everything that can change one: query, identity, paging, routing,
// filters, feature flags and the embedding model version.
type ResponseCache struct {
	client cache.Client
	ttl    time.Duration
}

// NewResponseCache creates the cache with the configured TTL.
func NewResponseCache(client cache.Client, ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ResponseCache{client: client, ttl: ttl}
}

type cachedResponse struct {
	Results    []Hit     `json:"results"`
	TotalCount int       `json:"total_count"`
	Metadata   Metadata  `json:"metadata"`
	CachedAt   time.Time `json:"cached_at"`
}

// Key derives the cache key for a routed request.
func (rc *ResponseCache) Key(req Request, route Route, cfg Config) string {
	item := ""
	if req.Filters.ItemID != nil {
		item = req.Filters.ItemID.String()
	}
	flags := fmt.Sprintf("%t%t%t%t%t",
		cfg.RuleRouterEnabled, cfg.NoiseGuardEnabled, cfg.TypoRescueEnabled,
		cfg.LemmaSeedFallbackEnabled, cfg.DynamicSingleTokenCap)
	payload := strings.Join([]string{
		"v1",
		req.Query,
		req.UserID.String(),
		item,
		strconv.Itoa(req.Limit),
		strconv.Itoa(req.Offset),
		string(req.Intent),
		string(route.Mode),
		req.MixPolicy,
		strconv.Itoa(req.SemanticTailCap),
		string(req.Filters.Scope),
		string(req.Filters.ContentType),
		string(req.Filters.IngestionType),
		string(req.Filters.ResourceType),
		flags,
		cfg.EmbeddingModelVersion,
	}, "|")
	return cache.HashedKey("search:resp:", payload)
}

// Probe returns the cached response, marking it as served from cache.
func (rc *ResponseCache) Probe(ctx context.Context, key string) (*Response, bool) {
	raw, err := rc.client.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var cached cachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false
	}
	meta := cached.Metadata
	if meta == nil {
		meta = Metadata{}
	}
	meta["cached"] = true
	return &Response{Results: cached.Results, TotalCount: cached.TotalCount, Metadata: meta}, true
}

// Store writes the response best-effort; cache failures never surface.
func (rc *ResponseCache) Store(ctx context.Context, key string, resp *Response) {
	payload := cachedResponse{
		Results:    resp.Results,
		TotalCount: resp.TotalCount,
		Metadata:   resp.Metadata,
		CachedAt:   time.Now().UTC(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = rc.client.Set(ctx, key, raw, rc.ttl)
}
