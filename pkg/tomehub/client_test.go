package tomehub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchSendsRequestAndDecodesResponse(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody SearchRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(SearchResponse{
			Results: []SearchHit{{
				ChunkID: "c1", Title: "Nutuk", Text: "Vicdan...",
				PageNumber: 12, Score: 9.5, Bucket: "exact",
			}},
			TotalCount: 1,
			Metadata:   map[string]interface{}{"router_mode": "fast_exact"},
		})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL + "/", APIKey: "sekrit"})
	resp, err := client.Search(context.Background(), SearchRequest{
		UserID: "u-1", Query: "vicdan", Limit: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sekrit", gotAuth)
	assert.Equal(t, "/v1/search", gotPath)
	assert.Equal(t, "u-1", gotBody.UserID)
	assert.Equal(t, "vicdan", gotBody.Query)
	assert.Equal(t, 10, gotBody.Limit)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Nutuk", resp.Results[0].Title)
	assert.Equal(t, 12, resp.Results[0].PageNumber)
	assert.Equal(t, "exact", resp.Results[0].Bucket)
	assert.Equal(t, 1, resp.TotalCount)
	assert.Equal(t, "fast_exact", resp.Metadata["router_mode"])
}

func TestAskSendsHistoryAndDecodesSources(t *testing.T) {
	var gotBody AskRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/answer", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(AskResponse{
			AnswerText: "Vicdan, iç sestir.",
			Sources: []AnswerSource{{
				ChunkID: "c1", Title: "Nutuk", PageNumber: 12, Snippet: "Vicdan...", Score: 9.5,
			}},
			Metadata: map[string]interface{}{"status": "ok"},
		})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	resp, err := client.Ask(context.Background(), AskRequest{
		UserID:   "u-1",
		Question: "vicdan nedir",
		History: []ChatTurn{
			{Role: "user", Content: "ahlak nedir"},
			{Role: "assistant", Content: "Ahlak..."},
		},
		TargetBookIDs: []string{"b-1", "b-2"},
	})
	require.NoError(t, err)

	require.Len(t, gotBody.History, 2)
	assert.Equal(t, "ahlak nedir", gotBody.History[0].Content)
	assert.Equal(t, []string{"b-1", "b-2"}, gotBody.TargetBookIDs)

	assert.Equal(t, "Vicdan, iç sestir.", resp.AnswerText)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, 12, resp.Sources[0].PageNumber)
	assert.Equal(t, "ok", resp.Metadata["status"])
}

func TestStatsBuildsQueryString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/stats", r.URL.Path)
		assert.Equal(t, "u-1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		json.NewEncoder(w).Encode(StatsResponse{Searches: []StatsEntry{
			{Query: "vicdan", ResultCount: 3, CacheHit: true},
		}})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	resp, err := client.Stats(context.Background(), "u-1", 5)
	require.NoError(t, err)
	require.Len(t, resp.Searches, 1)
	assert.Equal(t, "vicdan", resp.Searches[0].Query)
	assert.True(t, resp.Searches[0].CacheHit)
}

func TestErrorResponsesCarryServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"limit must be between 1 and 100"}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := client.Search(context.Background(), SearchRequest{UserID: "u-1", Query: "q", Limit: 500})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "limit must be between 1 and 100", apiErr.Message)
}

func TestErrorResponsesFallBackToRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := client.Health(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream exploded", apiErr.Message)
}

func TestHealthAndReady(t *testing.T) {
	ready := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Write([]byte(`{"status":"healthy","service":"tomehub"}`))
		case "/ready":
			if !ready {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
			w.Write([]byte(`{"status":"ready"}`))
		}
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})

	health, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "tomehub", health.Service)

	require.Error(t, client.Ready(context.Background()))
	ready = true
	require.NoError(t, client.Ready(context.Background()))
}

func TestUnauthenticatedClientOmitsAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"status":"healthy","service":"tomehub"}`))
	}))
	defer srv.Close()

	_, err := NewClient(ClientConfig{BaseURL: srv.URL}).Health(context.Background())
	require.NoError(t, err)
}
