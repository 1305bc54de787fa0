package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_Deterministic(t *testing.T) {
	mock := NewMockClient(64)
	ctx := context.Background()

	a, err := mock.EmbedSingle(ctx, "vicdan nedir", TaskRetrievalQuery)
	require.NoError(t, err)
	b, err := mock.EmbedSingle(ctx, "vicdan nedir", TaskRetrievalQuery)
	require.NoError(t, err)
	other, err := mock.EmbedSingle(ctx, "ahlak nedir", TaskRetrievalQuery)
	require.NoError(t, err)

	assert.Equal(t, a, b, "same text embeds identically")
	assert.NotEqual(t, a, other)
	assert.Len(t, a, 64)

	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 0.001, "mock vectors are unit length")
}

func TestClient_EmbedParsesResponse(t *testing.T) {
	var gotReq EmbeddingRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		resp := EmbeddingResponse{
			Object: "list",
			Data: []EmbeddingData{
				{Index: 1, Embedding: []float32{0, 1}},
				{Index: 0, Embedding: []float32{1, 0}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL, Dimension: 2})
	require.NoError(t, err)

	vecs, err := client.Embed(context.Background(), []string{"bir", "iki"}, TaskRetrievalDocument)
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0}, vecs[0], "results reorder by index")
	assert.Equal(t, []float32{0, 1}, vecs[1])
	assert.Equal(t, string(TaskRetrievalDocument), gotReq.TaskType)
	assert.Equal(t, 2, gotReq.Dimensions)
}

func TestClient_EmbedAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(EmbeddingResponse{
			Error: &EmbeddingError{Message: "bad input", Type: "invalid_request_error"},
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), []string{"x"}, TaskRetrievalQuery)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad input")
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestDimensionGuard(t *testing.T) {
	guard := NewDimensionGuard(4)

	assert.NoError(t, guard.Check(make([]float32, 4)))
	assert.ErrorIs(t, guard.Check(make([]float32, 3)), ErrDimensionMismatch)
	assert.ErrorIs(t, guard.CheckAll([][]float32{
		make([]float32, 4),
		make([]float32, 5),
	}), ErrDimensionMismatch)
}
