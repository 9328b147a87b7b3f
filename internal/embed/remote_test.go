package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEmbeddingService fakes the hosted embedding API.
func newEmbeddingService(t *testing.T, fail *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("api-key"))

		if fail != nil && fail.Load() > 0 {
			fail.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := embeddingResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{3, 4, 0}})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestRemoteEmbedderRequiresConfig(t *testing.T) {
	_, err := NewRemoteEmbedder(RemoteConfig{})
	require.Error(t, err)

	_, err = NewRemoteEmbedder(RemoteConfig{Endpoint: "https://e"})
	require.Error(t, err)
}

func TestRemoteEmbedderBatch(t *testing.T) {
	srv := newEmbeddingService(t, nil)
	defer srv.Close()

	e, err := NewRemoteEmbedder(RemoteConfig{
		Endpoint: srv.URL, APIKey: "secret", Deployment: "text-embedding-3-small",
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	// The service response is normalized to unit length.
	assert.InDelta(t, 0.6, float64(vecs[0][0]), 1e-6)
	assert.InDelta(t, 0.8, float64(vecs[0][1]), 1e-6)
	assert.Equal(t, "text-embedding-3-small", e.ModelName())
}

func TestRemoteEmbedderRetriesTransientFailures(t *testing.T) {
	var fail atomic.Int64
	fail.Store(2)
	srv := newEmbeddingService(t, &fail)
	defer srv.Close()

	e, err := NewRemoteEmbedder(RemoteConfig{
		Endpoint: srv.URL, APIKey: "secret",
		MaxRetries: 3,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "retry me")
	require.NoError(t, err)
	require.NotEmpty(t, vec)
	assert.Equal(t, int64(0), fail.Load())
}

func TestRemoteEmbedderClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	e, err := NewRemoteEmbedder(RemoteConfig{Endpoint: srv.URL, APIKey: "secret"})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.Embed(context.Background(), "bad request")
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestRemoteEmbedderEmptyBatch(t *testing.T) {
	e, err := NewRemoteEmbedder(RemoteConfig{Endpoint: "https://e", APIKey: "k"})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}
