package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memexhq/memex/internal/chunk"
)

// newSearchService fakes the hosted search service for one index.
func newSearchService(t *testing.T) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var uploads []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("api-key"))
		require.Equal(t, remoteAPIVersion, r.URL.Query().Get("api-version"))

		switch {
		case r.Method == http.MethodPut:
			w.WriteHeader(http.StatusCreated)
		case r.URL.Path == "/indexes/kb/docs/index":
			var body struct {
				Value []map[string]any `json:"value"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			uploads = append(uploads, body.Value...)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"value":[]}`))
		case r.URL.Path == "/indexes/kb/docs/search":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"@odata.count": 1,
				"value": [{
					"@search.score": 2.5,
					"id": "abc", "content": "hosted chunk",
					"sourceFile": "a.md", "domain": "root",
					"lastUpdated": "2025-06-01T00:00:00Z"
				}]
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return srv, &uploads
}

func newTestRemote(t *testing.T) (*RemoteIndex, *[]map[string]any) {
	t.Helper()
	srv, uploads := newSearchService(t)
	t.Cleanup(srv.Close)

	idx, err := NewRemoteIndex(RemoteIndexConfig{
		Endpoint:   srv.URL,
		APIKey:     "secret",
		IndexName:  "kb",
		Dimensions: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx, uploads
}

func TestRemoteIndexRequiresConfig(t *testing.T) {
	_, err := NewRemoteIndex(RemoteIndexConfig{})
	require.Error(t, err)
}

func TestRemoteIndexEnsureAndUpsert(t *testing.T) {
	idx, uploads := newTestRemote(t)
	ctx := context.Background()

	require.NoError(t, idx.EnsureIndex(ctx))

	require.NoError(t, idx.UpsertChunks(ctx, []*chunk.Chunk{{
		ID: "abc", Content: "hosted chunk", SourceFile: "a.md",
		Domain: "root", Embedding: []float32{1, 0, 0, 0},
		LastUpdated: time.Now().UTC(),
	}}))

	require.Len(t, *uploads, 1)
	doc := (*uploads)[0]
	assert.Equal(t, "mergeOrUpload", doc["@search.action"])
	assert.Equal(t, "abc", doc["id"])
}

func TestRemoteIndexSearch(t *testing.T) {
	idx, _ := newTestRemote(t)

	hits, err := idx.Search(context.Background(), "hosted", []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "abc", hits[0].Chunk.ID)
	assert.Equal(t, 2.5, hits[0].Score)
	assert.Equal(t, "a.md", hits[0].Chunk.SourceFile)
}

func TestRemoteIndexChunkCount(t *testing.T) {
	idx, _ := newTestRemote(t)
	assert.Equal(t, 1, idx.ChunkCount(context.Background()))
}
