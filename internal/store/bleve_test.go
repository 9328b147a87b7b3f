package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memexhq/memex/internal/chunk"
)

func newTestBleve(t *testing.T) *BleveKeywordIndex {
	t.Helper()
	idx, err := NewBleveKeywordIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndexAndSearch(t *testing.T) {
	idx := newTestBleve(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []KeywordEntry{
		{ID: "a", Content: "Redis TTL and eviction policies", Domain: "root"},
		{ID: "b", Content: "The PolicyController handles authorization", Domain: "rp"},
	}))

	hits, err := idx.Search(ctx, "eviction policies", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].ID)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestBleveDelete(t *testing.T) {
	idx := newTestBleve(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []KeywordEntry{
		{ID: "a", Content: "transient entry about caching"},
	}))
	require.NoError(t, idx.Delete(ctx, []string{"a"}))

	hits, err := idx.Search(ctx, "caching", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBleveEmptyQuery(t *testing.T) {
	idx := newTestBleve(t)

	hits, err := idx.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLocalIndexWithBleveBackend(t *testing.T) {
	local := newTestIndex(t)
	keyword := newTestBleve(t)
	local.SetKeywordIndex(keyword)
	ctx := context.Background()

	require.NoError(t, local.UpsertChunks(ctx, []*chunk.Chunk{
		testChunk("a.md", 0, "notes on hybrid ranking behavior"),
	}))

	hits, err := local.Search(ctx, "hybrid ranking", nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a.md", hits[0].Chunk.SourceFile)

	// Deletes mirror into the keyword backend.
	require.NoError(t, local.DeleteChunksForFile(ctx, "a.md"))
	hits, err = local.Search(ctx, "hybrid ranking", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
