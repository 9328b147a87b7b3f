package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memexhq/memex/internal/chunk"
)

func newTestIndex(t *testing.T) *LocalIndex {
	t.Helper()
	idx, err := NewLocalIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	require.NoError(t, idx.EnsureIndex(context.Background()))
	return idx
}

func testChunk(sourceFile string, index int, content string) *chunk.Chunk {
	return &chunk.Chunk{
		ID:          chunk.ID(sourceFile, index),
		Content:     content,
		SourceFile:  sourceFile,
		HeadingPath: "Guide",
		Domain:      "root",
		Tags:        []string{"Sample"},
		LastUpdated: time.Now().UTC(),
		ChunkIndex:  index,
	}
}

func TestEnsureIndexIdempotent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.UpsertChunks(ctx, []*chunk.Chunk{
		testChunk("a.md", 0, "Redis TTL and eviction policies"),
	}))

	// Safe on a populated store.
	require.NoError(t, idx.EnsureIndex(ctx))
	assert.Equal(t, 1, idx.ChunkCount(ctx))
}

func TestUpsertAndKeywordSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.UpsertChunks(ctx, []*chunk.Chunk{
		testChunk("a.md", 0, "Redis TTL and eviction policies for the cache layer"),
		testChunk("b.md", 0, "The PolicyController handles authorization decisions"),
	}))

	hits, err := idx.Search(ctx, "eviction policies", nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a.md", hits[0].Chunk.SourceFile)
	assert.Equal(t, "Guide", hits[0].Chunk.HeadingPath)
	assert.Equal(t, []string{"Sample"}, hits[0].Chunk.Tags)
}

func TestUpsertReplacesExistingRow(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	first := testChunk("a.md", 0, "original content about caching")
	require.NoError(t, idx.UpsertChunks(ctx, []*chunk.Chunk{first}))

	second := testChunk("a.md", 0, "revised content about caching strategies")
	require.NoError(t, idx.UpsertChunks(ctx, []*chunk.Chunk{second}))

	assert.Equal(t, 1, idx.ChunkCount(ctx))

	hits, err := idx.Search(ctx, "revised caching", nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Chunk.Content, "revised")
}

func TestDeleteChunksForFile(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.UpsertChunks(ctx, []*chunk.Chunk{
		testChunk("a.md", 0, "alpha content about one topic"),
		testChunk("a.md", 1, "more alpha content continuing"),
		testChunk("b.md", 0, "beta content about another topic"),
	}))
	require.Equal(t, 3, idx.ChunkCount(ctx))

	require.NoError(t, idx.DeleteChunksForFile(ctx, "a.md"))
	assert.Equal(t, 1, idx.ChunkCount(ctx))
	assert.Equal(t, 1, idx.SourceFileCount(ctx))

	// FTS index follows the table via triggers.
	hits, err := idx.Search(ctx, "alpha", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUpsertThenDeleteLeavesOtherFilesAlone(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.UpsertChunks(ctx, []*chunk.Chunk{
		testChunk("keep.md", 0, "durable knowledge that stays"),
	}))
	before := idx.ChunkCount(ctx)

	c := testChunk("temp.md", 0, "transient knowledge")
	require.NoError(t, idx.UpsertChunks(ctx, []*chunk.Chunk{c}))
	require.NoError(t, idx.DeleteChunksForFile(ctx, c.SourceFile))

	assert.Equal(t, before, idx.ChunkCount(ctx))
}

func TestVectorSearchRanksBySimilarity(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	near := testChunk("near.md", 0, "completely unrelated words here")
	near.Embedding = []float32{1, 0, 0}
	far := testChunk("far.md", 0, "equally unrelated words there")
	far.Embedding = []float32{0, 1, 0}

	require.NoError(t, idx.UpsertChunks(ctx, []*chunk.Chunk{near, far}))

	hits, err := idx.Search(ctx, "zzz-no-keyword-match", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near.md", hits[0].Chunk.SourceFile)
	assert.Equal(t, []float32{1, 0, 0}, hits[0].Chunk.Embedding)
}

func TestHybridFusionPromotesDoubleListed(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	// Both chunks match the keyword pass; only one has an embedding, so
	// it alone appears in the vector ranking and must come out on top.
	both := testChunk("both.md", 0, "caching strategy with redis ttl eviction")
	both.Embedding = []float32{1, 0, 0}
	keywordOnly := testChunk("kw.md", 0, "caching strategy notes without vectors")

	require.NoError(t, idx.UpsertChunks(ctx, []*chunk.Chunk{both, keywordOnly}))

	hits, err := idx.Search(ctx, "caching strategy", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "both.md", hits[0].Chunk.SourceFile)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSearchSanitizesReservedCharacters(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.UpsertChunks(ctx, []*chunk.Chunk{
		testChunk("a.md", 0, "grouping and ranking behavior"),
	}))

	// Reserved FTS characters are stripped rather than surfacing errors.
	hits, err := idx.Search(ctx, `ranking:"*(){}^~`, nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a.md", hits[0].Chunk.SourceFile)
}

func TestSearchAllReservedQuerySkipsKeywordPass(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.UpsertChunks(ctx, []*chunk.Chunk{
		testChunk("a.md", 0, "some indexed content body"),
	}))

	hits, err := idx.Search(ctx, `"*(){}^~`, nil, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestAggregates(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	assert.Equal(t, 0, idx.ChunkCount(ctx))
	assert.Equal(t, 0, idx.SourceFileCount(ctx))
	assert.Nil(t, idx.LastIndexedTime(ctx))

	now := time.Now().UTC().Truncate(time.Second)
	c1 := testChunk("a.md", 0, "first chunk content")
	c1.LastUpdated = now.Add(-time.Hour)
	c2 := testChunk("a.md", 1, "second chunk content")
	c2.LastUpdated = now
	c3 := testChunk("b.md", 0, "third chunk content")
	c3.LastUpdated = now.Add(-time.Minute)

	require.NoError(t, idx.UpsertChunks(ctx, []*chunk.Chunk{c1, c2, c3}))

	assert.Equal(t, 3, idx.ChunkCount(ctx))
	assert.Equal(t, 2, idx.SourceFileCount(ctx))
	last := idx.LastIndexedTime(ctx)
	require.NotNil(t, last)
	assert.True(t, last.Equal(now))
}

func TestBuildFTSQuery(t *testing.T) {
	assert.Equal(t, `"caching" OR "strategy"`, buildFTSQuery("caching strategy"))
	assert.Equal(t, `"tls"`, buildFTSQuery(`tls*^`))
	assert.Equal(t, "", buildFTSQuery("  "))
	assert.Equal(t, "", buildFTSQuery(`"*():^{}~`))
}

func TestRRFScorePreference(t *testing.T) {
	// A chunk at the same rank in both lists outscores a chunk at that
	// rank in only one list.
	both := 1.0/float64(RRFConstant+0) + 1.0/float64(RRFConstant+0)
	single := 1.0 / float64(RRFConstant+0)
	assert.Greater(t, both, single)
}

func TestPersistentReopen(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/memory_exchange.db"
	ctx := context.Background()

	idx, err := NewLocalIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.EnsureIndex(ctx))
	require.NoError(t, idx.UpsertChunks(ctx, []*chunk.Chunk{
		testChunk("a.md", 0, strings.Repeat("durable content ", 10)),
	}))
	require.NoError(t, idx.Close())

	reopened, err := NewLocalIndex(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	require.NoError(t, reopened.EnsureIndex(ctx))
	assert.Equal(t, 1, reopened.ChunkCount(ctx))
}
