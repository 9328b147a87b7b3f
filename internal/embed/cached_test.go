package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps the static embedder and counts inner calls.
type countingEmbedder struct {
	*StaticEmbedder
	embeds  atomic.Int64
	batched atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embeds.Add(1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batched.Add(int64(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedderAvoidsRecompute(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	cached := NewCachedEmbedder(inner, 10)
	defer func() { _ = cached.Close() }()
	ctx := context.Background()

	first, err := cached.Embed(ctx, "repeated query")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "repeated query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.embeds.Load())
}

func TestCachedEmbedderBatchOnlyEmbedsMisses(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	cached := NewCachedEmbedder(inner, 10)
	defer func() { _ = cached.Close() }()
	ctx := context.Background()

	_, err := cached.Embed(ctx, "warm entry")
	require.NoError(t, err)

	batch, err := cached.EmbedBatch(ctx, []string{"warm entry", "cold entry"})
	require.NoError(t, err)
	require.Len(t, batch, 2)

	// Only the miss reaches the inner embedder.
	assert.Equal(t, int64(1), inner.batched.Load())

	direct, err := inner.StaticEmbedder.Embed(ctx, "cold entry")
	require.NoError(t, err)
	assert.Equal(t, direct, batch[1])
}

func TestCachedEmbedderPassthroughs(t *testing.T) {
	cached := NewCachedEmbedder(NewStaticEmbedder(), 0)
	assert.Equal(t, StaticDimensions, cached.Dimensions())
	assert.Equal(t, "static", cached.ModelName())
}
