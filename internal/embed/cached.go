package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of embeddings to cache.
// At 384 dimensions * 4 bytes * 1000 entries this is under 2MB of memory.
const DefaultEmbeddingCacheSize = 1000

// CachedEmbedder wraps an Embedder with LRU caching so repeated queries
// skip recomputation. Keys include the model name, so switching providers
// never serves stale vectors.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// Verify interface implementation at compile time.
var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder creates a cached embedder wrapping inner.
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{inner: inner, cache: cache}
}

// cacheKey hashes text together with the model name.
func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelName()))
	return hex.EncodeToString(sum[:])
}

// Embed returns a cached embedding if available, otherwise computes and
// caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch checks the cache per text and batch-embeds only the misses.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	missIndices := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
		} else {
			missIndices = append(missIndices, i)
			missTexts = append(missTexts, text)
		}
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIndices {
		results[idx] = fresh[j]
		c.cache.Add(c.cacheKey(texts[idx]), fresh[j])
	}

	return results, nil
}

// Dimensions returns the embedding dimension of the wrapped embedder.
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName returns the model identifier of the wrapped embedder.
func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

// Close closes the wrapped embedder.
func (c *CachedEmbedder) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}
