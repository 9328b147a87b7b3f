package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"

	memexerrors "github.com/memexhq/memex/internal/errors"
)

// StaticEmbedder generates embeddings with a hash-based scheme. It needs
// no model file or network, is deterministic, and trades semantic quality
// for availability. Used for offline runs and tests.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// proseStopWords are filtered out before hashing.
var proseStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "on": true, "is": true,
	"are": true, "was": true, "be": true, "for": true, "with": true,
	"this": true, "that": true, "it": true, "as": true, "by": true,
}

// Weights for vector generation.
const (
	staticTokenWeight = 0.7
	staticNgramWeight = 0.3
	staticNgramSize   = 3
)

// staticTokenPattern matches alphanumeric runs.
var staticTokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEmbedder creates a new static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Verify interface implementation at compile time.
var _ Embedder = (*StaticEmbedder)(nil)

// Embed generates the embedding for a single text.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, memexerrors.EmbedError("embedder is closed", nil)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}

	vector := make([]float32, StaticDimensions)

	for _, token := range staticTokens(trimmed) {
		vector[hashToIndex(token, StaticDimensions)] += staticTokenWeight
	}

	normalized := lettersAndDigits(trimmed)
	for i := 0; i+staticNgramSize <= len(normalized); i++ {
		ngram := normalized[i : i+staticNgramSize]
		vector[hashToIndex(ngram, StaticDimensions)] += staticNgramWeight
	}

	return normalizeVector(vector), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// staticTokens lowercases, splits on non-alphanumerics, and drops stop words.
func staticTokens(text string) []string {
	var tokens []string
	for _, word := range staticTokenPattern.FindAllString(strings.ToLower(text), -1) {
		if !proseStopWords[word] {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

// lettersAndDigits strips everything but letters and digits for n-grams.
func lettersAndDigits(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// hashToIndex maps a string to a vector index via FNV-64.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return "static"
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
