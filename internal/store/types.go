// Package store provides the write and read index capabilities over the
// chunk corpus: an embedded SQLite implementation with an FTS5 inverted
// index and blob-stored vectors, an optional bleve keyword backend, and a
// hosted search-service client.
package store

import (
	"context"
	"time"

	"github.com/memexhq/memex/internal/chunk"
)

// SearchHit pairs a chunk with its provider-native score. After hybrid
// fusion, higher is better.
type SearchHit struct {
	Chunk *chunk.Chunk
	Score float64
}

// WriteIndex is the ingestion-side capability: upsert and delete chunks
// keyed by id and source file.
type WriteIndex interface {
	// EnsureIndex creates the schema idempotently. Safe on a populated store.
	EnsureIndex(ctx context.Context) error

	// UpsertChunks writes chunks in a single transaction. A failure in any
	// row aborts and rolls back the whole batch.
	UpsertChunks(ctx context.Context, chunks []*chunk.Chunk) error

	// DeleteChunksForFile removes all chunks for the normalized path.
	DeleteChunksForFile(ctx context.Context, sourceFile string) error

	// Close releases resources.
	Close() error
}

// ReadIndex is the query-side capability: ranked retrieval plus the
// aggregates behind the status report.
type ReadIndex interface {
	// Search returns ranked hits for the query text and vector.
	Search(ctx context.Context, query string, queryVector []float32, topK int) ([]SearchHit, error)

	// ChunkCount returns the number of indexed chunks, 0 on error.
	ChunkCount(ctx context.Context) int

	// SourceFileCount returns the number of distinct source files, 0 on error.
	SourceFileCount(ctx context.Context) int

	// LastIndexedTime returns the newest chunk timestamp, nil when empty
	// or on error.
	LastIndexedTime(ctx context.Context) *time.Time
}

// KeywordEntry is one document in a keyword index.
type KeywordEntry struct {
	ID          string
	Content     string
	HeadingPath string
	Domain      string
	Tags        []string
}

// KeywordHit is one ranked keyword result; higher score is better.
type KeywordHit struct {
	ID    string
	Score float64
}

// KeywordIndex abstracts the BM25 pass so the SQLite FTS5 index can be
// swapped for the bleve backend.
type KeywordIndex interface {
	Index(ctx context.Context, entries []KeywordEntry) error
	Delete(ctx context.Context, ids []string) error
	Search(ctx context.Context, query string, limit int) ([]KeywordHit, error)
	Close() error
}
