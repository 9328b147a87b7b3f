package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
)

// BleveKeywordIndex is the alternative keyword backend, selected with
// keyword_backend: bleve. It replaces the FTS5 BM25 pass; chunk rows stay
// in SQLite and are hydrated there after ranking.
type BleveKeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// Verify interface implementation at compile time.
var _ KeywordIndex = (*BleveKeywordIndex)(nil)

// bleveDocument is the indexed document shape, mirroring the FTS5 columns.
type bleveDocument struct {
	Content     string `json:"content"`
	HeadingPath string `json:"heading_path"`
	Domain      string `json:"domain"`
	Tags        string `json:"tags"`
}

// NewBleveKeywordIndex opens or creates a bleve index at path.
// An empty path creates an in-memory index for testing.
func NewBleveKeywordIndex(path string) (*BleveKeywordIndex, error) {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = standard.Name

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open keyword index: %w", err)
	}

	return &BleveKeywordIndex{index: idx, path: path}, nil
}

// Index adds entries to the index in one batch.
func (b *BleveKeywordIndex) Index(_ context.Context, entries []KeywordEntry) error {
	if len(entries) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := b.index.NewBatch()
	for _, e := range entries {
		doc := bleveDocument{
			Content:     e.Content,
			HeadingPath: e.HeadingPath,
			Domain:      e.Domain,
			Tags:        strings.Join(e.Tags, " "),
		}
		if err := batch.Index(e.ID, doc); err != nil {
			return fmt.Errorf("failed to index entry %s: %w", e.ID, err)
		}
	}

	return b.index.Batch(batch)
}

// Delete removes entries by id in one batch.
func (b *BleveKeywordIndex) Delete(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// Search returns ranked keyword hits, best first.
func (b *BleveKeywordIndex) Search(ctx context.Context, queryStr string, limit int) ([]KeywordHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []KeywordHit{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	request := bleve.NewSearchRequest(matchQuery)
	request.Size = limit

	result, err := b.index.SearchInContext(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]KeywordHit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, KeywordHit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// Close closes the underlying index. Idempotent.
func (b *BleveKeywordIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
