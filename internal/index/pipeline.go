// Package index orchestrates one indexing pass: ensure schema, scan for
// changes, delete removed files, chunk and embed changed files, upsert,
// and persist the scan state.
package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/memexhq/memex/internal/chunk"
	memexerrors "github.com/memexhq/memex/internal/errors"
	"github.com/memexhq/memex/internal/routing"
	"github.com/memexhq/memex/internal/scanner"
	"github.com/memexhq/memex/internal/store"

	"github.com/memexhq/memex/internal/embed"
)

// ManagementFileName is the optional routing-map file under the source root.
const ManagementFileName = "MemoryExchangeManagement.md"

// writerLockFileName guards against concurrent writers across processes.
const writerLockFileName = ".memory-exchange.lock"

// Stats summarizes one completed pass.
type Stats struct {
	FilesScanned  int
	FilesChanged  int
	FilesDeleted  int
	ChunksWritten int
	Duration      time.Duration
	NoOp          bool
}

// Pipeline runs indexing passes. One pass at a time: an in-process mutex
// serializes invocations and a file lock excludes other processes.
type Pipeline struct {
	write    store.WriteIndex
	embedder embed.Embedder
	scanner  *scanner.Scanner
	routing  *routing.Holder
	logger   *slog.Logger

	mu sync.Mutex
}

// New creates a Pipeline. The routing holder receives the freshly parsed
// management map on every pass that finds changed or deleted files, so
// searches observe routing changes; a pass with no changes keeps the
// current map.
func New(write store.WriteIndex, embedder embed.Embedder, sc *scanner.Scanner, holder *routing.Holder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		write:    write,
		embedder: embedder,
		scanner:  sc,
		routing:  holder,
		logger:   logger,
	}
}

// Run executes one indexing pass over sourceRoot. The scan state is
// persisted only after every other step succeeds, so a failed pass leaves
// the same dirty set for the next run.
func (p *Pipeline) Run(ctx context.Context, sourceRoot string, forceFull bool, indexName string) (*Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	lock := flock.New(filepath.Join(sourceRoot, writerLockFileName))
	if err := lock.Lock(); err != nil {
		return nil, memexerrors.New(memexerrors.ErrCodeIndexingFailed, "acquire writer lock", err)
	}
	defer func() { _ = lock.Unlock() }()

	start := time.Now()

	if err := p.write.EnsureIndex(ctx); err != nil {
		return nil, err
	}

	scan, err := p.scanner.Scan(ctx, sourceRoot, forceFull, indexName)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		FilesScanned: len(scan.All),
		FilesChanged: len(scan.Changed),
		FilesDeleted: len(scan.Deleted),
	}

	if len(scan.Changed) == 0 && len(scan.Deleted) == 0 {
		p.logger.Info("index up to date",
			slog.String("root", sourceRoot),
			slog.Int("files", len(scan.All)))
		stats.NoOp = true
		stats.Duration = time.Since(start)
		return stats, nil
	}

	// The routing map is optional; a parse failure only disables
	// domain-aware boosting for this corpus.
	if p.routing != nil {
		p.routing.Store(p.loadRoutingMap(sourceRoot))
	}

	for _, rel := range scan.Deleted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.write.DeleteChunksForFile(ctx, rel); err != nil {
			return nil, err
		}
		p.logger.Debug("removed deleted file", slog.String("file", rel))
	}

	var buffered []*chunk.Chunk
	for _, rel := range scan.Changed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(filepath.Join(sourceRoot, filepath.FromSlash(rel)))
		if err != nil {
			// A single unreadable file fails that file only.
			p.logger.Warn("skipping unreadable changed file",
				slog.String("file", rel),
				slog.String("error", err.Error()))
			continue
		}

		if err := p.write.DeleteChunksForFile(ctx, rel); err != nil {
			return nil, err
		}

		domain := routing.DomainFromSourcePath(rel)
		buffered = append(buffered, chunk.Markdown(string(data), rel, domain)...)
	}

	if len(buffered) > 0 {
		texts := make([]string, len(buffered))
		for i, c := range buffered {
			texts[i] = c.Content
		}

		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		for i, vec := range vectors {
			buffered[i].Embedding = vec
		}

		if err := p.write.UpsertChunks(ctx, buffered); err != nil {
			return nil, err
		}
	}
	stats.ChunksWritten = len(buffered)

	if err := scanner.SaveState(sourceRoot, scan.NewState); err != nil {
		return nil, err
	}

	stats.Duration = time.Since(start)
	p.logger.Info("indexing pass complete",
		slog.Int("changed", stats.FilesChanged),
		slog.Int("deleted", stats.FilesDeleted),
		slog.Int("chunks", stats.ChunksWritten),
		slog.Duration("duration", stats.Duration))

	return stats, nil
}

// loadRoutingMap parses the management file if present, logging and
// continuing on failure.
func (p *Pipeline) loadRoutingMap(sourceRoot string) *routing.Map {
	path := filepath.Join(sourceRoot, ManagementFileName)
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	m, err := routing.Load(path)
	if err != nil {
		p.logger.Warn("management file unparseable, continuing without routing map",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil
	}

	p.logger.Debug("routing map loaded", slog.Int("rules", m.Len()))
	return m
}
