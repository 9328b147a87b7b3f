// Package status assembles the human-readable index status report.
package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/memexhq/memex/internal/store"
)

// Report holds the index status snapshot.
type Report struct {
	SourceRoot      string
	Provider        string
	IndexName       string
	ChunkCount      int
	SourceFileCount int
	LastIndexed     *time.Time
}

// Build collects the status snapshot from the read index.
func Build(ctx context.Context, read store.ReadIndex, sourceRoot, provider, indexName string) Report {
	return Report{
		SourceRoot:      sourceRoot,
		Provider:        provider,
		IndexName:       indexName,
		ChunkCount:      read.ChunkCount(ctx),
		SourceFileCount: read.SourceFileCount(ctx),
		LastIndexed:     read.LastIndexedTime(ctx),
	}
}

// String renders the report, with remediation hints when the index is empty.
func (r Report) String() string {
	var b strings.Builder

	b.WriteString("Memory Exchange status\n")
	fmt.Fprintf(&b, "  Source root:  %s\n", r.SourceRoot)
	fmt.Fprintf(&b, "  Provider:     %s\n", r.Provider)
	fmt.Fprintf(&b, "  Index name:   %s\n", r.IndexName)
	fmt.Fprintf(&b, "  Chunks:       %d\n", r.ChunkCount)
	fmt.Fprintf(&b, "  Source files: %d\n", r.SourceFileCount)

	if r.LastIndexed != nil {
		fmt.Fprintf(&b, "  Last indexed: %s\n", r.LastIndexed.UTC().Format(time.RFC3339))
	} else {
		b.WriteString("  Last indexed: never\n")
	}

	if r.ChunkCount == 0 {
		b.WriteString("\nThe index is empty. Run `memex index` or start the server with --build-index.\n")
		b.WriteString("Markdown files under personal/ and configured exclude patterns are skipped.\n")
	}

	return b.String()
}
