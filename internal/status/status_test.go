package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memexhq/memex/internal/store"
)

type stubReadIndex struct {
	chunks int
	files  int
	last   *time.Time
}

func (s stubReadIndex) Search(context.Context, string, []float32, int) ([]store.SearchHit, error) {
	return nil, nil
}
func (s stubReadIndex) ChunkCount(context.Context) int            { return s.chunks }
func (s stubReadIndex) SourceFileCount(context.Context) int       { return s.files }
func (s stubReadIndex) LastIndexedTime(context.Context) *time.Time { return s.last }

func TestReportPopulated(t *testing.T) {
	last := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	report := Build(context.Background(), stubReadIndex{chunks: 42, files: 7, last: &last},
		"/kb", "local", "memory-exchange")

	out := report.String()
	assert.Contains(t, out, "/kb")
	assert.Contains(t, out, "local")
	assert.Contains(t, out, "memory-exchange")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "7")
	assert.Contains(t, out, "2025-06-01T12:00:00Z")
	assert.NotContains(t, out, "The index is empty")
}

func TestReportEmptyIndexHasHints(t *testing.T) {
	report := Build(context.Background(), stubReadIndex{}, "/kb", "local", "memory-exchange")

	out := report.String()
	require.Contains(t, out, "Last indexed: never")
	assert.Contains(t, out, "The index is empty")
	assert.Contains(t, out, "memex index")
}
