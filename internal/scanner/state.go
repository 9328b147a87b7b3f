package scanner

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	memexerrors "github.com/memexhq/memex/internal/errors"
)

// StateFileName is the persisted index-state dotfile under the source root.
const StateFileName = ".memory-exchange-state.json"

// State tracks per-file content hashes and indexing timestamps between runs.
// It is persisted as pretty JSON alongside the source tree.
type State struct {
	// FileHashes maps normalized relative path to lowercase hex SHA-256.
	FileHashes map[string]string `json:"fileHashes"`

	// LastFullIndexUTC is when the last full rebuild completed.
	LastFullIndexUTC *time.Time `json:"lastFullIndexUtc"`

	// LastIncrementalIndexUTC is when the last incremental pass completed.
	LastIncrementalIndexUTC *time.Time `json:"lastIncrementalIndexUtc"`

	// IndexName is the logical index name last written into this state.
	IndexName string `json:"indexName"`
}

// NewState returns an empty state.
func NewState() *State {
	return &State{FileHashes: make(map[string]string)}
}

// StatePath returns the state file path for the given source root.
func StatePath(root string) string {
	return filepath.Join(root, StateFileName)
}

// LoadState reads the persisted state for root. A missing or malformed
// state file is non-fatal and yields an empty state.
func LoadState(root string) *State {
	data, err := os.ReadFile(StatePath(root))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("state file unreadable, starting fresh",
				slog.String("path", StatePath(root)),
				slog.String("error", err.Error()))
		}
		return NewState()
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("state file malformed, starting fresh",
			slog.String("path", StatePath(root)),
			slog.String("error", err.Error()))
		return NewState()
	}
	if st.FileHashes == nil {
		st.FileHashes = make(map[string]string)
	}
	return &st
}

// SaveState writes the state as pretty JSON via a write-rename so readers
// never observe a torn file.
func SaveState(root string, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return memexerrors.New(memexerrors.ErrCodeStateWrite, "marshal index state", err)
	}
	data = append(data, '\n')

	path := StatePath(root)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return memexerrors.New(memexerrors.ErrCodeStateWrite, "write index state", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return memexerrors.New(memexerrors.ErrCodeStateWrite, "replace index state", err)
	}
	return nil
}
