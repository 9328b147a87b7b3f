// Package scanner walks the Markdown source tree, hashes file contents,
// and diffs against the persisted state to find changed and deleted files.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	memexerrors "github.com/memexhq/memex/internal/errors"
)

// personalPrefix is always excluded from indexing.
const personalPrefix = "personal/"

// Result is the outcome of one scan.
type Result struct {
	// Changed are files whose hash differs from the previous state, or
	// every file on a full rebuild. Sorted for determinism.
	Changed []string

	// Deleted are files present in the previous state but gone on disk.
	Deleted []string

	// All are all retained Markdown files under the root.
	All []string

	// PrevState is the state loaded at scan start.
	PrevState *State

	// NewState is the freshly computed state. It is persisted by the
	// pipeline via SaveState only after the whole pass succeeds.
	NewState *State
}

// Scanner discovers indexable Markdown files.
type Scanner struct {
	excludePatterns []string
}

// New creates a Scanner with user-configured exclusion globs applied in
// addition to the hardcoded personal/ exclusion.
func New(excludePatterns []string) *Scanner {
	return &Scanner{excludePatterns: excludePatterns}
}

// Scan enumerates *.md under root, hashes retained files, and diffs the
// hashes against the persisted state. The new state is returned but not
// persisted here.
func (s *Scanner) Scan(ctx context.Context, root string, forceFullRebuild bool, indexName string) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, memexerrors.IOError("stat source root "+root, err)
	}
	if !info.IsDir() {
		return nil, memexerrors.Newf(memexerrors.ErrCodeInvalidInput, "source root is not a directory: %s", root)
	}

	prev := LoadState(root)
	next := NewState()
	next.IndexName = indexName

	var all []string
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}

		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return nil
		}
		relNorm := normalize(rel)

		if d.IsDir() {
			if s.excluded(relNorm + "/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !strings.HasSuffix(strings.ToLower(relNorm), ".md") {
			return nil
		}
		if s.excluded(relNorm) {
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			slog.Warn("skipping unreadable file",
				slog.String("path", relNorm),
				slog.String("error", err.Error()))
			return nil
		}

		sum := sha256.Sum256(data)
		next.FileHashes[relNorm] = hex.EncodeToString(sum[:])
		all = append(all, relNorm)
		return nil
	})
	if walkErr != nil {
		return nil, memexerrors.IOError("scan source tree", walkErr)
	}

	sort.Strings(all)
	now := time.Now().UTC()

	result := &Result{
		All:       all,
		PrevState: prev,
		NewState:  next,
	}

	if forceFullRebuild || len(prev.FileHashes) == 0 {
		result.Changed = all
		next.LastFullIndexUTC = &now
		next.LastIncrementalIndexUTC = prev.LastIncrementalIndexUTC
		return result, nil
	}

	for _, rel := range all {
		if prev.FileHashes[rel] != next.FileHashes[rel] {
			result.Changed = append(result.Changed, rel)
		}
	}
	for rel := range prev.FileHashes {
		if _, ok := next.FileHashes[rel]; !ok {
			result.Deleted = append(result.Deleted, rel)
		}
	}
	sort.Strings(result.Deleted)

	next.LastFullIndexUTC = prev.LastFullIndexUTC
	next.LastIncrementalIndexUTC = &now
	return result, nil
}

// excluded reports whether a normalized relative path is excluded from
// indexing, either by the hardcoded personal/ prefix or a configured glob.
func (s *Scanner) excluded(relNorm string) bool {
	lower := strings.ToLower(relNorm)
	if strings.HasPrefix(lower, personalPrefix) {
		return true
	}

	base := path.Base(relNorm)
	for _, pattern := range s.excludePatterns {
		if matchGlob(pattern, relNorm, base) {
			return true
		}
	}
	return false
}

// matchGlob matches one exclusion glob against a relative path.
// Patterns like "archive/**" exclude the whole subtree; otherwise standard
// glob matching is tried against the full relative path and the base name.
func matchGlob(pattern, relPath, base string) bool {
	pattern = normalize(pattern)
	relPath = strings.TrimSuffix(relPath, "/")

	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		return relPath == prefix || strings.HasPrefix(relPath, prefix+"/")
	}
	if suffix, ok := strings.CutPrefix(pattern, "**/"); ok {
		if matched, err := path.Match(suffix, base); err == nil && matched {
			return true
		}
	}
	if matched, err := path.Match(pattern, relPath); err == nil && matched {
		return true
	}
	if matched, err := path.Match(pattern, base); err == nil && matched {
		return true
	}
	return false
}

// normalize converts separators to forward slashes and strips any leading
// slash so state keys are portable across platforms.
func normalize(p string) string {
	return strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/")
}
