package mcp

import (
	"os"
	"path/filepath"
	"strings"

	memexerrors "github.com/memexhq/memex/internal/errors"
)

// FileReader serves knowledge files to the get_file tool, confining reads
// to the configured source root.
type FileReader struct {
	root string
}

// NewFileReader creates a reader rooted at the canonicalized source root.
func NewFileReader(root string) (*FileReader, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, memexerrors.IOError("resolve source root", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &FileReader{root: abs}, nil
}

// Read returns the contents of the relative path, rejecting any path that
// resolves outside the source root.
func (f *FileReader) Read(relPath string) (string, error) {
	if strings.TrimSpace(relPath) == "" {
		return "", memexerrors.Newf(memexerrors.ErrCodeInvalidInput, "filePath is required")
	}

	normalized := filepath.FromSlash(strings.ReplaceAll(relPath, "\\", "/"))
	resolved := filepath.Clean(filepath.Join(f.root, normalized))

	// Directory-traversal guard: the resolved path must stay under the
	// canonicalized root.
	if resolved != f.root && !strings.HasPrefix(resolved, f.root+string(filepath.Separator)) {
		return "", memexerrors.Newf(memexerrors.ErrCodePathTraversal,
			"path %q resolves outside the source root", relPath)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", memexerrors.New(memexerrors.ErrCodeFileNotFound, "file not found: "+relPath, err)
		}
		return "", memexerrors.IOError("read "+relPath, err)
	}
	return string(data), nil
}

// Root returns the canonicalized source root.
func (f *FileReader) Root() string {
	return f.root
}
