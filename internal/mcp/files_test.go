package mcp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memexerrors "github.com/memexhq/memex/internal/errors"
)

func newTestReader(t *testing.T) (*FileReader, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "domains", "rp"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("# A\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "domains", "rp", "b.md"), []byte("# B\n"), 0o644))

	reader, err := NewFileReader(root)
	require.NoError(t, err)
	return reader, root
}

func TestFileReaderReads(t *testing.T) {
	reader, _ := newTestReader(t)

	content, err := reader.Read("a.md")
	require.NoError(t, err)
	assert.Equal(t, "# A\n", content)

	// Separators normalize.
	content, err = reader.Read("domains\\rp\\b.md")
	require.NoError(t, err)
	assert.Equal(t, "# B\n", content)
}

func TestFileReaderRejectsTraversal(t *testing.T) {
	reader, _ := newTestReader(t)

	// Plant a file just outside the root to prove it stays unreadable.
	outside := filepath.Join(filepath.Dir(reader.Root()), "secrets")
	require.NoError(t, os.WriteFile(outside, []byte("nope"), 0o644))

	for _, path := range []string{
		"../secrets",
		"..\\secrets",
		"domains/../../secrets",
		"domains/rp/../../../secrets",
	} {
		_, err := reader.Read(path)
		require.Error(t, err, "path %q must be rejected", path)
		assert.Equal(t, memexerrors.ErrCodePathTraversal, memexerrors.GetCode(err))
	}
}

func TestFileReaderInternalDotDotStaysInside(t *testing.T) {
	reader, _ := newTestReader(t)

	// Traversal that resolves back inside the root is fine.
	content, err := reader.Read("domains/rp/../../a.md")
	require.NoError(t, err)
	assert.Equal(t, "# A\n", content)
}

func TestFileReaderMissingFile(t *testing.T) {
	reader, _ := newTestReader(t)

	_, err := reader.Read("missing.md")
	require.Error(t, err)
	assert.Equal(t, memexerrors.ErrCodeFileNotFound, memexerrors.GetCode(err))
}

func TestFileReaderEmptyPath(t *testing.T) {
	reader, _ := newTestReader(t)

	_, err := reader.Read("  ")
	require.Error(t, err)
}
