package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memex.log")

	logger, cleanup, err := Setup(Config{
		Level:    "info",
		FilePath: path,
	})
	require.NoError(t, err)

	logger.Info("indexing pass complete", slog.Int("chunks", 7))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(string(data), "\n", 2)[0]), &entry))
	assert.Equal(t, "indexing pass complete", entry["msg"])
	assert.Equal(t, float64(7), entry["chunks"])
}

func TestSetupRespectsLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memex.log")

	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: path})
	require.NoError(t, err)

	logger.Info("too quiet to appear")
	logger.Warn("loud enough")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "too quiet")
	assert.Contains(t, string(data), "loud enough")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("unknown"))
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memex.log")

	// 1MB cap is the minimum; write past it to trigger rotation.
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)

	line := strings.Repeat("x", 64*1024)
	for i := 0; i < 20; i++ {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "rotated file should exist")
}

func TestRotatingWriterKeepsAtMostMaxFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memex.log")

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)

	line := strings.Repeat("y", 256*1024)
	for i := 0; i < 40; i++ {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(matches), 2)
}
