// Package logging configures structured logging for memex.
//
// Logs are written as JSON lines to a size-rotated file under the corpus
// root (<root>/.memex/logs/memex.log) and, outside MCP stdio mode, mirrored
// to stderr. Stdout is never used: in serve mode it carries the RPC stream.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the path to the log file. Empty means no file logging.
	FilePath string
	// MaxSizeMB is the maximum size in MB before rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the maximum number of rotated files to keep (default: 5).
	MaxFiles int
	// WriteToStderr whether to also write to stderr (default: true).
	WriteToStderr bool
}

// DefaultConfig returns sensible defaults for file logging under root.
func DefaultConfig(root string) Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(root),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DefaultLogPath returns the log file path for the given corpus root.
func DefaultLogPath(root string) string {
	return filepath.Join(root, ".memex", "logs", "memex.log")
}

// Setup initializes logging and returns the logger and a cleanup function.
// The cleanup function should be called to flush and close the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var output io.Writer
	cleanup := func() {}

	if cfg.FilePath != "" {
		writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		output = writer
		if cfg.WriteToStderr {
			output = io.MultiWriter(writer, os.Stderr)
		}
		cleanup = func() {
			_ = writer.Sync()
			_ = writer.Close()
		}
	} else if cfg.WriteToStderr {
		output = os.Stderr
	} else {
		output = io.Discard
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	return slog.New(handler), cleanup, nil
}

// SetupDefault sets up logging and installs the logger as the slog default.
// Returns the cleanup function.
func SetupDefault(cfg Config) (func(), error) {
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	return cleanup, nil
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
