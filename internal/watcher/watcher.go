// Package watcher coordinates file-system events with re-indexing: events
// under the source root set a dirty flag, a debounce window waits for
// quiescence, then one indexing pass runs.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the window of quiescence required before a rebuild.
const DefaultDebounce = 2 * time.Second

// RunFunc runs one indexing pass. The watcher always passes forceFull=false.
type RunFunc func(ctx context.Context, forceFull bool) error

// Options configures the watcher.
type Options struct {
	// Debounce is the quiescence window. Default: DefaultDebounce.
	Debounce time.Duration
}

// Watcher observes *.md changes under a source root and triggers debounced
// re-index passes. States: idle, dirty (debouncing), rebuilding.
type Watcher struct {
	root     string
	run      RunFunc
	debounce time.Duration
	logger   *slog.Logger

	// dirty is a single-slot signal: sends collapse while one is pending.
	dirty chan struct{}
}

// New creates a Watcher for root that triggers run.
func New(root string, run RunFunc, opts Options, logger *slog.Logger) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		root:     root,
		run:      run,
		debounce: opts.Debounce,
		logger:   logger,
		dirty:    make(chan struct{}, 1),
	}
}

// Run performs one startup pass, then loops until ctx is cancelled:
// events mark the state dirty, the debounce timer restarts on each new
// event, and quiescence triggers one pass. Indexing errors are logged and
// swallowed; the loop continues.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.run(ctx, false); err != nil {
		w.logger.Error("startup indexing pass failed",
			slog.String("error", err.Error()))
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fsw.Close() }()

	if err := w.addRecursive(fsw, w.root); err != nil {
		return err
	}

	go w.consumeEvents(ctx, fsw)

	w.logger.Info("watching for changes",
		slog.String("root", w.root),
		slog.Duration("debounce", w.debounce))

	for {
		// Idle: wait for the first dirty signal.
		select {
		case <-ctx.Done():
			return nil
		case <-w.dirty:
		}

		// Dirty: restart the debounce wait on every further signal.
		timer := time.NewTimer(w.debounce)
	debouncing:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-w.dirty:
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.debounce)
			case <-timer.C:
				break debouncing
			}
		}

		// Rebuilding: errors are logged, never propagated.
		if err := w.run(ctx, false); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("re-indexing failed, watcher continues",
				slog.String("error", err.Error()))
		}
	}
}

// consumeEvents filters raw fsnotify events into dirty signals and keeps
// the directory watch set current.
func (w *Watcher) consumeEvents(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// handleEvent marks the state dirty for relevant events.
func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	// Newly created directories join the watch set so nested changes
	// keep arriving.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(fsw, event.Name); err != nil {
				w.logger.Warn("failed to watch new directory",
					slog.String("path", event.Name),
					slog.String("error", err.Error()))
			}
			w.signal()
			return
		}
	}

	if !isMarkdown(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.logger.Debug("file event",
		slog.String("path", event.Name),
		slog.String("op", event.Op.String()))
	w.signal()
}

// signal sets the dirty flag; redundant signals collapse.
func (w *Watcher) signal() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

// addRecursive adds root and all subdirectories to the watch set.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		// Hidden directories (state, logs, VCS metadata) are not watched.
		name := d.Name()
		if path != root && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

// isMarkdown reports whether the path names a Markdown file.
func isMarkdown(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".md")
}
