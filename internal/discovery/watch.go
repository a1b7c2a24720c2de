package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for a burst of events to settle.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc receives the absolute paths of files created, written, removed
// or renamed since the last call. Callers must check whether each path still exists.
type ChangeFunc func(ctx context.Context, paths []string)

// Watcher reports batched changes below a root directory.
type Watcher struct {
	root     string
	opts     Options
	onChange ChangeFunc
	debounce time.Duration
	logger   *slog.Logger

	fsw *fsnotify.Watcher
}

// NewWatcher prepares a watcher for root. Start begins delivering changes.
func NewWatcher(root string, opts Options, onChange ChangeFunc) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:     absRoot,
		opts:     opts,
		onChange: onChange,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}, nil
}

// Start registers every eligible directory with fsnotify and runs the event
// loop in a supervised goroutine until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	w.fsw = fsw
	if err := w.addTree(w.root); err != nil {
		fsw.Close()
		return err
	}

	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer fsw.Close()
		return w.loop(ctx)
	}, lifecycle.WithErrorHandler(func(err error) {
		w.logger.Error("watcher stopped", "root", w.root, "error", err)
	}))
	w.logger.Info("watching for changes", "root", w.root)
	return nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root {
			rel, _ := filepath.Rel(w.root, path)
			if skipDir(filepath.ToSlash(rel), d.Name(), w.opts) {
				return fs.SkipDir
			}
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) error {
	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			if w.handle(ev) {
				pending[ev.Name] = struct{}{}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Warn("fsnotify error", "error", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			w.onChange(ctx, paths)
		}
	}
}

// handle reports whether ev concerns a file the scan options accept. New
// directories are added to the watch set.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return false
	}

	if ev.Has(fsnotify.Create) {
		if fi, err := os.Lstat(ev.Name); err == nil && fi.IsDir() {
			if !skipDir(filepath.ToSlash(rel), fi.Name(), w.opts) {
				if err := w.addTree(ev.Name); err != nil {
					w.logger.Warn("watching new directory", "path", ev.Name, "error", err)
				}
			}
			return false
		}
	}
	return w.opts.Matches(rel)
}
