package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// NotifyWatcher implements file watching on top of fsnotify. Directories are
// watched recursively; new subdirectories are added as they appear.
type NotifyWatcher struct {
	debounce *debouncer
	quiet    time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	events   chan ports.FileChangeEvent
	files    map[string]struct{}
	dirs     map[string]struct{}
	mu       sync.Mutex
	wg       sync.WaitGroup
	started  bool
	stopped  bool
	stopCh   chan struct{}
}

// NewNotifyWatcher creates a new fsnotify-based file watcher
func NewNotifyWatcher(debounce time.Duration, logger *slog.Logger) *NotifyWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 50 * time.Millisecond
	}
	return &NotifyWatcher{
		debounce: newDebouncer(debounce),
		quiet:    debounce,
		logger:   logger.With("component", "fs_watcher"),
		events:   make(chan ports.FileChangeEvent, 64),
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Watch starts watching files and directories for changes
func (w *NotifyWatcher) Watch(ctx context.Context, paths ...string) (<-chan ports.FileChangeEvent, error) {
	if len(paths) == 0 {
		return nil, errors.New("no paths to watch")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return nil, errors.New("watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	for _, path := range paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("resolving path: %w", err)
		}
		if err := w.addTree(fsw, absPath); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", path, err)
		}
	}

	w.watcher = fsw
	w.started = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.eventLoop(ctx)
	}()

	return w.events, nil
}

// Stop stops the file watcher and closes the event channel
func (w *NotifyWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	fsw := w.watcher
	w.mu.Unlock()

	var err error
	if fsw != nil {
		err = fsw.Close()
	}

	w.wg.Wait()
	close(w.events)

	return err
}

// addTree watches root and every directory below it. A file root is watched
// through its parent directory, filtered to that file.
func (w *NotifyWatcher) addTree(fsw *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		w.files[root] = struct{}{}
		return fsw.Add(filepath.Dir(root))
	}

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && skipDir(info.Name()) {
			return filepath.SkipDir
		}
		w.dirs[path] = struct{}{}
		return fsw.Add(path)
	})
}

// eventLoop translates fsnotify events and releases them once debounced
func (w *NotifyWatcher) eventLoop(ctx context.Context) {
	ticker := time.NewTicker(w.quiet / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watch error", slog.String("error", err.Error()))

		case now := <-ticker.C:
			for _, event := range w.debounce.ready(now) {
				select {
				case w.events <- event:
				case <-ctx.Done():
					return
				case <-w.stopCh:
					return
				}
			}
		}
	}
}

func (w *NotifyWatcher) handle(event fsnotify.Event) {
	if w.filtered(event.Name) {
		return
	}

	now := time.Now()
	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if skipDir(info.Name()) {
				return
			}
			w.mu.Lock()
			if err := w.addTree(w.watcher, event.Name); err != nil {
				w.logger.Warn("Cannot watch new directory",
					slog.String("path", event.Name),
					slog.String("error", err.Error()),
				)
			}
			w.mu.Unlock()
			return
		}
		w.debounce.add(event.Name, ports.Created, now)
	case event.Has(fsnotify.Write):
		w.debounce.add(event.Name, ports.Modified, now)
	case event.Has(fsnotify.Remove):
		w.debounce.add(event.Name, ports.Deleted, now)
	case event.Has(fsnotify.Rename):
		w.debounce.add(event.Name, ports.Renamed, now)
	}
}

// filtered drops hidden files such as editor swap files, and siblings of
// individually watched files
func (w *NotifyWatcher) filtered(path string) bool {
	if skipDir(filepath.Base(path)) {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.dirs[filepath.Dir(path)]; ok {
		return false
	}
	_, ok := w.files[path]
	return !ok
}

var _ ports.FileWatcher = (*NotifyWatcher)(nil)
