package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// PollingWatcher implements file watching using polling. It works on every
// filesystem, including network mounts where fsnotify sees nothing.
type PollingWatcher struct {
	interval  time.Duration
	debounce  *debouncer
	logger    *slog.Logger
	roots     []string
	fileInfos map[string]FileInfo
	events    chan ports.FileChangeEvent
	mu        sync.RWMutex
	wg        sync.WaitGroup
	started   bool
	stopped   bool
	stopCh    chan struct{}
}

// FileInfo stores information about a file
type FileInfo struct {
	Size     int64
	ModTime  time.Time
	Checksum string
}

// NewPollingWatcher creates a new polling-based file watcher
func NewPollingWatcher(interval, debounce time.Duration, logger *slog.Logger) *PollingWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollingWatcher{
		interval:  interval,
		debounce:  newDebouncer(debounce),
		logger:    logger.With("component", "poll_watcher"),
		fileInfos: make(map[string]FileInfo),
		events:    make(chan ports.FileChangeEvent, 64),
		stopCh:    make(chan struct{}),
	}
}

// Watch starts watching files and directories for changes
func (w *PollingWatcher) Watch(ctx context.Context, paths ...string) (<-chan ports.FileChangeEvent, error) {
	if len(paths) == 0 {
		return nil, errors.New("no paths to watch")
	}

	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return nil, errors.New("watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	for _, path := range paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolving path: %w", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("watching %s: %w", path, err)
		}
		w.roots = append(w.roots, absPath)
	}

	// Initial scan
	current, err := w.scan()
	if err != nil {
		return nil, fmt.Errorf("initial scan: %w", err)
	}
	w.mu.Lock()
	w.fileInfos = current
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	return w.events, nil
}

// Stop stops the file watcher and closes the event channel
func (w *PollingWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	close(w.events)

	return nil
}

// pollLoop continuously polls for file changes
func (w *PollingWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case now := <-ticker.C:
			if err := w.checkForChanges(now); err != nil {
				w.logger.Warn("Watch error", slog.String("error", err.Error()))
			}

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

// checkForChanges compares the filesystem against the last scan
func (w *PollingWatcher) checkForChanges(now time.Time) error {
	current, err := w.scan()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for path, info := range current {
		oldInfo, exists := w.fileInfos[path]
		switch {
		case !exists:
			w.debounce.add(path, ports.Created, now)
		case oldInfo.Checksum != info.Checksum:
			w.debounce.add(path, ports.Modified, now)
		}
	}
	for path := range w.fileInfos {
		if _, exists := current[path]; !exists {
			w.debounce.add(path, ports.Deleted, now)
		}
	}

	w.fileInfos = current
	return nil
}

// scan walks every root. Checksums are only recomputed for files whose
// size or modification time changed.
func (w *PollingWatcher) scan() (map[string]FileInfo, error) {
	w.mu.RLock()
	previous := w.fileInfos
	w.mu.RUnlock()

	current := make(map[string]FileInfo, len(previous))
	for _, root := range w.roots {
		err := walkRoot(root, func(path string, info os.FileInfo) {
			if old, ok := previous[path]; ok && old.Size == info.Size() && old.ModTime.Equal(info.ModTime()) {
				current[path] = old
				return
			}

			checksum, err := calculateChecksum(path)
			if err != nil {
				// Vanished between walk and read; the next scan reports it
				return
			}
			current[path] = FileInfo{
				Size:     info.Size(),
				ModTime:  info.ModTime(),
				Checksum: checksum,
			}
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", root, err)
		}
	}
	return current, nil
}

// calculateChecksum calculates SHA256 checksum of a file
func calculateChecksum(path string) (string, error) {
	file, err := os.Open(path) // #nosec G304 - path comes from walking a configured root
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

var _ ports.FileWatcher = (*PollingWatcher)(nil)
