package watcher

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// debouncer collects changes per path and releases each one after the path
// has been quiet for the debounce period. A burst of writes to one file is
// reported once, with the latest change type.
type debouncer struct {
	quiet   time.Duration
	mu      sync.Mutex
	pending map[string]pendingChange
}

type pendingChange struct {
	kind ports.ChangeType
	last time.Time
}

func newDebouncer(quiet time.Duration) *debouncer {
	return &debouncer{
		quiet:   quiet,
		pending: make(map[string]pendingChange),
	}
}

// add records a change
func (d *debouncer) add(path string, kind ports.ChangeType, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.pending[path]; ok && prev.kind == ports.Created && kind == ports.Modified {
		kind = ports.Created
	}
	d.pending[path] = pendingChange{kind: kind, last: at}
}

// ready removes and returns the changes that have been quiet long enough,
// sorted by path
func (d *debouncer) ready(now time.Time) []ports.FileChangeEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []ports.FileChangeEvent
	for path, change := range d.pending {
		if now.Sub(change.last) >= d.quiet {
			out = append(out, ports.FileChangeEvent{Path: path, Type: change.kind, Timestamp: change.last})
			delete(d.pending, path)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// skipDir reports directories that are never watched
func skipDir(name string) bool {
	if name == "node_modules" || name == "vendor" {
		return true
	}
	return len(name) > 1 && strings.HasPrefix(name, ".")
}

// walkRoot calls fn for every file under root, or for root itself when it
// is a file
func walkRoot(root string, fn func(path string, info os.FileInfo)) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			if path != root && skipDir(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		fn(path, info)
		return nil
	})
}
