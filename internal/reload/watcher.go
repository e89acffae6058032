// Package reload detects changes to the configuration file for hot reloads.
package reload

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

type fileState struct {
	modTime time.Time
	size    int64
}

// Watcher tracks the configuration file and detects modifications by
// comparing modification time and size against the last snapshot.
type Watcher struct {
	mu    sync.Mutex
	path  string
	state fileState
	known bool
}

// NewWatcher builds a watcher for the configuration file at path.
func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher := &Watcher{path: abs}
	watcher.Update()
	return watcher, nil
}

// Update snapshots the current file state as the new baseline.
func (w *Watcher) Update() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	info, err := os.Stat(w.path)
	if err != nil || info.IsDir() {
		w.known = false
		return
	}
	w.state = fileState{modTime: info.ModTime(), size: info.Size()}
	w.known = true
}

// Changed reports whether the file differs from the last snapshot. A file
// that disappeared after being tracked counts as changed.
func (w *Watcher) Changed() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	info, err := os.Stat(w.path)
	if err != nil {
		return w.known
	}
	if info.IsDir() {
		return false
	}
	if !w.known {
		return true
	}
	return info.ModTime().After(w.state.modTime) || info.Size() != w.state.size
}
