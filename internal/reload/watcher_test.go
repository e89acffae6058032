package reload

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDetectsModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "server:\n  listen: \":4000\"\n")

	watcher, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	if watcher.Changed() {
		t.Fatal("expected no change right after snapshot")
	}

	time.Sleep(10 * time.Millisecond)
	writeFile(t, path, "server:\n  listen: \":4001\"\n")

	if !watcher.Changed() {
		t.Fatal("expected modification to be detected")
	}
}

func TestWatcherDetectsRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "history:\n  max_minutes: 720\n")

	watcher, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove(%s) error = %v", path, err)
	}

	if !watcher.Changed() {
		t.Fatal("expected removal to be detected")
	}
}

func TestWatcherUpdateResetsBaseline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "a")

	watcher, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	writeFile(t, path, "ab")
	if !watcher.Changed() {
		t.Fatal("expected modification to be detected")
	}

	watcher.Update()
	if watcher.Changed() {
		t.Fatal("expected baseline reset after Update")
	}
}

func TestWatcherMissingFileAtStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	watcher, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if watcher.Changed() {
		t.Fatal("a file that never existed must not report a change")
	}

	writeFile(t, path, "server: {}")
	if !watcher.Changed() {
		t.Fatal("expected newly created file to be detected")
	}
}

func TestWatcherHandlesNilReceiver(t *testing.T) {
	var watcher *Watcher
	watcher.Update()
	if watcher.Changed() {
		t.Fatal("nil watcher must not report changes")
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}
