package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// recorder collects events delivered to a handler
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(path string, kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, ev := range r.events {
		if ev.Path == path && ev.Kind == kind {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or the timeout passes
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func startWatcher(t *testing.T, cfg Config) *Watcher {
	t.Helper()

	w, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		w.Close()
	})
	return w
}

func TestWatcherOneEventPerClose(t *testing.T) {
	tmpDir := t.TempDir()
	rec := &recorder{}

	startWatcher(t, Config{
		Root:          tmpDir,
		Handler:       rec.handle,
		Debounce:      100 * time.Millisecond,
		FlushInterval: 20 * time.Millisecond,
	})

	// Several writes through one handle are reported as one close-write
	testFile := filepath.Join(tmpDir, "test.txt")
	f, err := os.Create(testFile)
	if err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.WriteString("test"); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
	}
	f.Close()

	if !waitFor(t, 2*time.Second, func() bool { return rec.count(testFile, CloseWrite) >= 1 }) {
		t.Fatal("No close-write event received")
	}
	time.Sleep(200 * time.Millisecond)

	if n := rec.count(testFile, CloseWrite); n != 1 {
		t.Errorf("Expected 1 close-write event, got %d", n)
	}
}

func TestWatcherEmptyFileCreate(t *testing.T) {
	tmpDir := t.TempDir()
	rec := &recorder{}

	startWatcher(t, Config{
		Root:          tmpDir,
		Handler:       rec.handle,
		Debounce:      50 * time.Millisecond,
		FlushInterval: 10 * time.Millisecond,
	})

	// Create and close without writing
	path := filepath.Join(tmpDir, "empty.txt")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	f.Close()

	if !waitFor(t, 2*time.Second, func() bool { return rec.count(path, CloseWrite) == 1 }) {
		t.Error("Expected a close-write event for an empty file")
	}

	rec.mu.Lock()
	ev := rec.events[0]
	rec.mu.Unlock()
	if ev.Dir != tmpDir || ev.Name != "empty.txt" || ev.Kind.String() != "close-write" {
		t.Errorf("Unexpected event: %+v", ev)
	}
}

func TestWatcherMovedFrom(t *testing.T) {
	tmpDir := t.TempDir()
	outside := t.TempDir()
	rec := &recorder{}

	src := filepath.Join(tmpDir, "moving.txt")
	if err := os.WriteFile(src, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	startWatcher(t, Config{
		Root:          tmpDir,
		Handler:       rec.handle,
		Debounce:      50 * time.Millisecond,
		FlushInterval: 10 * time.Millisecond,
	})

	if err := os.Rename(src, filepath.Join(outside, "moved.txt")); err != nil {
		t.Fatalf("Failed to move file: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return rec.count(src, MovedFrom) == 1 }) {
		t.Error("Expected a moved-from event")
	}
	if n := rec.count(src, CloseWrite); n != 0 {
		t.Errorf("Moving an untouched file should not report close-write, got %d", n)
	}
}

func TestWatcherWriteThenMove(t *testing.T) {
	tmpDir := t.TempDir()
	outside := t.TempDir()
	rec := &recorder{}

	startWatcher(t, Config{
		Root:          tmpDir,
		Handler:       rec.handle,
		Debounce:      time.Hour, // emulated close-write never flushes on its own
		FlushInterval: 10 * time.Millisecond,
	})

	src := filepath.Join(tmpDir, "fresh.txt")
	if err := os.WriteFile(src, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := os.Rename(src, filepath.Join(outside, "fresh.txt")); err != nil {
		t.Fatalf("Failed to move file: %v", err)
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		return rec.count(src, CloseWrite) == 1 && rec.count(src, MovedFrom) == 1
	})
	if !ok {
		t.Fatal("Expected pending write flushed before the move")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.events[0].Kind != CloseWrite || rec.events[1].Kind != MovedFrom {
		t.Errorf("Expected close-write before moved-from, got %v then %v", rec.events[0].Kind, rec.events[1].Kind)
	}
}

func TestWatcherRecursive(t *testing.T) {
	tmpDir := t.TempDir()

	// Create nested directory structure
	subDir1 := filepath.Join(tmpDir, "sub1")
	subDir2 := filepath.Join(tmpDir, "sub1", "sub2")
	skipped := filepath.Join(tmpDir, "skipme")
	os.MkdirAll(subDir2, 0755)
	os.MkdirAll(skipped, 0755)

	rec := &recorder{}
	w := startWatcher(t, Config{
		Root:          tmpDir,
		Recurse:       true,
		Handler:       rec.handle,
		Debounce:      50 * time.Millisecond,
		FlushInterval: 10 * time.Millisecond,
		SkipDir:       func(rel string) bool { return rel == "skipme" },
	})

	if n := len(w.WatchList()); n != 3 {
		t.Errorf("Expected 3 watched directories, got %d: %v", n, w.WatchList())
	}

	files := []string{
		filepath.Join(tmpDir, "root.txt"),
		filepath.Join(subDir1, "sub1.txt"),
		filepath.Join(subDir2, "sub2.txt"),
	}
	for _, file := range files {
		if err := os.WriteFile(file, []byte("test"), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", file, err)
		}
	}
	skippedFile := filepath.Join(skipped, "nope.txt")
	os.WriteFile(skippedFile, []byte("test"), 0644)

	for _, file := range files {
		if !waitFor(t, 2*time.Second, func() bool { return rec.count(file, CloseWrite) == 1 }) {
			t.Errorf("No event received for %s", file)
		}
	}
	if rec.count(skippedFile, CloseWrite) != 0 {
		t.Error("Skipped directory should not be watched")
	}
}

func TestWatcherNonRecursive(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "sub")
	os.MkdirAll(subDir, 0755)

	rec := &recorder{}
	startWatcher(t, Config{
		Root:          tmpDir,
		Handler:       rec.handle,
		Debounce:      50 * time.Millisecond,
		FlushInterval: 10 * time.Millisecond,
	})

	nested := filepath.Join(subDir, "nested.txt")
	top := filepath.Join(tmpDir, "top.txt")
	os.WriteFile(nested, []byte("x"), 0644)
	os.WriteFile(top, []byte("x"), 0644)

	if !waitFor(t, 2*time.Second, func() bool { return rec.count(top, CloseWrite) == 1 }) {
		t.Fatal("No event for top-level file")
	}
	if rec.count(nested, CloseWrite) != 0 {
		t.Error("Non-recursive watcher reported a nested file")
	}
}

func TestWatcherNewDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	rec := &recorder{}

	startWatcher(t, Config{
		Root:          tmpDir,
		Recurse:       true,
		Handler:       rec.handle,
		Debounce:      50 * time.Millisecond,
		FlushInterval: 10 * time.Millisecond,
	})

	newDir := filepath.Join(tmpDir, "newdir")
	if err := os.Mkdir(newDir, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}

	// Wait for directory to be added to watch
	time.Sleep(100 * time.Millisecond)

	newFile := filepath.Join(newDir, "test.txt")
	if err := os.WriteFile(newFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return rec.count(newFile, CloseWrite) == 1 }) {
		t.Error("No event for file in new directory")
	}
	if rec.count(newDir, CloseWrite) != 0 {
		t.Error("Directories must not be reported as written files")
	}
}

func TestWatcherMissingRoot(t *testing.T) {
	if _, err := New(Config{Root: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("Expected error watching a missing directory")
	}
	if _, err := New(Config{Root: filepath.Join(t.TempDir(), "missing"), Recurse: true}); err == nil {
		t.Error("Expected error recursively watching a missing directory")
	}
}

func TestKindString(t *testing.T) {
	if CloseWrite.String() != "close-write" || MovedFrom.String() != "moved-from" || Kind(0).String() != "unknown" {
		t.Error("Unexpected Kind strings")
	}
}
