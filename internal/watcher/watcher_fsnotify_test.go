//go:build !linux

package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatcherDebounce(t *testing.T) {
	tmpDir := t.TempDir()

	var mu sync.Mutex
	var eventTime time.Time
	handler := func(ev Event) {
		mu.Lock()
		if eventTime.IsZero() {
			eventTime = time.Now()
		}
		mu.Unlock()
	}

	startWatcher(t, Config{
		Root:          tmpDir,
		Handler:       handler,
		Debounce:      200 * time.Millisecond,
		FlushInterval: 20 * time.Millisecond,
	})

	testFile := filepath.Join(tmpDir, "test.txt")
	startTime := time.Now()
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !eventTime.IsZero()
	})
	if !ok {
		t.Fatal("No event received")
	}

	mu.Lock()
	elapsed := eventTime.Sub(startTime)
	mu.Unlock()

	if elapsed < 200*time.Millisecond {
		t.Errorf("Event processed too early: %v", elapsed)
	}
}

func TestWatcherRepeatedWritesBatched(t *testing.T) {
	tmpDir := t.TempDir()
	rec := &recorder{}

	startWatcher(t, Config{
		Root:          tmpDir,
		Handler:       rec.handle,
		Debounce:      100 * time.Millisecond,
		FlushInterval: 20 * time.Millisecond,
	})

	// Rewrites inside the quiet period collapse into one event
	testFile := filepath.Join(tmpDir, "test.txt")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !waitFor(t, 2*time.Second, func() bool { return rec.count(testFile, CloseWrite) >= 1 }) {
		t.Fatal("No close-write event received")
	}
	time.Sleep(200 * time.Millisecond)

	if n := rec.count(testFile, CloseWrite); n != 1 {
		t.Errorf("Expected 1 batched event, got %d", n)
	}
}
