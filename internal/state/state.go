// Package state provides an in-memory cache of file metadata seen on
// close-write events, so that a later moved-from event for the same path
// can still resolve the file's modification time.
package state

import (
	"os"
	"sync"
	"time"
)

// Entry represents a cached file state
type Entry struct {
	Mtime time.Time
	Size  int64
	Added time.Time
}

// Cache manages the state of observed files with TTL
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a new state cache with the specified TTL
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the entry for path if present and not expired.
// Expired entries are evicted lazily.
func (c *Cache) Get(path string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[path]
	if !exists {
		return Entry{}, false
	}

	if c.now().Sub(entry.Added) > c.ttl {
		delete(c.entries, path)
		return Entry{}, false
	}
	return entry, true
}

// Add adds or updates a file entry in the cache
func (c *Cache) Add(path string, info os.FileInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[path] = Entry{
		Mtime: info.ModTime(),
		Size:  info.Size(),
		Added: c.now(),
	}
}

// Clean removes expired entries from the cache
func (c *Cache) Clean() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for path, entry := range c.entries {
		if now.Sub(entry.Added) > c.ttl {
			delete(c.entries, path)
		}
	}
}

// Size returns the number of entries in the cache
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// ModTime returns the modification time of path, from the filesystem if the
// file still exists, else from the cache. The second result is false when
// neither source knows the file.
func (c *Cache) ModTime(path string) (time.Time, bool) {
	if info, err := os.Stat(path); err == nil {
		c.Add(path, info)
		return info.ModTime(), true
	}
	if entry, ok := c.Get(path); ok {
		return entry.Mtime, true
	}
	return time.Time{}, false
}
