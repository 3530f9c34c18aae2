// Package filecache remembers Telegram file ids of uploaded release assets
// for the lifetime of the process, keyed by the asset download URL.
package filecache

import "sync"

// Cache is safe for concurrent use. Entries never expire; a concurrent
// upload of the same asset simply overwrites (last writer wins).
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string
}

func New() *Cache {
	return &Cache{entries: map[string]string{}}
}

// Get returns the file id for url, if one was stored.
func (c *Cache) Get(url string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.entries[url]
	return id, ok && id != ""
}

// Put stores fileID for url. Empty values are ignored.
func (c *Cache) Put(url, fileID string) {
	if url == "" || fileID == "" {
		return
	}
	c.mu.Lock()
	c.entries[url] = fileID
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
