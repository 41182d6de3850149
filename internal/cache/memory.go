// Package cache holds the listing cache backends used by the directory cache.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"drive-go/internal/drive"
)

// DefaultMaxEntries bounds the in-process cache.
const DefaultMaxEntries = 10000

// MemoryCache is an in-process LRU cache with per-entry expiry.
// All operations are safe for concurrent use.
type MemoryCache struct {
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
}

type memoryEntry struct {
	key       string
	listing   []drive.DirectoryEntry
	expiresAt time.Time
}

// NewMemoryCache creates a MemoryCache holding at most maxEntries listings.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryCache{
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
	}
}

// Get returns a copy of the cached listing. Expired entries are dropped.
func (c *MemoryCache) Get(_ context.Context, key string) ([]drive.DirectoryEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	entry := el.Value.(*memoryEntry)
	if !c.now().Before(entry.expiresAt) {
		c.remove(el)
		return nil, false, nil
	}
	c.lru.MoveToFront(el)
	return append([]drive.DirectoryEntry(nil), entry.listing...), true, nil
}

// Set stores a copy of listing under key for ttl.
func (c *MemoryCache) Set(_ context.Context, key string, listing []drive.DirectoryEntry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := append(make([]drive.DirectoryEntry, 0, len(listing)), listing...)
	expiresAt := c.now().Add(ttl)
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.listing = stored
		entry.expiresAt = expiresAt
		c.lru.MoveToFront(el)
		return nil
	}

	for len(c.entries) >= c.maxEntries {
		c.remove(c.lru.Back())
	}
	c.entries[key] = c.lru.PushFront(&memoryEntry{key: key, listing: stored, expiresAt: expiresAt})
	return nil
}

// Delete removes the keys; missing keys are ignored.
func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if el, ok := c.entries[key]; ok {
			c.remove(el)
		}
	}
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) remove(el *list.Element) {
	c.lru.Remove(el)
	delete(c.entries, el.Value.(*memoryEntry).key)
}

var _ drive.ListingCache = (*MemoryCache)(nil)
