package drive

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
)

// CacheEntry is a memoized child lookup. Found false records a confirmed
// absence.
type CacheEntry struct {
	ID    string
	Found bool
}

// Cache memoizes (parent id, child name) lookups. Entries are write-once:
// Store never replaces an existing entry.
type Cache interface {
	Load(parentID, name string) (CacheEntry, bool)
	Store(parentID, name string, e CacheEntry)
	Len() int
}

// cacheKey joins parent and name with a NUL, which cannot appear in either.
func cacheKey(parentID, name string) string {
	return parentID + "\x00" + name
}

// NewCache returns the resolution cache for maxEntries. Zero or less gives
// an unbounded map that lives as long as the process; a positive value gives
// a bounded TinyLFU cache sized for the expected directory fan-out.
func NewCache(maxEntries int64) (Cache, error) {
	if maxEntries <= 0 {
		return newMemoryCache(), nil
	}

	return newBoundedCache(maxEntries)
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]CacheEntry)}
}

func (c *memoryCache) Load(parentID, name string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[cacheKey(parentID, name)]

	return e, ok
}

func (c *memoryCache) Store(parentID, name string, e CacheEntry) {
	key := cacheKey(parentID, name)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return
	}

	c.entries[key] = e
}

func (c *memoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// boundedCache charges each entry a cost of 1 with internal overhead
// ignored, so MaxCost is the entry count. It may drop entries under
// admission pressure, in which case the next lookup goes back to the
// backend.
type boundedCache struct {
	c *ristretto.Cache[string, CacheEntry]
}

func newBoundedCache(maxEntries int64) (*boundedCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, CacheEntry]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("drive: creating bounded cache: %w", err)
	}

	return &boundedCache{c: c}, nil
}

func (b *boundedCache) Load(parentID, name string) (CacheEntry, bool) {
	return b.c.Get(cacheKey(parentID, name))
}

func (b *boundedCache) Store(parentID, name string, e CacheEntry) {
	key := cacheKey(parentID, name)
	if _, ok := b.c.Get(key); ok {
		return
	}

	b.c.Set(key, e, 1)
	b.c.Wait()
}

func (b *boundedCache) Len() int {
	return int(b.c.Metrics.KeysAdded() - b.c.Metrics.KeysEvicted())
}
