package segment

import "sync"

// DefaultCacheCapacity is the bound used when a Cache is constructed with a
// non-positive capacity.
const DefaultCacheCapacity = 50

// Cache is a bounded, insertion-ordered result cache keyed by
// [Request.CacheKey]. When full, the oldest entry is evicted — FIFO by
// insert order, deliberately not LRU: a segmentation result's usefulness
// decays with time, not with access frequency, so there is no reason to keep
// a hot entry alive past its batch.
//
// One Cache instance is owned by one orchestrator per session/batch and is
// cleared wholesale on batch change. The mutex exists for the HTTP surface,
// where handler goroutines share the orchestrator.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	entries  map[string]*CacheEntry
}

// CacheEntry is the cached portion of a [Result]. Judgments are not cached:
// they are only produced on the auto-submit path, which consumes them
// immediately.
type CacheEntry struct {
	Segments            []string
	CorrectedTranscript string
	Provenance          Provenance
}

// NewCache creates a Cache bounded to capacity entries.
// Non-positive capacities fall back to [DefaultCacheCapacity].
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*CacheEntry, capacity),
	}
}

// Get returns the entry stored under key, or nil. Lookup does not refresh
// the entry's eviction position.
func (c *Cache) Get(key string) *CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key]
}

// Put stores entry under key, evicting the oldest entry when the bound is
// exceeded. Re-putting an existing key replaces the value but keeps its
// original insertion position.
func (c *Cache) Put(key string, entry *CacheEntry) {
	if entry == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = entry
		return
	}

	c.entries[key] = entry
	c.order = append(c.order, key)
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Clear drops every entry. Called when the active word batch changes; the
// key already encodes word-set identity, so this is housekeeping rather than
// correctness, but it keeps stale batches from occupying the bound.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.entries = make(map[string]*CacheEntry, c.capacity)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
