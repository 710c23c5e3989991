package lookup

import (
	"strings"
	"sync"
	"time"

	"github.com/sells-group/corpaction-cli/internal/model"
)

type cacheEntry struct {
	result  model.LookupResult
	expires time.Time
}

// Cache holds resolved lookups for a TTL. Keys are case-insensitive.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	hits    int64
	misses  int64
	now     func() time.Time
}

// NewCache creates a cache. A non-positive ttl disables caching.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, entries: make(map[string]cacheEntry), now: time.Now}
}

func cacheKey(q string) string { return strings.ToUpper(q) }

// Get returns a cached result for q.
func (c *Cache) Get(q string) (model.LookupResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(q)
	e, ok := c.entries[key]
	if ok && c.now().Before(e.expires) {
		c.hits++
		return e.result, true
	}
	if ok {
		delete(c.entries, key)
	}
	c.misses++
	return model.LookupResult{}, false
}

// Put stores r under q.
func (c *Cache) Put(q string, r model.LookupResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 {
		return
	}
	c.entries[cacheKey(q)] = cacheEntry{result: r, expires: c.now().Add(c.ttl)}
}

// SetTTL changes the TTL for entries stored from now on.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
	if ttl <= 0 {
		c.entries = make(map[string]cacheEntry)
	}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of live and expired entries held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// HitRate returns the percentage of Get calls served from the cache.
func (c *Cache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) * 100 / float64(total)
}
