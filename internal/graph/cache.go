package graph

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

type cacheEntry struct {
	query     string
	params    string
	records   []Record
	expiresAt time.Time
}

// QueryCache holds read results for a short TTL. Any write clears it.
type QueryCache struct {
	mu      sync.Mutex
	entries map[uint64]cacheEntry
	maxSize int
	ttl     time.Duration
	hits    int64
	misses  int64
	now     func() time.Time
}

// NewQueryCache creates a cache with at most maxSize entries.
func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	return &QueryCache{
		entries: make(map[uint64]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// cacheKey hashes query and params. The encoded params are returned so a
// hit can be checked against the stored query.
func cacheKey(query string, params map[string]any) (uint64, string, bool) {
	p, err := json.Marshal(params)
	if err != nil {
		return 0, "", false
	}
	h := xxh3.New()
	h.WriteString(query)
	h.Write([]byte{0})
	h.Write(p)
	return h.Sum64(), string(p), true
}

// Get returns a cached result that has not expired.
func (c *QueryCache) Get(query string, params map[string]any) ([]Record, bool) {
	key, encoded, ok := cacheKey(query, params)
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if ok && (entry.query != query || entry.params != encoded) {
		c.misses++
		return nil, false
	}
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.records, true
}

// Set stores records. When full, half the entries are evicted.
func (c *QueryCache) Set(query string, params map[string]any, records []Record) {
	key, encoded, ok := cacheKey(query, params)
	if !ok || c.maxSize <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		n := 0
		for k := range c.entries {
			delete(c.entries, k)
			n++
			if n >= c.maxSize/2 {
				break
			}
		}
	}
	c.entries[key] = cacheEntry{
		query:     query,
		params:    encoded,
		records:   records,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Clear drops every entry.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[uint64]cacheEntry)
	c.mu.Unlock()
}

// CacheStats reports cache usage.
type CacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

func (c *QueryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Size: len(c.entries), Hits: c.hits, Misses: c.misses}
}

// CachedDriver serves repeated reads from a QueryCache.
type CachedDriver struct {
	Driver
	cache *QueryCache
}

// NewCachedDriver wraps d.
func NewCachedDriver(d Driver, cache *QueryCache) *CachedDriver {
	return &CachedDriver{Driver: d, cache: cache}
}

func (d *CachedDriver) Execute(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	if records, ok := d.cache.Get(query, params); ok {
		return records, nil
	}
	records, err := d.Driver.Execute(ctx, query, params)
	if err != nil {
		return nil, err
	}
	d.cache.Set(query, params, records)
	return records, nil
}

func (d *CachedDriver) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	d.cache.Clear()
	return d.Driver.ExecuteWrite(ctx, query, params)
}

// Cache returns the underlying cache.
func (d *CachedDriver) Cache() *QueryCache {
	return d.cache
}
