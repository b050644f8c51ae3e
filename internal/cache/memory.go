package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mailward/email-verifier/internal/metrics"
)

const sweepInterval = 60 * time.Second

// InMemoryCache is a TTL- and capacity-bounded in-memory Provider.
// Expired entries are invisible to readers and reclaimed by a background
// sweep; capacity overflow evicts entries in insertion order.
type InMemoryCache struct {
	mu         sync.RWMutex
	items      map[string]cacheItem
	capacity   int           // 0 means unbounded
	defaultTTL time.Duration // Applied when Set receives ttl<=0
	seq        uint64        // Monotonic insertion counter for eviction order
	name       string        // Label for metrics
	hits       atomic.Int64
	misses     atomic.Int64
	stop       chan struct{}
	stopOnce   sync.Once
}

// cacheItem represents an individual item in the cache
type cacheItem struct {
	value    interface{}
	expireAt time.Time
	seq      uint64
}

// NewInMemoryCache creates an unbounded cache with a 5 minute default TTL.
func NewInMemoryCache() *InMemoryCache {
	return NewBoundedCache("default", 0, 5*time.Minute)
}

// NewBoundedCache creates a cache with the given capacity and default TTL and
// starts its background sweep. Callers own the cache and must Close it when
// tearing the owning engine down.
func NewBoundedCache(name string, capacity int, defaultTTL time.Duration) *InMemoryCache {
	c := &InMemoryCache{
		items:      make(map[string]cacheItem),
		capacity:   capacity,
		defaultTTL: defaultTTL,
		name:       name,
		stop:       make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get retrieves a live entry. Expired entries count as misses.
func (c *InMemoryCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(item.expireAt) {
		c.misses.Add(1)
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return nil, false
	}
	c.hits.Add(1)
	metrics.CacheHits.WithLabelValues(c.name).Inc()
	return item.value, true
}

// Has reports whether a live entry exists without touching hit/miss counters.
func (c *InMemoryCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[key]
	return ok && !time.Now().After(item.expireAt)
}

// Set stores a value. Overwriting refreshes both the TTL and the insertion
// position. When the capacity is exceeded the oldest-inserted entries are
// evicted first.
func (c *InMemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.items[key] = cacheItem{
		value:    value,
		expireAt: time.Now().Add(ttl),
		seq:      c.seq,
	}

	if c.capacity > 0 {
		for len(c.items) > c.capacity {
			c.evictOldestLocked()
		}
	}
}

// Delete removes a key, returning true if it was present
func (c *InMemoryCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	delete(c.items, key)
	return ok
}

// Clear removes all items from the cache
func (c *InMemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]cacheItem)
}

// Size returns the number of stored entries, expired ones included until the
// next sweep reclaims them.
func (c *InMemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// GetStats returns hit/miss counters and the derived hit rate
func (c *InMemoryCache) GetStats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Items:   c.Size(),
		Hits:    hits,
		Misses:  misses,
		HitRate: rate,
	}
}

// Close stops the background sweep and drops all entries
func (c *InMemoryCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.Clear()
}

// evictOldestLocked drops the entry with the lowest insertion sequence.
// Callers must hold the write lock.
func (c *InMemoryCache) evictOldestLocked() {
	var oldestKey string
	var oldestSeq uint64
	first := true
	for key, item := range c.items {
		if first || item.seq < oldestSeq {
			oldestKey = key
			oldestSeq = item.seq
			first = false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}

// sweep periodically removes expired entries so memory does not grow
// unbounded between reads.
func (c *InMemoryCache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, item := range c.items {
				if now.After(item.expireAt) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
