package dedupe

import (
	"sync"
	"time"
)

type entry struct {
	key string
	ts  time.Time
}

// Cache keeps a fixed-size set of recently accepted content hashes so the
// ingest worker can reject repeats without a store round trip.
type Cache struct {
	mu       sync.Mutex
	items    map[string]time.Time
	order    []entry
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewCache creates a cache with the provided capacity and ttl.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		items:    make(map[string]time.Time, capacity),
		order:    make([]entry, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// IsSeen returns true when the hash was accepted inside the ttl window.
// It does not mark the hash; use MarkSeen once the item is committed.
func (c *Cache) IsSeen(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ts, ok := c.items[hash]; ok {
		return c.now().Sub(ts) <= c.ttl
	}
	return false
}

// MarkSeen records that a hash has been committed to the store.
func (c *Cache) MarkSeen(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.items[hash] = now
	c.order = append(c.order, entry{key: hash, ts: now})
	c.compact(now)
}

func (c *Cache) compact(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for len(c.order) > 0 && (len(c.items) > c.capacity || c.order[0].ts.Before(cutoff)) {
		oldest := c.order[0]
		c.order = c.order[1:]

		if ts, ok := c.items[oldest.key]; ok && ts.Equal(oldest.ts) {
			delete(c.items, oldest.key)
		}
	}
}
