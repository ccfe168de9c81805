// Package dedup provides a bounded membership cache for recently seen
// event and message identifiers. Webhook deliveries from the platform are
// at-least-once; the cache turns repeat deliveries into cheap no-ops.
package dedup

import "sync"

// DefaultCapacity matches the platform retry window: duplicates arrive
// within seconds to minutes, so a small in-process bound is enough.
const DefaultCapacity = 1000

// Cache is a set of recently seen identifiers. Implementations must be
// safe for concurrent use. A horizontally scaled deployment can swap in a
// shared store without changing call sites.
type Cache interface {
	Has(id string) bool
	Add(id string)
}

// BoundedCache remembers the last capacity ids in insertion order. When
// full, Add evicts the single oldest-inserted id before inserting. It is
// not an LRU: Has does not refresh insertion order.
type BoundedCache struct {
	mu       sync.Mutex
	capacity int
	ids      map[string]struct{}
	order    []string
}

// NewBoundedCache creates a cache holding at most capacity ids.
func NewBoundedCache(capacity int) *BoundedCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &BoundedCache{
		capacity: capacity,
		ids:      make(map[string]struct{}, capacity),
	}
}

func (c *BoundedCache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[id]
	return ok
}

func (c *BoundedCache) Add(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[id]; ok {
		return
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.ids, oldest)
	}
	c.ids[id] = struct{}{}
	c.order = append(c.order, id)
}

// Len reports the current number of cached ids.
func (c *BoundedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}
