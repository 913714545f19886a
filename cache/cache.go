// Package cache provides the lookup memoization layer: a size-bounded LRU
// with TTL expiry and single-flight loading, sitting in front of the
// durable store and the remote catalog.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrLoad wraps loader failures. The failed key stays absent, so the next
// access retries instead of serving a poisoned entry.
var ErrLoad = errors.New("surgibot: cache load failed")

// Loader produces the value for a key that is missing or expired.
type Loader func(ctx context.Context) (any, error)

type entry struct {
	key        string
	value      any
	insertedAt time.Time
	ttl        time.Duration
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
	Len         int
	Capacity    int
}

// Cache is safe for concurrent use.
type Cache struct {
	capacity int
	ttl      time.Duration

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity bounds the number of live entries. The least recently used
// entry is evicted beyond it.
func WithCapacity(n int) Option {
	return func(c *Cache) { c.capacity = n }
}

// WithTTL sets the default entry lifetime. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// New creates a cache. Defaults: capacity 256, TTL 5 minutes.
func New(opts ...Option) *Cache {
	c := &Cache{
		capacity: 256,
		ttl:      5 * time.Minute,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrLoad returns the cached value for key, invoking loader on a miss or
// expiry. Concurrent callers for the same key share one loader invocation
// and one result. Loader errors come back wrapped in ErrLoad and are never
// stored.
func (c *Cache) GetOrLoad(ctx context.Context, key string, loader Loader) (any, error) {
	return c.GetOrLoadTTL(ctx, key, c.ttl, loader)
}

// GetOrLoadTTL is GetOrLoad with a per-entry lifetime overriding the
// cache default.
func (c *Cache) GetOrLoadTTL(ctx context.Context, key string, ttl time.Duration, loader Loader) (any, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// Another caller may have stored the value between our miss and
		// this flight starting.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := loader(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w for %q: %v", ErrLoad, key, err)
		}
		c.store(key, v, ttl)
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		// The flight keeps running for the callers still waiting on it;
		// its result is stored for the next access.
		return nil, ctx.Err()
	}
}

// Invalidate removes key. It reports whether a live entry was present.
// Called write-through by the orchestrator when the store mutates.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

// InvalidatePrefix removes every key with the given prefix and returns how
// many were dropped. Keys are namespaced "table:key", so a table write can
// drop the whole table's entries in one call.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var victims []*list.Element
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			victims = append(victims, el)
		}
	}
	for _, el := range victims {
		c.removeLocked(el)
	}
	return len(victims)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// Len returns the number of live entries, including any not yet noticed
// as expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Snapshot returns current counters.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Len:         c.ll.Len(),
		Capacity:    c.capacity,
	}
}

// lookup returns the live value for key, promoting it to most recent.
// Expired entries are dropped on access.
func (c *Cache) lookup(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := el.Value.(*entry)
	if ent.ttl > 0 && time.Since(ent.insertedAt) >= ent.ttl {
		c.removeLocked(el)
		c.expirations++
		c.misses++
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return ent.value, true
}

func (c *Cache) store(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.insertedAt = now
		ent.ttl = ttl
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: key, value: value, insertedAt: now, ttl: ttl})
	c.items[key] = el

	for c.capacity > 0 && c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	ent := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, ent.key)
}
