package cache

import (
	"container/list"
	"sync"
	"time"
)

// pruneInterval throttles full sweeps; per-key reads still evict stale
// entries regardless.
const pruneInterval = time.Second

// Cache is a generic in-memory map of {value, expiresAt} entries with a
// throttled prune and an LRU trim by recency of insertion. One instance per
// cache site (policy, guidelines, incremental heads, feedback, ask sessions).
type Cache[V any] struct {
	mu        sync.Mutex
	entries   map[string]*list.Element
	order     *list.List // front = most recently set
	lastPrune time.Time
}

type item[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// New creates an empty Cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// GetFresh returns the value for key if present and not past expiry; a stale
// entry is deleted on the spot.
func (c *Cache[V]) GetFresh(key string, now time.Time) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	it := el.Value.(*item[V])
	if now.After(it.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		return zero, false
	}
	return it.value, true
}

// Set stores value under key with an absolute expiry.
func (c *Cache[V]) Set(key string, value V, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		it := el.Value.(*item[V])
		it.value = value
		it.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&item[V]{key: key, value: value, expiresAt: expiresAt})
	c.entries[key] = el
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Prune sweeps expired entries, at most once per second per instance.
func (c *Cache[V]) Prune(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastPrune) < pruneInterval {
		return
	}
	c.lastPrune = now

	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		it := el.Value.(*item[V])
		if now.After(it.expiresAt) {
			c.order.Remove(el)
			delete(c.entries, it.key)
		}
		el = prev
	}
}

// Trim evicts the oldest insertions until size <= max.
func (c *Cache[V]) Trim(max int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if max < 0 {
		max = 0
	}
	for len(c.entries) > max {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		it := oldest.Value.(*item[V])
		c.order.Remove(oldest)
		delete(c.entries, it.key)
	}
}

// Len reports the number of entries, stale ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops everything; tests use this between cases.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.lastPrune = time.Time{}
}
