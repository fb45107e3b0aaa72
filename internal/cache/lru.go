// Package cache provides caching implementations for Kestrel.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Stats describes the local cache.
type Stats struct {
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
	Counters int   `json:"counters"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

// LRUCache is a thread-safe LRU cache with TTL support. It backs the
// "memory" cache type and is the L1 of a TwoPhaseCache.
//
// Velocity counters live beside the entries. They are keyed per user, so
// expired windows are swept once the counter map outgrows the capacity.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	recency  *list.List
	windows  map[string]window
	hits     int64
	misses   int64
	now      func() time.Time
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type window struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		recency:  list.New(),
		windows:  make(map[string]window),
		now:      time.Now,
	}
}

// Get returns the live value for key, or nil on a miss.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, nil
	}

	e := elem.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.evict(elem)
		c.misses++
		return nil, nil
	}

	c.hits++
	c.recency.MoveToFront(elem)
	return e.value, nil
}

// Set stores value under key for ttl, evicting the least recently used
// entry when full.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if elem, ok := c.entries[key]; ok {
		e := elem.Value.(*entry)
		e.value, e.expiresAt = value, expiresAt
		c.recency.MoveToFront(elem)
		return nil
	}

	c.entries[key] = c.recency.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	for c.recency.Len() > c.capacity {
		c.evict(c.recency.Back())
	}
	return nil
}

// Delete removes key.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.evict(elem)
	}
	return nil
}

// IncrementCounter bumps the counter for key. A missing or expired
// counter restarts at 1 with a fresh window.
func (c *LRUCache) IncrementCounter(ctx context.Context, key string, w time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cur, ok := c.windows[key]
	if !ok || !now.Before(cur.expiresAt) {
		if len(c.windows) >= c.capacity {
			c.sweepWindows(now)
		}
		cur = window{expiresAt: now.Add(w)}
	}
	cur.count++
	c.windows[key] = cur
	return cur.count, nil
}

// GetCounter returns the live count for key, or 0.
func (c *LRUCache) GetCounter(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.windows[key]
	if !ok || !c.now().Before(cur.expiresAt) {
		return 0, nil
	}
	return cur.count, nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry and counter.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.recency.Init()
	c.windows = make(map[string]window)
	return nil
}

// Stats returns a snapshot of the cache.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:     c.recency.Len(),
		Capacity: c.capacity,
		Counters: len(c.windows),
		Hits:     c.hits,
		Misses:   c.misses,
	}
}

func (c *LRUCache) evict(elem *list.Element) {
	if elem == nil {
		return
	}
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*entry).key)
}

func (c *LRUCache) sweepWindows(now time.Time) {
	for key, w := range c.windows {
		if !now.Before(w.expiresAt) {
			delete(c.windows, key)
		}
	}
}
