// Package cache implements a bounded in-memory key/value store with
// per-entry TTLs. It is a pure performance optimization: callers must never
// depend on an entry surviving, and the cache can be dropped and recreated
// at any time.
package cache

import (
	"container/list"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxSize bounds the entry count when no capacity is given.
const DefaultMaxSize = 100

type entry struct {
	key      string
	data     any
	storedAt time.Time
	ttl      time.Duration
}

// Cache is a TTL-bounded map. At capacity the oldest insertion is evicted
// first. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = oldest insertion
	maxSize int
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source, used by tests to control expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New builds a Cache holding at most maxSize entries. A maxSize <= 0 uses
// DefaultMaxSize.
func New(maxSize int, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the stored value, or ok=false if the key is absent or the
// entry has outlived its TTL. Stale entries are evicted on read.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := elem.Value.(*entry)
	if c.now().Sub(e.storedAt) > e.ttl {
		c.removeLocked(elem)
		return nil, false
	}
	return e.data, true
}

// Set stores data under key with the given TTL. When the map is at
// capacity the oldest insertion is evicted first.
func (c *Cache) Set(key string, data any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Front(); oldest != nil {
			c.removeLocked(oldest)
		}
	}
	elem := c.order.PushBack(&entry{
		key:      key,
		data:     data,
		storedAt: c.now(),
		ttl:      ttl,
	})
	c.entries[key] = elem
}

// Delete removes a key, reporting whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(elem)
	return true
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Cleanup sweeps all expired entries without relying on capacity pressure.
func (c *Cache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		e := elem.Value.(*entry)
		if now.Sub(e.storedAt) > e.ttl {
			c.removeLocked(elem)
		}
		elem = next
	}
}

// Len returns the current entry count, expired entries included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats reports size, capacity, and the currently stored keys.
func (c *Cache) Stats() (size, maxSize int, keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys = make([]string, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry).key)
	}
	return c.order.Len(), c.maxSize, keys
}

func (c *Cache) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	c.order.Remove(elem)
	delete(c.entries, e.key)
}

// Key composes a cache key from a collection, an operation, and optional
// parameters. Parameters are JSON-encoded so equal inputs yield equal keys.
func Key(collection, operation string, params any) string {
	if params == nil {
		return fmt.Sprintf("%s:%s:", collection, operation)
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%s:%s:%v", collection, operation, params)
	}
	return fmt.Sprintf("%s:%s:%s", collection, operation, encoded)
}
