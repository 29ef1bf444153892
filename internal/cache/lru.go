// Package cache provides a size-bounded LRU with per-entry TTL. It backs the
// image store, the per-project embedding maps, and the session usage table.
package cache

import (
	"sync"
	"time"
)

// node is an entry in the doubly-linked recency list.
type node[V any] struct {
	key      string
	value    V
	storedAt int64 // unix millis
	prev     *node[V]
	next     *node[V]
}

// TTLCache evicts the least recently used entry beyond capacity and lazily
// drops entries older than the TTL on access. A TTL of zero disables expiry.
type TTLCache[V any] struct {
	mu       sync.Mutex
	items    map[string]*node[V]
	head     *node[V] // most recently used
	tail     *node[V] // least recently used
	capacity int
	ttl      time.Duration
}

// New creates a cache holding at most capacity entries.
func New[V any](capacity int, ttl time.Duration) *TTLCache[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &TTLCache[V]{
		items:    make(map[string]*node[V]),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Get retrieves a value and promotes it to most recently used.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	return c.GetAt(key, time.Now())
}

// GetAt is Get with an explicit clock for testing.
func (c *TTLCache[V]) GetAt(key string, now time.Time) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	n, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if c.expired(n, now) {
		c.removeNode(n)
		delete(c.items, key)
		return zero, false
	}
	c.moveToFront(n)
	return n.value, true
}

// Put adds or updates a value, promoting it to most recently used.
func (c *TTLCache[V]) Put(key string, value V) {
	c.PutAt(key, value, time.Now())
}

// PutAt is Put with an explicit clock for testing.
func (c *TTLCache[V]) PutAt(key string, value V, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, exists := c.items[key]; exists {
		n.value = value
		n.storedAt = now.UnixMilli()
		c.moveToFront(n)
		return
	}

	n := &node[V]{key: key, value: value, storedAt: now.UnixMilli()}
	c.items[key] = n
	c.addToFront(n)

	if len(c.items) > c.capacity {
		c.evictLRU()
	}
}

// Delete removes a key if present.
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		c.removeNode(n)
		delete(c.items, key)
	}
}

// Len returns the number of entries, including any not yet expired lazily.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear drops every entry.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*node[V])
	c.head = nil
	c.tail = nil
}

// Keys returns the keys in most-recently-used order.
func (c *TTLCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for n := c.head; n != nil; n = n.next {
		keys = append(keys, n.key)
	}
	return keys
}

func (c *TTLCache[V]) expired(n *node[V], now time.Time) bool {
	if c.ttl <= 0 {
		return false
	}
	return now.UnixMilli()-n.storedAt >= c.ttl.Milliseconds()
}

func (c *TTLCache[V]) moveToFront(n *node[V]) {
	if n == c.head {
		return
	}
	c.removeNode(n)
	c.addToFront(n)
}

func (c *TTLCache[V]) addToFront(n *node[V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *TTLCache[V]) removeNode(n *node[V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}

func (c *TTLCache[V]) evictLRU() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.key)
	if c.tail.prev != nil {
		c.tail.prev.next = nil
		c.tail = c.tail.prev
	} else {
		c.head = nil
		c.tail = nil
	}
}
