// Package dedupe tracks how often a fraud-signal token has submitted, so
// intake can flag repeat clients without ever identifying them.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Counter records token sightings.
type Counter interface {
	// SeenAndRecord atomically increments the count for token and returns the
	// new count (1 on first sighting).
	SeenAndRecord(ctx context.Context, token string) int

	// Unrecord reverses one SeenAndRecord, used when the submission it
	// counted failed to persist.
	Unrecord(ctx context.Context, token string)

	Size() int64
}

// entry is a node in the insertion-ordered eviction ring.
type entry struct {
	token string
	count int
	prev  *entry
	next  *entry
}

// inMemoryCounter bounds memory with oldest-first eviction. Tokens rotate
// daily, so evicting the oldest token drops stale days first.
// For maxSize <= 0 it is unbounded.
type inMemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*entry
	oldest  *entry
	newest  *entry
	maxSize int
	size    atomic.Int64
}

// NewInMemoryCounter creates a counter with configuration options.
func NewInMemoryCounter(opts ...Option) Counter {
	c := &inMemoryCounter{
		maxSize: 50000,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.entries = make(map[string]*entry)
	return c
}

// SeenAndRecord increments and returns the sighting count for token.
func (c *inMemoryCounter) SeenAndRecord(_ context.Context, token string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[token]; ok {
		e.count++
		return e.count
	}

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	e := &entry{token: token, count: 1, prev: c.newest}
	if c.newest != nil {
		c.newest.next = e
	}
	c.newest = e
	if c.oldest == nil {
		c.oldest = e
	}
	c.entries[token] = e
	c.size.Add(1)
	return 1
}

// Unrecord decrements the count for token, removing it at zero.
func (c *inMemoryCounter) Unrecord(_ context.Context, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[token]
	if !ok {
		return
	}
	e.count--
	if e.count > 0 {
		return
	}
	c.unlink(e)
}

// evictOldest drops the least recently inserted token.
// Must be called with c.mu held.
func (c *inMemoryCounter) evictOldest() {
	if c.oldest != nil {
		c.unlink(c.oldest)
	}
}

// unlink removes e from the ring and the map. Must be called with c.mu held.
func (c *inMemoryCounter) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.oldest = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.newest = e.prev
	}
	e.prev, e.next = nil, nil
	delete(c.entries, e.token)
	c.size.Add(-1)
}

// Size returns the number of distinct tokens tracked.
func (c *inMemoryCounter) Size() int64 {
	return c.size.Load()
}
