// Package cache is the process-local result cache. Entries expire after a
// TTL and are evicted lazily on Get and in bulk on Put; capacity eviction
// drops the oldest-inserted entries first.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/hazyhaar/medifind/quote"
)

const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 1000
)

type entry struct {
	key       quote.Query
	value     quote.AggregateResult
	expiresAt time.Time
	elem      *list.Element
}

// Cache maps a normalised Query to an AggregateResult. Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[quote.Query]*entry
	order      *list.List // insertion order, front = oldest
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the entry lifetime.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithMaxEntries bounds the number of live entries.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithClock injects the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Cache) { c.now = fn }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[quote.Query]*entry),
		order:      list.New(),
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns a copy of the cached result for q. An expired entry is
// evicted and reported as a miss.
func (c *Cache) Get(q quote.Query) (quote.AggregateResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[q]
	if !ok {
		return quote.AggregateResult{}, false
	}
	if !c.now().Before(e.expiresAt) {
		c.remove(e)
		return quote.AggregateResult{}, false
	}
	return e.value.Clone(), true
}

// Put stores a copy of r under q, replacing any previous entry, then
// sweeps expired entries and trims to capacity.
func (c *Cache) Put(q quote.Query, r quote.AggregateResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if old, ok := c.entries[q]; ok {
		c.remove(old)
	}
	e := &entry{key: q, value: r.Clone(), expiresAt: now.Add(c.ttl)}
	e.elem = c.order.PushBack(e)
	c.entries[q] = e

	c.sweep(now)
	for len(c.entries) > c.maxEntries {
		c.remove(c.order.Front().Value.(*entry))
	}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[quote.Query]*entry)
	c.order.Init()
}

func (c *Cache) sweep(now time.Time) {
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*entry); !now.Before(e.expiresAt) {
			c.remove(e)
		}
		el = next
	}
}

func (c *Cache) remove(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}
