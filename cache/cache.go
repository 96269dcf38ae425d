// Package cache provides a bounded, TTL based in-memory store used to
// short-circuit repeated reads against the payment API.
//
// Expiry is lazy: an entry past its deadline is removed when it is next
// read. There is no background sweeper. When the store is full, inserting a
// new key evicts the oldest inserted entry that is still present; updating
// an existing key keeps its place in the eviction queue.
package cache

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultTTL     = 60 * time.Second
	DefaultMaxSize = 1000
)

// farFuture bounds expiry deadlines so that huge TTLs never overflow into
// the past.
var farFuture = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time
}

type Option func(*options)

type options struct {
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// WithTTL sets the TTL used by Set.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithMaxSize bounds the number of stored entries.
func WithMaxSize(n int) Option {
	return func(o *options) {
		o.maxSize = n
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func New[V any](opts ...Option) *Cache[V] {
	o := options{
		ttl:     DefaultTTL,
		maxSize: DefaultMaxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxSize <= 0 {
		o.maxSize = DefaultMaxSize
	}

	return &Cache[V]{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxSize:    o.maxSize,
		defaultTTL: o.ttl,
		now:        o.now,
	}
}

// Get returns the value stored under key if it has not expired. Reading an
// expired entry removes it.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}

	e := el.Value.(*entry[V])
	if !c.now().Before(e.expiresAt) {
		c.removeElement(el)
		return zero, false
	}

	// nil interface values are indistinguishable from a miss.
	if any(e.value) == nil {
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key until now+ttl. A ttl of zero or less
// stores an already expired entry.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.deadline(ttl)

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.expiresAt = expiresAt
		return
	}

	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Front(); oldest != nil {
			c.removeElement(oldest)
		}
	}

	c.items[key] = c.order.PushBack(&entry[V]{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})
}

// Has reports whether Get would find key.
func (c *Cache[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

func (c *Cache[V]) deadline(ttl time.Duration) time.Time {
	now := c.now()
	if ttl <= 0 {
		return now
	}
	if ttl > farFuture.Sub(now) {
		return farFuture
	}
	return now.Add(ttl)
}

func (c *Cache[V]) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*entry[V])
	delete(c.items, e.key)
}
