package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key     K
	value   V
	created time.Time
}

// TTLCache is a map whose entries expire ttl after they were stored.
// Keys iterate in insertion order; re-setting a key moves it to the end.
type TTLCache[K comparable, V any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	order *list.List
	items map[K]*list.Element
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func NewTTLCache[K comparable, V any](ttl time.Duration, opts ...Option) *TTLCache[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTLCache[K, V]{
		ttl:   ttl,
		now:   o.now,
		order: list.New(),
		items: make(map[K]*list.Element),
	}
}

func (c *TTLCache[K, V]) TTL() time.Duration { return c.ttl }

// Get returns the value for key when present and not expired. An expired
// entry is removed.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if c.expired(e, c.now()) {
		c.remove(el)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with a fresh creation time.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
	c.items[key] = c.order.PushBack(&entry[K, V]{key: key, value: value, created: c.now()})
}

func (c *TTLCache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if ok {
		c.remove(el)
	}
	return ok
}

// DeleteFunc removes every key matching fn and returns how many were removed.
func (c *TTLCache[K, V]) DeleteFunc(fn func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if fn(el.Value.(*entry[K, V]).key) {
			c.remove(el)
			n++
		}
		el = next
	}
	return n
}

func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[K]*list.Element)
}

// Keys lists unexpired keys in insertion order.
func (c *TTLCache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	keys := make([]K, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[K, V])
		if !c.expired(e, now) {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Len counts unexpired entries.
func (c *TTLCache[K, V]) Len() int {
	return len(c.Keys())
}

// Stored counts entries including expired ones not yet purged.
func (c *TTLCache[K, V]) Stored() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge drops expired entries.
func (c *TTLCache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if c.expired(el.Value.(*entry[K, V]), now) {
			c.remove(el)
			n++
		}
		el = next
	}
	return n
}

func (c *TTLCache[K, V]) expired(e *entry[K, V], now time.Time) bool {
	return now.Sub(e.created) > c.ttl
}

func (c *TTLCache[K, V]) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry[K, V]).key)
}
