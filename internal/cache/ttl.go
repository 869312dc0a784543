package cache

import (
	"sync"
	"time"
)

// TTLCache is a thread-safe in-memory map whose entries expire after a
// time-to-live. Expired entries are removed lazily when looked up, and a
// background sweep removes the rest so keys that are never re-read do not
// accumulate. The zero TTL on an entry means the cache default applies.
type TTLCache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry[V]
	nowFn   func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
	ttl        time.Duration
}

// NewTTL builds a cache with the given default time-to-live.
func NewTTL[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{
		ttl:     ttl,
		entries: make(map[string]entry[V]),
		nowFn:   time.Now,
		stopCh:  make(chan struct{}),
	}
}

// NewTTLWithClock builds a cache with an injectable clock for tests.
func NewTTLWithClock[V any](ttl time.Duration, nowFn func() time.Time) *TTLCache[V] {
	c := NewTTL[V](ttl)
	if nowFn != nil {
		c.nowFn = nowFn
	}
	return c
}

// Put stores a fresh entry under key, overwriting any existing one and
// resetting its age.
func (c *TTLCache[V]) Put(key string, value V) {
	c.PutTTL(key, value, 0)
}

// PutTTL stores a fresh entry with an entry-specific time-to-live.
func (c *TTLCache[V]) PutTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, insertedAt: c.nowFn(), ttl: ttl}
}

// Swap replaces the value under key while keeping the original entry age,
// so the expiry window stays anchored at the first Put. If no live entry
// exists, Swap behaves like Put.
func (c *TTLCache[V]) Swap(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFn()
	if e, ok := c.entries[key]; ok && !c.expired(e, now) {
		c.entries[key] = entry[V]{value: value, insertedAt: e.insertedAt, ttl: e.ttl}
		return
	}
	c.entries[key] = entry[V]{value: value, insertedAt: now}
}

// Update applies fn to the live value under key and stores the result,
// all under a single lock acquisition, so concurrent updates never lose
// one another's writes. fn receives the zero value and ok=false when no
// live entry exists. A live entry keeps its age, like Swap; a fresh one
// starts a new window. Returns the stored value.
func (c *TTLCache[V]) Update(key string, fn func(value V, ok bool) V) V {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFn()
	e, ok := c.entries[key]
	if ok && c.expired(e, now) {
		delete(c.entries, key)
		ok = false
	}
	if ok {
		next := fn(e.value, true)
		c.entries[key] = entry[V]{value: next, insertedAt: e.insertedAt, ttl: e.ttl}
		return next
	}
	var zero V
	next := fn(zero, false)
	c.entries[key] = entry[V]{value: next, insertedAt: now}
	return next
}

// Get returns the live value for key. Looking up an expired entry deletes
// it as a side effect.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	v, _, ok := c.GetEntry(key)
	return v, ok
}

// GetEntry returns the live value and its insertion time.
func (c *TTLCache[V]) GetEntry(key string) (V, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, time.Time{}, false
	}
	if c.expired(e, c.nowFn()) {
		delete(c.entries, key)
		var zero V
		return zero, time.Time{}, false
	}
	return e.value, e.insertedAt, true
}

// Evict removes key unconditionally.
func (c *TTLCache[V]) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len reports the number of stored entries, expired ones included.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep scans all entries and evicts the expired ones. Expiry is evaluated
// under the lock at removal time, so an entry refreshed by a concurrent Put
// is never swept.
func (c *TTLCache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFn()
	removed := 0
	for key, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on a fixed period until Stop is called. A single
// goroutine drives the ticker, so sweeps never overlap.
func (c *TTLCache[V]) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the background sweeper.
func (c *TTLCache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *TTLCache[V]) expired(e entry[V], now time.Time) bool {
	ttl := e.ttl
	if ttl <= 0 {
		ttl = c.ttl
	}
	return now.Sub(e.insertedAt) >= ttl
}
