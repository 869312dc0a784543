package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTTLCachePutGet(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLWithClock[string](time.Minute, clock.Now)

	c.Put("a", "one")
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "one", v)

	_, ok = c.Get("missing")
	require.False(t, ok)
}

func TestTTLCacheLazyEviction(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLWithClock[string](time.Minute, clock.Now)

	c.Put("a", "one")
	clock.Advance(time.Minute)

	_, ok := c.Get("a")
	require.False(t, ok)
	// lookup removed the expired entry
	require.Equal(t, 0, c.Len())
}

func TestTTLCachePutResetsAge(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLWithClock[string](time.Minute, clock.Now)

	c.Put("a", "one")
	clock.Advance(45 * time.Second)
	c.Put("a", "two")
	clock.Advance(45 * time.Second)

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "two", v)
}

func TestTTLCacheSwapKeepsAge(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLWithClock[int](time.Minute, clock.Now)

	c.Put("a", 1)
	clock.Advance(45 * time.Second)
	c.Swap("a", 2)
	clock.Advance(30 * time.Second)

	// 75s since the original Put: the swap did not extend the window.
	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestTTLCacheSwapOnExpiredStartsFresh(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLWithClock[int](time.Minute, clock.Now)

	c.Put("a", 1)
	clock.Advance(2 * time.Minute)
	c.Swap("a", 5)

	v, _, ok := c.GetEntry("a")
	require.True(t, ok)
	require.Equal(t, 5, v)
}

func TestTTLCacheUpdateKeepsAge(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLWithClock[int](time.Minute, clock.Now)

	c.Put("a", 1)
	clock.Advance(45 * time.Second)
	got := c.Update("a", func(v int, ok bool) int {
		require.True(t, ok)
		return v + 1
	})
	require.Equal(t, 2, got)
	clock.Advance(30 * time.Second)

	// 75s since the original Put: the update did not extend the window.
	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestTTLCacheUpdateOnExpiredStartsFresh(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLWithClock[int](time.Minute, clock.Now)

	c.Put("a", 7)
	clock.Advance(2 * time.Minute)
	got := c.Update("a", func(v int, ok bool) int {
		require.False(t, ok)
		require.Zero(t, v)
		return 1
	})
	require.Equal(t, 1, got)

	_, ok := c.Get("a")
	require.True(t, ok)
}

func TestTTLCacheUpdateCountsEveryConcurrentWrite(t *testing.T) {
	c := NewTTL[int](time.Minute)

	const goroutines = 8
	const perGoroutine = 1000

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < perGoroutine; j++ {
				c.Update("k", func(v int, _ bool) int { return v + 1 })
			}
		}()
	}
	close(start)
	wg.Wait()

	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, goroutines*perGoroutine, v)
}

func TestTTLCachePerEntryTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLWithClock[string](time.Hour, clock.Now)

	c.PutTTL("short", "x", 10*time.Second)
	c.Put("long", "y")
	clock.Advance(11 * time.Second)

	_, ok := c.Get("short")
	require.False(t, ok)
	_, ok = c.Get("long")
	require.True(t, ok)
}

func TestTTLCacheSweep(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLWithClock[int](time.Minute, clock.Now)

	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("old-%d", i), i)
	}
	clock.Advance(2 * time.Minute)
	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("new-%d", i), i)
	}

	removed := c.Sweep()
	require.Equal(t, 10, removed)
	require.Equal(t, 3, c.Len())
}

func TestTTLCacheEvictAndClear(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLWithClock[int](time.Minute, clock.Now)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Evict("a")
	_, ok := c.Get("a")
	require.False(t, ok)

	c.Clear()
	require.Equal(t, 0, c.Len())
}

func TestTTLCacheConcurrentAccess(t *testing.T) {
	c := NewTTL[int](time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k-%d", j%10)
				c.Put(key, n)
				c.Get(key)
				if j%50 == 0 {
					c.Sweep()
				}
			}
		}(i)
	}
	wg.Wait()

	// same-key read-after-write on a single goroutine
	c.Put("final", 42)
	v, ok := c.Get("final")
	require.True(t, ok)
	require.Equal(t, 42, v)
}
