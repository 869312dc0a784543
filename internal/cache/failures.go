package cache

import "time"

// FailureTracker counts consecutive failed login attempts per identity
// within a rolling window. The window is anchored at the first failure:
// incrementing preserves the entry's original age, so five minutes after
// the first failure the record lapses and counting starts over.
type FailureTracker struct {
	cache *TTLCache[int]
}

// NewFailureTracker builds a tracker whose records expire after window.
func NewFailureTracker(window time.Duration) *FailureTracker {
	return &FailureTracker{cache: NewTTL[int](window)}
}

// NewFailureTrackerWithClock is the test constructor.
func NewFailureTrackerWithClock(window time.Duration, nowFn func() time.Time) *FailureTracker {
	return &FailureTracker{cache: NewTTLWithClock[int](window, nowFn)}
}

// RecordFailure registers one failed attempt for key and returns the
// running count. The increment runs under a single cache lock, so
// concurrent failures for the same key are all counted.
func (t *FailureTracker) RecordFailure(key string) int {
	return t.cache.Update(key, func(count int, _ bool) int {
		return count + 1
	})
}

// Count returns the current failure count without recording an attempt.
func (t *FailureTracker) Count(key string) int {
	count, _ := t.cache.Get(key)
	return count
}

// Reset clears the record for key, typically after a successful login.
func (t *FailureTracker) Reset(key string) {
	t.cache.Evict(key)
}

// StartSweeper launches the periodic expiry sweep.
func (t *FailureTracker) StartSweeper(interval time.Duration) {
	t.cache.StartSweeper(interval)
}

// Stop terminates the sweeper.
func (t *FailureTracker) Stop() {
	t.cache.Stop()
}
