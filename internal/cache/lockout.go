package cache

import "time"

// LockoutCache records identities that are temporarily blocked from
// logging in. An entry auto-expires after the lockout duration; there is
// no administrative unblock.
type LockoutCache struct {
	cache    *TTLCache[time.Time]
	duration time.Duration
	nowFn    func() time.Time
}

// NewLockoutCache builds a cache whose blocks last duration.
func NewLockoutCache(duration time.Duration) *LockoutCache {
	return &LockoutCache{
		cache:    NewTTL[time.Time](duration),
		duration: duration,
		nowFn:    time.Now,
	}
}

// NewLockoutCacheWithClock is the test constructor.
func NewLockoutCacheWithClock(duration time.Duration, nowFn func() time.Time) *LockoutCache {
	c := NewLockoutCache(duration)
	if nowFn != nil {
		c.nowFn = nowFn
		c.cache = NewTTLWithClock[time.Time](duration, nowFn)
	}
	return c
}

// Block marks key as locked out starting now.
func (l *LockoutCache) Block(key string) {
	l.cache.Put(key, l.nowFn())
}

// Remaining reports whether key is blocked and, if so, how long until the
// block lapses.
func (l *LockoutCache) Remaining(key string) (time.Duration, bool) {
	blockedAt, _, ok := l.cache.GetEntry(key)
	if !ok {
		return 0, false
	}
	remaining := blockedAt.Add(l.duration).Sub(l.nowFn())
	if remaining <= 0 {
		l.cache.Evict(key)
		return 0, false
	}
	return remaining, true
}

// StartSweeper launches the periodic expiry sweep.
func (l *LockoutCache) StartSweeper(interval time.Duration) {
	l.cache.StartSweeper(interval)
}

// Stop terminates the sweeper.
func (l *LockoutCache) Stop() {
	l.cache.Stop()
}
