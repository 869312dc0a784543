package cache

import "time"

// TokenBlacklist records access-token identifiers that must be rejected
// before their natural expiry, e.g. after logout. Each entry's TTL equals
// the token's remaining lifetime at revocation time, capped by baseTTL, so
// the denylist never outlives the tokens it revokes.
type TokenBlacklist struct {
	cache   *TTLCache[time.Time]
	baseTTL time.Duration
	nowFn   func() time.Time
}

// NewTokenBlacklist builds a blacklist with the given cap on entry TTLs.
// baseTTL is normally the access-token lifetime.
func NewTokenBlacklist(baseTTL time.Duration) *TokenBlacklist {
	return &TokenBlacklist{
		cache:   NewTTL[time.Time](baseTTL),
		baseTTL: baseTTL,
		nowFn:   time.Now,
	}
}

// NewTokenBlacklistWithClock is the test constructor.
func NewTokenBlacklistWithClock(baseTTL time.Duration, nowFn func() time.Time) *TokenBlacklist {
	b := NewTokenBlacklist(baseTTL)
	if nowFn != nil {
		b.nowFn = nowFn
		b.cache = NewTTLWithClock[time.Time](baseTTL, nowFn)
	}
	return b
}

// Revoke denylists tokenID for the token's remaining lifetime.
func (b *TokenBlacklist) Revoke(tokenID string, remaining time.Duration) {
	if remaining <= 0 {
		return
	}
	if remaining > b.baseTTL {
		remaining = b.baseTTL
	}
	b.cache.PutTTL(tokenID, b.nowFn(), remaining)
}

// IsRevoked reports whether tokenID is currently denylisted.
func (b *TokenBlacklist) IsRevoked(tokenID string) bool {
	_, ok := b.cache.Get(tokenID)
	return ok
}

// StartSweeper launches the periodic expiry sweep.
func (b *TokenBlacklist) StartSweeper(interval time.Duration) {
	b.cache.StartSweeper(interval)
}

// Stop terminates the sweeper.
func (b *TokenBlacklist) Stop() {
	b.cache.Stop()
}
