package cache

import "time"

// StaleClaimRegistry flags identities whose cached token claims no longer
// match the source of truth (role changed, account deactivated or
// reactivated). A flag carries its set-time: only tokens issued before the
// flag was set are stale, so a fresh login is unaffected by a past change
// while a change landing right after a login still invalidates that
// login's token.
type StaleClaimRegistry struct {
	cache *TTLCache[struct{}]
}

// NewStaleClaimRegistry builds a registry whose flags lapse after ttl
// (bounded by the access-token lifetime; older tokens have expired anyway).
func NewStaleClaimRegistry(ttl time.Duration) *StaleClaimRegistry {
	return &StaleClaimRegistry{cache: NewTTL[struct{}](ttl)}
}

// NewStaleClaimRegistryWithClock is the test constructor.
func NewStaleClaimRegistryWithClock(ttl time.Duration, nowFn func() time.Time) *StaleClaimRegistry {
	return &StaleClaimRegistry{cache: NewTTLWithClock[struct{}](ttl, nowFn)}
}

// Flag marks memberID as having stale claims from now on.
func (r *StaleClaimRegistry) Flag(memberID string) {
	r.cache.Put(memberID, struct{}{})
}

// FlaggedSince reports whether a token issued at issuedAt for memberID
// carries stale claims.
func (r *StaleClaimRegistry) FlaggedSince(memberID string, issuedAt time.Time) bool {
	_, flaggedAt, ok := r.cache.GetEntry(memberID)
	if !ok {
		return false
	}
	return issuedAt.Before(flaggedAt)
}

// StartSweeper launches the periodic expiry sweep.
func (r *StaleClaimRegistry) StartSweeper(interval time.Duration) {
	r.cache.StartSweeper(interval)
}

// Stop terminates the sweeper.
func (r *StaleClaimRegistry) Stop() {
	r.cache.Stop()
}
