package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFailureTrackerCountsWithinWindow(t *testing.T) {
	clock := newFakeClock()
	tracker := NewFailureTrackerWithClock(5*time.Minute, clock.Now)

	for i := 1; i <= 5; i++ {
		require.Equal(t, i, tracker.RecordFailure("alice|10.0.0.1"))
	}
	require.Equal(t, 5, tracker.Count("alice|10.0.0.1"))
	require.Equal(t, 0, tracker.Count("bob|10.0.0.1"))
}

func TestFailureTrackerWindowAnchoredAtFirstFailure(t *testing.T) {
	clock := newFakeClock()
	tracker := NewFailureTrackerWithClock(5*time.Minute, clock.Now)

	tracker.RecordFailure("alice")
	clock.Advance(4 * time.Minute)
	require.Equal(t, 2, tracker.RecordFailure("alice"))

	// the second failure did not extend the window
	clock.Advance(time.Minute)
	require.Equal(t, 1, tracker.RecordFailure("alice"))
}

func TestFailureTrackerConcurrentFailuresAllCounted(t *testing.T) {
	tracker := NewFailureTracker(5 * time.Minute)

	const goroutines = 8
	const perGoroutine = 500

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < perGoroutine; j++ {
				tracker.RecordFailure("alice|10.0.0.1")
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, goroutines*perGoroutine, tracker.Count("alice|10.0.0.1"))
}

func TestFailureTrackerReset(t *testing.T) {
	clock := newFakeClock()
	tracker := NewFailureTrackerWithClock(5*time.Minute, clock.Now)

	tracker.RecordFailure("alice")
	tracker.RecordFailure("alice")
	tracker.Reset("alice")
	require.Equal(t, 1, tracker.RecordFailure("alice"))
}

func TestLockoutCacheRemaining(t *testing.T) {
	clock := newFakeClock()
	lockouts := NewLockoutCacheWithClock(30*time.Minute, clock.Now)

	_, blocked := lockouts.Remaining("alice")
	require.False(t, blocked)

	lockouts.Block("alice")
	remaining, blocked := lockouts.Remaining("alice")
	require.True(t, blocked)
	require.Equal(t, 30*time.Minute, remaining)

	clock.Advance(10 * time.Minute)
	remaining, blocked = lockouts.Remaining("alice")
	require.True(t, blocked)
	require.Equal(t, 20*time.Minute, remaining)
}

func TestLockoutCacheAutoUnblocks(t *testing.T) {
	clock := newFakeClock()
	lockouts := NewLockoutCacheWithClock(30*time.Minute, clock.Now)

	lockouts.Block("alice")
	clock.Advance(30 * time.Minute)
	_, blocked := lockouts.Remaining("alice")
	require.False(t, blocked)
}

func TestTokenBlacklistTTLMatchesRemainingLifetime(t *testing.T) {
	clock := newFakeClock()
	blacklist := NewTokenBlacklistWithClock(time.Hour, clock.Now)

	blacklist.Revoke("jti-1", 10*time.Minute)
	require.True(t, blacklist.IsRevoked("jti-1"))

	clock.Advance(10 * time.Minute)
	require.False(t, blacklist.IsRevoked("jti-1"))
}

func TestTokenBlacklistCapsAtBaseTTL(t *testing.T) {
	clock := newFakeClock()
	blacklist := NewTokenBlacklistWithClock(time.Hour, clock.Now)

	blacklist.Revoke("jti-1", 5*time.Hour)
	clock.Advance(time.Hour)
	require.False(t, blacklist.IsRevoked("jti-1"))
}

func TestTokenBlacklistIgnoresExpiredTokens(t *testing.T) {
	clock := newFakeClock()
	blacklist := NewTokenBlacklistWithClock(time.Hour, clock.Now)

	blacklist.Revoke("jti-1", 0)
	blacklist.Revoke("jti-2", -time.Minute)
	require.False(t, blacklist.IsRevoked("jti-1"))
	require.False(t, blacklist.IsRevoked("jti-2"))
}

func TestStaleClaimRegistryOnlyFlagsOlderTokens(t *testing.T) {
	clock := newFakeClock()
	registry := NewStaleClaimRegistryWithClock(time.Hour, clock.Now)

	issuedBefore := clock.Now()
	clock.Advance(time.Second)
	registry.Flag("member-1")
	clock.Advance(time.Second)
	issuedAfter := clock.Now()

	require.True(t, registry.FlaggedSince("member-1", issuedBefore))
	require.False(t, registry.FlaggedSince("member-1", issuedAfter))
	require.False(t, registry.FlaggedSince("member-2", issuedBefore))
}

func TestStaleClaimRegistryFlagExpires(t *testing.T) {
	clock := newFakeClock()
	registry := NewStaleClaimRegistryWithClock(time.Hour, clock.Now)

	issued := clock.Now().Add(-time.Minute)
	registry.Flag("member-1")
	clock.Advance(time.Hour)
	require.False(t, registry.FlaggedSince("member-1", issued))
}
