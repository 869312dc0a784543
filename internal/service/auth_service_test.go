package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/cache"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
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

// memoryMemberRepo is an in-memory MemberRepository with the same
// not-found and rotation-guard semantics as the Postgres implementation.
type memoryMemberRepo struct {
	mu      sync.Mutex
	nextID  int
	members map[string]*domain.Member
	nowFn   func() time.Time
}

func newMemoryMemberRepo(nowFn func() time.Time) *memoryMemberRepo {
	return &memoryMemberRepo{members: map[string]*domain.Member{}, nowFn: nowFn}
}

func cloneMember(m *domain.Member) *domain.Member {
	out := *m
	if m.RefreshToken != nil {
		token := *m.RefreshToken
		out.RefreshToken = &token
	}
	if m.PasswordChangedAt != nil {
		at := *m.PasswordChangedAt
		out.PasswordChangedAt = &at
	}
	if m.DeactivatedAt != nil {
		at := *m.DeactivatedAt
		out.DeactivatedAt = &at
	}
	return &out
}

func (r *memoryMemberRepo) Create(_ context.Context, member *domain.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.members {
		if existing.Username == member.Username {
			return fmt.Errorf("duplicate username %q", member.Username)
		}
	}
	r.nextID++
	member.ID = fmt.Sprintf("m-%d", r.nextID)
	member.CreatedAt = r.nowFn()
	member.UpdatedAt = member.CreatedAt
	r.members[member.ID] = cloneMember(member)
	return nil
}

func (r *memoryMemberRepo) Update(_ context.Context, member *domain.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.members[member.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	stored.Name = member.Name
	stored.ProfilePic = member.ProfilePic
	stored.UpdatedAt = r.nowFn()
	return nil
}

func (r *memoryMemberRepo) GetByID(_ context.Context, id string) (*domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.members[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return cloneMember(stored), nil
}

func (r *memoryMemberRepo) GetByUsername(_ context.Context, username string) (*domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.members {
		if stored.Username == username {
			return cloneMember(stored), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memoryMemberRepo) SetRefreshToken(_ context.Context, id string, token *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.members[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if token != nil {
		value := *token
		stored.RefreshToken = &value
	} else {
		stored.RefreshToken = nil
	}
	stored.UpdatedAt = r.nowFn()
	return nil
}

func (r *memoryMemberRepo) RotateRefreshToken(_ context.Context, id, oldToken, newToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.members[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if stored.RefreshToken == nil || *stored.RefreshToken != oldToken {
		return pgx.ErrNoRows
	}
	stored.RefreshToken = &newToken
	stored.UpdatedAt = r.nowFn()
	return nil
}

func (r *memoryMemberRepo) SetPassword(_ context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.members[id]
	if !ok {
		return pgx.ErrNoRows
	}
	now := r.nowFn()
	stored.PasswordHash = passwordHash
	stored.PasswordChangedAt = &now
	stored.UpdatedAt = now
	return nil
}

func (r *memoryMemberRepo) SetRole(_ context.Context, id string, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.members[id]
	if !ok {
		return pgx.ErrNoRows
	}
	stored.Role = role
	stored.UpdatedAt = r.nowFn()
	return nil
}

func (r *memoryMemberRepo) SetDeactivated(_ context.Context, id string, deactivated bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.members[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if deactivated {
		now := r.nowFn()
		stored.DeactivatedAt = &now
	} else {
		stored.DeactivatedAt = nil
	}
	stored.UpdatedAt = r.nowFn()
	return nil
}

type authFixture struct {
	clock        *fakeClock
	repo         *memoryMemberRepo
	tokens       *auth.TokenManager
	failures     *cache.FailureTracker
	lockouts     *cache.LockoutCache
	blacklist    *cache.TokenBlacklist
	roleChanges  *cache.StaleClaimRegistry
	deactivation *cache.StaleClaimRegistry
	gate         *auth.Gate
	svc          *AuthService
	members      *MemberService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	clock := newFakeClock()
	repo := newMemoryMemberRepo(clock.Now)
	tokens := auth.NewTokenManagerWithClock("test-secret", time.Hour, 7*24*time.Hour, 5*time.Minute, clock.Now)
	failures := cache.NewFailureTrackerWithClock(5*time.Minute, clock.Now)
	lockouts := cache.NewLockoutCacheWithClock(30*time.Minute, clock.Now)
	blacklist := cache.NewTokenBlacklistWithClock(time.Hour, clock.Now)
	roleChanges := cache.NewStaleClaimRegistryWithClock(time.Hour, clock.Now)
	deactivation := cache.NewStaleClaimRegistryWithClock(time.Hour, clock.Now)

	logger := zap.NewNop()
	cfg := config.AuthConfig{BcryptCost: bcrypt.MinCost, LockoutThreshold: 5}
	svc := NewAuthService(cfg, AuthDependencies{
		MemberRepo: repo,
		Tokens:     tokens,
		Failures:   failures,
		Lockouts:   lockouts,
		Blacklist:  blacklist,
	}, logger).WithClock(clock.Now)

	return &authFixture{
		clock:        clock,
		repo:         repo,
		tokens:       tokens,
		failures:     failures,
		lockouts:     lockouts,
		blacklist:    blacklist,
		roleChanges:  roleChanges,
		deactivation: deactivation,
		gate:         auth.NewGate(tokens, blacklist, roleChanges, deactivation),
		svc:          svc,
		members:      NewMemberService(repo, roleChanges, deactivation, events.NewInMemoryDispatcher(logger), logger),
	}
}

// seedMember stores a member with the given password. When changedPassword
// is true the password-changed marker is set, so login does not hand out a
// reset token.
func (f *authFixture) seedMember(t *testing.T, username, password string, changedPassword bool) *domain.Member {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	member := &domain.Member{
		Username:     username,
		Name:         username,
		PasswordHash: string(hash),
		Role:         domain.RoleMember,
	}
	require.NoError(t, f.repo.Create(context.Background(), member))
	if changedPassword {
		require.NoError(t, f.repo.SetPassword(context.Background(), member.ID, string(hash)))
	}
	return member
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apperrors.ToDomainError(err).Code)
}

func TestLoginReturnsTokenPair(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seeded := f.seedMember(t, "alice", "correct1!", true)

	result, err := f.svc.Login(ctx, "alice", "correct1!", "203.0.113.7")
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)
	require.Empty(t, result.PasswordResetToken)
	require.Equal(t, f.clock.Now().Add(time.Hour), result.AccessExpiresAt)

	claims, err := f.gate.Check(result.AccessToken)
	require.NoError(t, err)
	require.Equal(t, seeded.ID, claims.Subject)
	require.Equal(t, "alice", claims.Username)

	stored, err := f.repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshToken)
	require.Equal(t, result.RefreshToken, *stored.RefreshToken)
}

func TestLoginIssuesResetTokenOnInitialPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.seedMember(t, "bob", "initial1!", false)

	result, err := f.svc.Login(ctx, "bob", "initial1!", "")
	require.NoError(t, err)
	require.NotEmpty(t, result.PasswordResetToken)

	require.NoError(t, f.svc.ResetPassword(ctx, result.PasswordResetToken, "chosen2!"))

	// the marker is set now: the token is spent and login stops issuing one
	requireCode(t, f.svc.ResetPassword(ctx, result.PasswordResetToken, "again3!"), "INVALID_TOKEN")
	result, err = f.svc.Login(ctx, "bob", "chosen2!", "")
	require.NoError(t, err)
	require.Empty(t, result.PasswordResetToken)
}

func TestResetPasswordRejectsOtherTokenFamilies(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.seedMember(t, "bob", "initial1!", false)

	login, err := f.svc.Login(ctx, "bob", "initial1!", "")
	require.NoError(t, err)

	// neither the refresh token nor the access token opens the reset path
	requireCode(t, f.svc.ResetPassword(ctx, login.RefreshToken, "chosen2!"), "INVALID_TOKEN")
	requireCode(t, f.svc.ResetPassword(ctx, login.AccessToken, "chosen2!"), "INVALID_TOKEN")

	// the real reset token still works
	require.NoError(t, f.svc.ResetPassword(ctx, login.PasswordResetToken, "chosen2!"))
}

func TestResetTokenExpires(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.seedMember(t, "bob", "initial1!", false)

	result, err := f.svc.Login(ctx, "bob", "initial1!", "")
	require.NoError(t, err)

	f.clock.Advance(5*time.Minute + time.Second)
	requireCode(t, f.svc.ResetPassword(ctx, result.PasswordResetToken, "chosen2!"), "INVALID_TOKEN")
}

func TestLoginWrongPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seeded := f.seedMember(t, "alice", "correct1!", true)

	_, err := f.svc.Login(ctx, "alice", "wrong", "203.0.113.7")
	requireCode(t, err, "INVALID_CREDENTIALS")

	stored, err := f.repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	require.Nil(t, stored.RefreshToken)
}

func TestLoginDeactivatedMember(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seeded := f.seedMember(t, "alice", "correct1!", true)
	require.NoError(t, f.repo.SetDeactivated(ctx, seeded.ID, true))

	_, err := f.svc.Login(ctx, "alice", "correct1!", "")
	requireCode(t, err, "INVALID_CREDENTIALS")
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.seedMember(t, "alice", "correct1!", true)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, "alice", "wrong", "203.0.113.7")
		requireCode(t, err, "INVALID_CREDENTIALS")
	}

	// the correct password no longer helps
	_, err := f.svc.Login(ctx, "alice", "correct1!", "203.0.113.7")
	requireCode(t, err, "BLOCKED")
	retry, ok := apperrors.ToDomainError(err).Details["retry_after_seconds"].(int64)
	require.True(t, ok)
	require.Greater(t, retry, int64(0))
	require.LessOrEqual(t, retry, int64(30*60))

	// a different client IP keys a different counter
	_, err = f.svc.Login(ctx, "alice", "correct1!", "198.51.100.9")
	require.NoError(t, err)
}

func TestLockoutClearsAfterDuration(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.seedMember(t, "alice", "correct1!", true)

	for i := 0; i < 5; i++ {
		_, _ = f.svc.Login(ctx, "alice", "wrong", "")
	}
	_, err := f.svc.Login(ctx, "alice", "correct1!", "")
	requireCode(t, err, "BLOCKED")

	f.clock.Advance(30*time.Minute + time.Second)
	_, err = f.svc.Login(ctx, "alice", "correct1!", "")
	require.NoError(t, err)
}

func TestUnknownUsernameCountsTowardLockout(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, "ghost", "whatever", "203.0.113.7")
		requireCode(t, err, "INVALID_CREDENTIALS")
	}
	_, err := f.svc.Login(ctx, "ghost", "whatever", "203.0.113.7")
	requireCode(t, err, "BLOCKED")
}

func TestSuccessResetsFailureCount(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.seedMember(t, "alice", "correct1!", true)

	for i := 0; i < 4; i++ {
		_, _ = f.svc.Login(ctx, "alice", "wrong", "")
	}
	_, err := f.svc.Login(ctx, "alice", "correct1!", "")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, _ = f.svc.Login(ctx, "alice", "wrong", "")
	}
	_, err = f.svc.Login(ctx, "alice", "correct1!", "")
	require.NoError(t, err)
}

func TestFailureWindowExpires(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.seedMember(t, "alice", "correct1!", true)

	for i := 0; i < 4; i++ {
		_, _ = f.svc.Login(ctx, "alice", "wrong", "")
	}
	f.clock.Advance(5*time.Minute + time.Second)
	for i := 0; i < 4; i++ {
		_, _ = f.svc.Login(ctx, "alice", "wrong", "")
	}
	_, err := f.svc.Login(ctx, "alice", "correct1!", "")
	require.NoError(t, err)
}

func TestRefreshRotatesToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seeded := f.seedMember(t, "alice", "correct1!", true)

	login, err := f.svc.Login(ctx, "alice", "correct1!", "")
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	refreshed, err := f.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, refreshed.AccessToken)
	require.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	stored, err := f.repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	require.Equal(t, refreshed.RefreshToken, *stored.RefreshToken)

	// the rotated-out token is single use
	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	requireCode(t, err, "INVALID_REFRESH_TOKEN")

	// the replacement still works
	_, err = f.svc.Refresh(ctx, refreshed.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshRejectsBadTokens(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.seedMember(t, "alice", "correct1!", true)

	_, err := f.svc.Refresh(ctx, "garbage")
	requireCode(t, err, "INVALID_REFRESH_TOKEN")

	login, err := f.svc.Login(ctx, "alice", "correct1!", "")
	require.NoError(t, err)

	f.clock.Advance(7*24*time.Hour + time.Second)
	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	requireCode(t, err, "INVALID_REFRESH_TOKEN")
}

func TestRefreshDeactivatedMember(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seeded := f.seedMember(t, "alice", "correct1!", true)

	login, err := f.svc.Login(ctx, "alice", "correct1!", "")
	require.NoError(t, err)
	require.NoError(t, f.repo.SetDeactivated(ctx, seeded.ID, true))

	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	requireCode(t, err, "INVALID_REFRESH_TOKEN")
}

func TestLogoutRevokesSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seeded := f.seedMember(t, "alice", "correct1!", true)

	login, err := f.svc.Login(ctx, "alice", "correct1!", "")
	require.NoError(t, err)
	claims, err := f.gate.Check(login.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, seeded.ID, claims.ID, claims.ExpiresAt.Time))

	_, err = f.gate.Check(login.AccessToken)
	requireCode(t, err, "REVOKED_TOKEN")

	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	requireCode(t, err, "INVALID_REFRESH_TOKEN")

	// past its natural expiry the token is expired, not revoked
	f.clock.Advance(time.Hour + time.Second)
	_, err = f.gate.Check(login.AccessToken)
	requireCode(t, err, "EXPIRED_TOKEN")
}

func TestRoleChangeInvalidatesOutstandingTokens(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seeded := f.seedMember(t, "alice", "correct1!", true)

	login, err := f.svc.Login(ctx, "alice", "correct1!", "")
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	require.NoError(t, f.members.ChangeRole(ctx, "admin-1", seeded.ID, domain.RoleManager))

	_, err = f.gate.Check(login.AccessToken)
	requireCode(t, err, "STALE_CLAIMS")

	// a fresh login carries the new role and passes the gate
	relogin, err := f.svc.Login(ctx, "alice", "correct1!", "")
	require.NoError(t, err)
	claims, err := f.gate.Check(relogin.AccessToken)
	require.NoError(t, err)
	require.Equal(t, domain.RoleManager, claims.Role)
}

func TestRoleChangeToSameRoleIsNoOp(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seeded := f.seedMember(t, "alice", "correct1!", true)

	login, err := f.svc.Login(ctx, "alice", "correct1!", "")
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	require.NoError(t, f.members.ChangeRole(ctx, "admin-1", seeded.ID, domain.RoleMember))

	_, err = f.gate.Check(login.AccessToken)
	require.NoError(t, err)
}

func TestDeactivationInvalidatesOutstandingTokens(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seeded := f.seedMember(t, "alice", "correct1!", true)

	login, err := f.svc.Login(ctx, "alice", "correct1!", "")
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	require.NoError(t, f.members.Deactivate(ctx, "admin-1", seeded.ID))

	_, err = f.gate.Check(login.AccessToken)
	requireCode(t, err, "STALE_CLAIMS")
	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	requireCode(t, err, "INVALID_REFRESH_TOKEN")
	_, err = f.svc.Login(ctx, "alice", "correct1!", "")
	requireCode(t, err, "INVALID_CREDENTIALS")

	// reactivation flags again: pre-reactivation tokens stay stale but a
	// fresh login works
	f.clock.Advance(time.Second)
	require.NoError(t, f.members.Reactivate(ctx, "admin-1", seeded.ID))
	_, err = f.gate.Check(login.AccessToken)
	requireCode(t, err, "STALE_CLAIMS")
	_, err = f.svc.Login(ctx, "alice", "correct1!", "")
	require.NoError(t, err)
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice", "Alice", "secret1!", domain.RoleMember)
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, "alice", "Other Alice", "secret2!", domain.RoleMember)
	requireCode(t, err, "CONFLICT")
}

func TestChangePasswordVerifiesCurrent(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seeded := f.seedMember(t, "alice", "correct1!", true)

	requireCode(t, f.svc.ChangePassword(ctx, seeded.ID, "wrong", "next2!"), "INVALID_CREDENTIALS")
	require.NoError(t, f.svc.ChangePassword(ctx, seeded.ID, "correct1!", "next2!"))

	_, err := f.svc.Login(ctx, "alice", "next2!", "")
	require.NoError(t, err)
}
