package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/cache"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// AuthService orchestrates login, refresh and logout. It owns the lockout
// policy and the refresh-token rotation; the caches it consults are
// constructed once and shared with the gate and the member service.
type AuthService struct {
	members          repository.MemberRepository
	tokens           *auth.TokenManager
	failures         *cache.FailureTracker
	lockouts         *cache.LockoutCache
	blacklist        *cache.TokenBlacklist
	bcryptCost       int
	lockoutThreshold int
	logger           *zap.Logger
	nowFn            func() time.Time
}

// AuthDependencies bundles the auth service requirements.
type AuthDependencies struct {
	MemberRepo repository.MemberRepository
	Tokens     *auth.TokenManager
	Failures   *cache.FailureTracker
	Lockouts   *cache.LockoutCache
	Blacklist  *cache.TokenBlacklist
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies, logger *zap.Logger) *AuthService {
	return &AuthService{
		members:          deps.MemberRepo,
		tokens:           deps.Tokens,
		failures:         deps.Failures,
		lockouts:         deps.Lockouts,
		blacklist:        deps.Blacklist,
		bcryptCost:       cfg.BcryptCost,
		lockoutThreshold: cfg.LockoutThreshold,
		logger:           logger,
		nowFn:            time.Now,
	}
}

// WithClock overrides the service clock for tests.
func (s *AuthService) WithClock(nowFn func() time.Time) *AuthService {
	if nowFn != nil {
		s.nowFn = nowFn
	}
	return s
}

// LoginResult carries everything the login endpoint returns.
type LoginResult struct {
	Member             *domain.Member
	AccessToken        string
	AccessExpiresAt    time.Time
	RefreshToken       string
	PasswordResetToken string
}

// RefreshResult carries the rotated token pair.
type RefreshResult struct {
	AccessToken        string
	AccessExpiresAt    time.Time
	RefreshToken       string
	PasswordResetToken string
}

// Login authenticates a member. The lockout cache is consulted before the
// password is ever touched; a failed attempt is counted by the tracker and,
// at the threshold, converts into a lockout entry.
func (s *AuthService) Login(ctx context.Context, username, password, clientIP string) (*LoginResult, error) {
	key := failureKey(username, clientIP)

	if remaining, blocked := s.lockouts.Remaining(key); blocked {
		return nil, apperrors.NewBlocked(int64(remaining.Seconds()))
	}

	member, err := s.members.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.recordFailure(key, username)
		}
		return nil, apperrors.MapError(err)
	}
	if !member.Active() {
		return nil, s.recordFailure(key, username)
	}
	if err := auth.ComparePassword(member.PasswordHash, password); err != nil {
		return nil, s.recordFailure(key, username)
	}

	s.failures.Reset(key)

	accessToken, claims, err := s.tokens.GenerateAccessToken(member)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	refreshToken, err := s.tokens.GenerateRefreshToken(member.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if err := s.members.SetRefreshToken(ctx, member.ID, &refreshToken); err != nil {
		return nil, apperrors.MapError(err)
	}

	result := &LoginResult{
		Member:          member,
		AccessToken:     accessToken,
		AccessExpiresAt: claims.ExpiresAt.Time,
		RefreshToken:    refreshToken,
	}
	if member.PasswordChangedAt == nil {
		resetToken, err := s.tokens.GenerateResetToken(member.ID)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		result.PasswordResetToken = resetToken
	}

	s.logger.Info("member logged in", zap.String("member_id", member.ID), zap.String("username", username))
	return result, nil
}

// Refresh validates the presented refresh token and rotates it. Validity
// requires signature, expiry and an exact match against the single value
// stored on the member; rotation is a conditional update guarded by the
// old value, so concurrent refreshes with the same token produce exactly
// one winner.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	memberID, err := s.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, apperrors.NewInvalidRefreshToken()
	}

	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewInvalidRefreshToken()
		}
		return nil, apperrors.MapError(err)
	}
	if !member.Active() {
		return nil, apperrors.NewInvalidRefreshToken()
	}
	if member.RefreshToken == nil || *member.RefreshToken != refreshToken {
		// a rotated-out token is being replayed
		return nil, apperrors.NewInvalidRefreshToken()
	}

	newRefresh, err := s.tokens.GenerateRefreshToken(member.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if err := s.members.RotateRefreshToken(ctx, member.ID, refreshToken, newRefresh); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// another refresh won the rotation between our read and write
			return nil, apperrors.NewInvalidRefreshToken()
		}
		return nil, apperrors.MapError(err)
	}

	accessToken, claims, err := s.tokens.GenerateAccessToken(member)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	result := &RefreshResult{
		AccessToken:     accessToken,
		AccessExpiresAt: claims.ExpiresAt.Time,
		RefreshToken:    newRefresh,
	}
	if member.PasswordChangedAt == nil {
		resetToken, err := s.tokens.GenerateResetToken(member.ID)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		result.PasswordResetToken = resetToken
	}
	return result, nil
}

// Logout blacklists the presented access token for its remaining lifetime
// and clears the stored refresh token so the session dies on both sides.
func (s *AuthService) Logout(ctx context.Context, memberID, tokenID string, tokenExpiresAt time.Time) error {
	s.blacklist.Revoke(tokenID, tokenExpiresAt.Sub(s.nowFn()))
	if err := s.members.SetRefreshToken(ctx, memberID, nil); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return apperrors.MapError(err)
	}
	s.logger.Info("member logged out", zap.String("member_id", memberID))
	return nil
}

// Register creates a new member account. The password-changed marker stays
// unset until the first password change, which makes login hand out a
// reset token.
func (s *AuthService) Register(ctx context.Context, username, name, password string, role domain.Role) (*domain.Member, error) {
	if _, err := s.members.GetByUsername(ctx, username); err == nil {
		return nil, apperrors.NewConflict("username already registered", nil)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.MapError(err)
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	member := &domain.Member{
		Username:     username,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.members.Create(ctx, member); err != nil {
		return nil, apperrors.MapError(err)
	}
	return member, nil
}

// ChangePassword verifies the current password before storing a new hash.
func (s *AuthService) ChangePassword(ctx context.Context, memberID, currentPassword, newPassword string) error {
	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if err := auth.ComparePassword(member.PasswordHash, currentPassword); err != nil {
		return apperrors.NewInvalidCredentials()
	}
	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.MapError(err)
	}
	return apperrors.MapError(s.members.SetPassword(ctx, memberID, hash))
}

// ResetPassword consumes a reset token to force the first password change.
// Single use rides on password_changed_at: once set, login stops issuing
// reset tokens and this path rejects.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	memberID, err := s.tokens.ParseResetToken(resetToken)
	if err != nil {
		return apperrors.NewInvalidToken()
	}
	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if member.PasswordChangedAt != nil {
		return apperrors.NewInvalidToken()
	}
	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.MapError(err)
	}
	return apperrors.MapError(s.members.SetPassword(ctx, memberID, hash))
}

func (s *AuthService) recordFailure(key, username string) error {
	count := s.failures.RecordFailure(key)
	if count >= s.lockoutThreshold {
		s.lockouts.Block(key)
		s.failures.Reset(key)
		s.logger.Warn("login lockout triggered", zap.String("username", username), zap.Int("failures", count))
	}
	return apperrors.NewInvalidCredentials()
}

func failureKey(username, clientIP string) string {
	if clientIP == "" {
		return username
	}
	return username + "|" + clientIP
}
