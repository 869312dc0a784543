package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Token validation failures surfaced to the gate and the auth flows.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// TokenManager issues and validates the three token families: access
// tokens carrying member claims, opaque refresh tokens, and short-lived
// password-reset tokens.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
	nowFn      func() time.Time
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, accessTTL, refreshTTL, resetTTL time.Duration) *TokenManager {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	if resetTTL <= 0 {
		resetTTL = 5 * time.Minute
	}
	return &TokenManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		resetTTL:   resetTTL,
		nowFn:      time.Now,
	}
}

// NewTokenManagerWithClock is the test constructor.
func NewTokenManagerWithClock(secret string, accessTTL, refreshTTL, resetTTL time.Duration, nowFn func() time.Time) *TokenManager {
	tm := NewTokenManager(secret, accessTTL, refreshTTL, resetTTL)
	if nowFn != nil {
		tm.nowFn = nowFn
	}
	return tm
}

// AccessClaims describes the access-token JWT payload. Claims are frozen
// at issue time; the stale-claim registries cover later record changes.
type AccessClaims struct {
	Username   string           `json:"username"`
	Role       domain.Role      `json:"role"`
	ProfilePic string           `json:"profile_pic,omitempty"`
	Kind       domain.TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	Kind domain.TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

type resetClaims struct {
	Kind domain.TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// kindClaims lets parse verify the token family after signature checks.
// All three families sign with the same secret; without the kind claim a
// long-lived refresh token would pass as a 5-minute reset token.
type kindClaims interface {
	jwt.Claims
	tokenKind() domain.TokenKind
}

func (c *AccessClaims) tokenKind() domain.TokenKind { return c.Kind }

func (c *refreshClaims) tokenKind() domain.TokenKind { return c.Kind }

func (c *resetClaims) tokenKind() domain.TokenKind { return c.Kind }

// AccessTTL returns the configured access-token lifetime.
func (tm *TokenManager) AccessTTL() time.Duration {
	return tm.accessTTL
}

// RefreshTTL returns the configured refresh-token lifetime.
func (tm *TokenManager) RefreshTTL() time.Duration {
	return tm.refreshTTL
}

// GenerateAccessToken builds and signs an access token for the member.
func (tm *TokenManager) GenerateAccessToken(member *domain.Member) (string, *AccessClaims, error) {
	now := tm.nowFn()
	claims := &AccessClaims{
		Username:   member.Username,
		Role:       member.Role,
		ProfilePic: member.ProfilePic,
		Kind:       domain.TokenKindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   member.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.accessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// ParseAccessToken validates signature and expiry and returns the claims.
// An expired-but-well-formed token yields ErrExpiredToken; every other
// failure yields ErrInvalidToken.
func (tm *TokenManager) ParseAccessToken(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := tm.parse(tokenStr, claims, domain.TokenKindAccess); err != nil {
		return nil, err
	}
	return claims, nil
}

// GenerateRefreshToken builds a signed opaque token carrying no business
// claims beyond its own expiry.
func (tm *TokenManager) GenerateRefreshToken(memberID string) (string, error) {
	now := tm.nowFn()
	claims := &refreshClaims{
		Kind: domain.TokenKindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   memberID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.refreshTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
}

// ParseRefreshToken verifies a refresh token and returns its subject.
// Matching against the member's stored value is the caller's job.
func (tm *TokenManager) ParseRefreshToken(tokenStr string) (string, error) {
	claims := &refreshClaims{}
	if err := tm.parse(tokenStr, claims, domain.TokenKindRefresh); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// GenerateResetToken builds the short-lived password-reset token issued
// while the member has never changed the initial password.
func (tm *TokenManager) GenerateResetToken(memberID string) (string, error) {
	now := tm.nowFn()
	claims := &resetClaims{
		Kind: domain.TokenKindPasswordReset,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   memberID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.resetTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
}

// ParseResetToken verifies a reset token and returns its subject.
func (tm *TokenManager) ParseResetToken(tokenStr string) (string, error) {
	claims := &resetClaims{}
	if err := tm.parse(tokenStr, claims, domain.TokenKindPasswordReset); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (tm *TokenManager) parse(tokenStr string, claims kindClaims, want domain.TokenKind) error {
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	}, jwt.WithTimeFunc(tm.nowFn))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	if claims.tokenKind() != want {
		return ErrInvalidToken
	}
	return nil
}
