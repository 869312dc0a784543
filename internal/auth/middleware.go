package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/cache"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller, built from token claims
// alone; the gate never consults the member store.
type Principal struct {
	MemberID   string
	Username   string
	Role       domain.Role
	ProfilePic string
	TokenID    string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Gate validates bearer tokens: signature, expiry, revocation, then stale
// claims. Order matters; a revoked token must not be reported as stale.
type Gate struct {
	tokens       *TokenManager
	blacklist    *cache.TokenBlacklist
	roleChanges  *cache.StaleClaimRegistry
	deactivation *cache.StaleClaimRegistry
}

// NewGate constructs the gate middleware.
func NewGate(tokens *TokenManager, blacklist *cache.TokenBlacklist, roleChanges, deactivation *cache.StaleClaimRegistry) *Gate {
	return &Gate{
		tokens:       tokens,
		blacklist:    blacklist,
		roleChanges:  roleChanges,
		deactivation: deactivation,
	}
}

// Check decides whether the presented access token is acceptable and
// returns its claims.
func (g *Gate) Check(tokenStr string) (*AccessClaims, error) {
	claims, err := g.tokens.ParseAccessToken(tokenStr)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil, apperrors.NewExpiredToken()
		}
		return nil, apperrors.NewInvalidToken()
	}
	if g.blacklist.IsRevoked(claims.ID) {
		return nil, apperrors.NewRevokedToken()
	}
	issuedAt := claims.IssuedAt.Time
	if g.roleChanges.FlaggedSince(claims.Subject, issuedAt) || g.deactivation.FlaggedSince(claims.Subject, issuedAt) {
		return nil, apperrors.NewStaleClaims()
	}
	return claims, nil
}

// Handle enforces authentication for protected routes.
func (g *Gate) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := g.Check(parts[1])
	if err != nil {
		return err
	}

	c.Locals(principalKey, &Principal{
		MemberID:   claims.Subject,
		Username:   claims.Username,
		Role:       claims.Role,
		ProfilePic: claims.ProfilePic,
		TokenID:    claims.ID,
		IssuedAt:   claims.IssuedAt.Time,
		ExpiresAt:  claims.ExpiresAt.Time,
	})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated caller.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
