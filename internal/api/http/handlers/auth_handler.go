package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// RefreshCookieName is the cookie carrying the opaque refresh token.
const RefreshCookieName = "Refresh"

// AuthHandler exposes the login, refresh and logout endpoints.
type AuthHandler struct {
	auth       *service.AuthService
	refreshTTL time.Duration
	metrics    *observability.Metrics
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, refreshTTL time.Duration, metrics *observability.Metrics) *AuthHandler {
	return &AuthHandler{auth: authService, refreshTTL: refreshTTL, metrics: metrics}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Username == "" || req.Password == "" {
		return apperrors.NewValidationError("username and password required", nil)
	}

	result, err := h.auth.Login(c.Context(), req.Username, req.Password, c.IP())
	if err != nil {
		h.recordOutcome("login", err)
		return err
	}
	h.recordOutcome("login", nil)

	h.setRefreshCookie(c, result.RefreshToken)
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"member": dto.NewMemberSummary(result.Member),
			"auth": dto.AuthResponse{
				AccessToken:        result.AccessToken,
				ExpiresAt:          result.AccessExpiresAt,
				PasswordResetToken: result.PasswordResetToken,
			},
		},
	})
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	refreshToken := c.Cookies(RefreshCookieName)
	if refreshToken == "" {
		h.recordOutcome("refresh", apperrors.NewInvalidRefreshToken())
		return apperrors.NewInvalidRefreshToken()
	}

	result, err := h.auth.Refresh(c.Context(), refreshToken)
	if err != nil {
		h.recordOutcome("refresh", err)
		return err
	}
	h.recordOutcome("refresh", nil)

	h.setRefreshCookie(c, result.RefreshToken)
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"auth": dto.AuthResponse{
				AccessToken:        result.AccessToken,
				ExpiresAt:          result.AccessExpiresAt,
				PasswordResetToken: result.PasswordResetToken,
			},
		},
	})
}

// Logout handles POST /auth/logout. Requires a valid access token.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	if err := h.auth.Logout(c.Context(), principal.MemberID, principal.TokenID, principal.ExpiresAt); err != nil {
		h.recordOutcome("logout", err)
		return err
	}
	h.recordOutcome("logout", nil)

	h.expireRefreshCookie(c)
	return c.JSON(fiber.Map{"data": fiber.Map{"logged_out": true}})
}

// Register handles POST /auth/register (admin only; managers create
// member accounts).
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Username == "" || req.Password == "" || req.Name == "" {
		return apperrors.NewValidationError("username, name, password required", nil)
	}
	role := domain.Role(req.Role)
	switch role {
	case "":
		role = domain.RoleMember
	case domain.RoleMember, domain.RoleManager, domain.RoleAdmin:
	default:
		return apperrors.NewValidationError("unknown role", map[string]any{"role": req.Role})
	}

	member, err := h.auth.Register(c.Context(), req.Username, req.Name, req.Password, role)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewMemberSummary(member)})
}

// ChangePassword handles POST /auth/password/change.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return apperrors.NewValidationError("current_password and new_password required", nil)
	}
	if err := h.auth.ChangePassword(c.Context(), principal.MemberID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"changed": true}})
}

// ResetPassword handles POST /auth/password/reset.
func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req dto.ResetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.ResetToken == "" || req.NewPassword == "" {
		return apperrors.NewValidationError("reset_token and new_password required", nil)
	}
	if err := h.auth.ResetPassword(c.Context(), req.ResetToken, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"changed": true}})
}

func (h *AuthHandler) setRefreshCookie(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.refreshTTL.Seconds()),
		Secure:   true,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteNoneMode,
	})
}

func (h *AuthHandler) expireRefreshCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   true,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteNoneMode,
	})
}

func (h *AuthHandler) recordOutcome(operation string, err error) {
	if h.metrics == nil {
		return
	}
	code := "OK"
	if err != nil {
		code = apperrors.ToDomainError(err).Code
	}
	h.metrics.RecordAuthOutcome(operation, code)
}
