package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	Auth    *handlers.AuthHandler
	Members *handlers.MembersHandler
	Tickets *handlers.TicketsHandler
	Stats   *handlers.StatsHandler
	Gate    *auth.Gate
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Post("/password/reset", cfg.Auth.ResetPassword)

	authProtected := authGroup.Group("", cfg.Gate.Handle)
	authProtected.Post("/logout", cfg.Auth.Logout)
	authProtected.Post("/password/change", cfg.Auth.ChangePassword)
	authProtected.Post("/register", auth.RequireRole(domain.RoleManager, domain.RoleAdmin), cfg.Auth.Register)

	members := app.Group("/members", cfg.Gate.Handle)
	members.Get("/me", cfg.Members.Me)
	members.Patch("/me", cfg.Members.UpdateMe)
	members.Put("/:id/role", auth.RequireRole(domain.RoleAdmin), cfg.Members.ChangeRole)
	members.Delete("/:id", auth.RequireRole(domain.RoleAdmin), cfg.Members.Deactivate)
	members.Post("/:id/reactivate", auth.RequireRole(domain.RoleAdmin), cfg.Members.Reactivate)

	tickets := app.Group("/tickets", cfg.Gate.Handle)
	tickets.Post("", cfg.Tickets.Create)
	tickets.Get("", cfg.Tickets.List)
	tickets.Get("/:id", cfg.Tickets.Get)
	tickets.Put("/:id/status", auth.RequireRole(domain.RoleManager, domain.RoleAdmin), cfg.Tickets.ChangeStatus)
	tickets.Put("/:id/assignee", auth.RequireRole(domain.RoleManager, domain.RoleAdmin), cfg.Tickets.Assign)
	tickets.Post("/:id/comments", cfg.Tickets.AddComment)

	categories := app.Group("/categories", cfg.Gate.Handle)
	categories.Get("", cfg.Tickets.ListCategories)
	categories.Post("", auth.RequireRole(domain.RoleManager, domain.RoleAdmin), cfg.Tickets.CreateCategory)
	categories.Delete("/:id", auth.RequireRole(domain.RoleManager, domain.RoleAdmin), cfg.Tickets.DeleteCategory)

	stats := app.Group("/stats", cfg.Gate.Handle, auth.RequireRole(domain.RoleManager, domain.RoleAdmin))
	stats.Get("/tickets", cfg.Stats.TicketCounts)
}
