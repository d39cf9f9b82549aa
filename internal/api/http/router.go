package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-intake-bot/internal/api/http/handlers"
	"github.com/spec-kit/crm-intake-bot/internal/auth"
	"github.com/spec-kit/crm-intake-bot/internal/config"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Metrics        fiber.Handler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Admin          *handlers.AdminHandler
	// AuthMiddleware guards /tickets and /admin. When nil every request to
	// those routes is refused.
	AuthMiddleware *auth.AuthMiddleware
}

// NewAdminAuth returns the middleware for the protected routes, or nil when
// the admin API is disabled in cfg.
func NewAdminAuth(cfg config.AuthConfig, tokens *auth.TokenManager, isAdmin auth.AdminChecker) *auth.AuthMiddleware {
	if !cfg.APIEnabled() {
		return nil
	}
	return auth.NewAuthMiddleware(tokens, isAdmin)
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", cfg.Metrics)
	}

	app.Post("/auth/login", cfg.Auth.Login)

	guard := auth.Disabled()
	if cfg.AuthMiddleware != nil {
		guard = cfg.AuthMiddleware.Handle
	}

	tickets := app.Group("/tickets", guard, auth.RequireAdmin())
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/claim", cfg.Tickets.ClaimTicket)

	admin := app.Group("/admin", guard, auth.RequireAdmin())
	admin.Get("/stats", cfg.Admin.Stats)
	admin.Get("/users", cfg.Admin.Users)
	admin.Get("/export", cfg.Admin.Export)
}
