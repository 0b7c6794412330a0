package routes

import (
	"github.com/mclarke-dev/aegis/internal/auth"
	"github.com/mclarke-dev/aegis/internal/handlers"
	"github.com/mclarke-dev/aegis/internal/middleware"
	"github.com/mclarke-dev/aegis/internal/models"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes under /v1. Every route
// requires a service token; admin routes additionally require the admin
// scope.
func RegisterRoutes(
	router chi.Router,
	failureHandler *handlers.FailureHandler,
	accountHandler *handlers.AccountHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
) {
	rateLimitConfig := middleware.DefaultIngestRateLimit()

	router.Route("/v1", func(r chi.Router) {
		r.Use(auth.ServiceAuthMiddleware(tokenManager))

		// Reporting surface for the login flow
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(models.ScopeReport))
			r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/failures", failureHandler.ReportFailure)
			accountHandler.RegisterRoutes(r)
		})

		// Operator surface
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(models.ScopeAdmin))
			adminHandler.RegisterRoutes(r)
		})
	})
}
