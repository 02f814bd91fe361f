package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-assessment-api/internal/config"
	"github.com/noah-isme/gema-assessment-api/internal/handler"
	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	QuestionSetHandler   *handler.QuestionSetHandler
	SessionHandler       *handler.SessionHandler
	SessionStreamHandler *handler.SessionStreamHandler
	SeedHandler          *handler.SeedHandler
	HealthProbes         map[string]handler.Probe
	JWTMiddleware        fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	assessment := app.Group("/api/v2/assessment", jwtMiddleware, middleware.RequireUser())

	if deps.QuestionSetHandler != nil {
		deps.QuestionSetHandler.Register(assessment.Group("/question-sets"))
	}

	if deps.SessionHandler != nil {
		sessions := assessment.Group("/sessions")
		if deps.SessionStreamHandler != nil {
			deps.SessionStreamHandler.Register(sessions)
		}

		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		deps.SessionHandler.Register(sessions, middleware.RateLimit("submit", cfg.RateLimitMax, window))
	}

	// Seeding tools
	if deps.SeedHandler != nil {
		seed := app.Group("/api/v2/seed", jwtMiddleware, middleware.RequireRole("admin", "teacher"))
		deps.SeedHandler.Register(seed)
	}
}
