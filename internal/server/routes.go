package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/observability"
	"github.com/modelgate/modelgate/internal/ratelimit"
	"github.com/modelgate/modelgate/internal/server/handlers"
	servermw "github.com/modelgate/modelgate/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	// Proxy endpoints behind the full admission chain. Chat and generation
	// draw from separate rate-limit tiers.
	if s.opts.Verifier != nil && s.opts.Limiter != nil && s.opts.Gateway != nil {
		authenticate := servermw.Authenticate(s.opts.Verifier)

		s.router.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Use(servermw.RateLimit(s.opts.Limiter, ratelimit.ClassChat))
			r.Post("/chat", handlers.NewChatHandler(s.opts.Gateway).ServeHTTP)
		})

		s.router.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Use(servermw.RateLimit(s.opts.Limiter, ratelimit.ClassGeneration))
			r.Post("/generate", handlers.NewGenerateHandler(s.opts.Gateway).ServeHTTP)
		})
	}

	// Standard health endpoints
	if s.opts.Health != nil {
		s.router.Get("/health", s.opts.Health.HealthHandler)
		s.router.Get("/health/live", s.opts.Health.LivenessHandler)
		s.router.Get("/health/ready", s.opts.Health.ReadinessHandler)
		s.router.Get("/health/startup", s.opts.Health.StartupHandler)
	}

	// Version endpoint
	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", MetricsHandler)

	// Admin signal endpoint (optional, requires MODELGATE_ADMIN_TOKEN)
	s.registerAdminEndpoint()
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	adminToken := os.Getenv("MODELGATE_ADMIN_TOKEN")
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no MODELGATE_ADMIN_TOKEN set)")
		}
		return
	}

	// Create HTTP signal handler with bearer token auth and rate limiting
	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,  // 10 requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // use default global manager
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
