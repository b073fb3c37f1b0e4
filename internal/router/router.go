package router

import (
	"net/http"

	"vinzhub-gamestate/internal/handler"
	"vinzhub-gamestate/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler      *handler.Handler
	AdminHandler *handler.AdminHandler
	AdminKey     string
	// Metrics overrides the /metrics handler; nil uses the default registry.
	Metrics http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Admin-Key"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	metricsHandler := cfg.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// PUBLIC probes
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		}

		if cfg.AdminHandler != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.AdminKey(cfg.AdminKey))

				r.Get("/stats", cfg.AdminHandler.GetStats)
				r.Post("/sweeps/retry", cfg.AdminHandler.RetrySweep)

				r.Route("/users/{user_id}", func(r chi.Router) {
					r.Get("/", cfg.AdminHandler.GetUser)
					r.Get("/activity", cfg.AdminHandler.GetActivity)
					r.Post("/login", cfg.AdminHandler.Login)
					r.Post("/flush", cfg.AdminHandler.Flush)
					r.Post("/logout", cfg.AdminHandler.Logout)
				})
			})
		}
	})

	return r
}
