package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the admin API surface.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://admin.inkhaven.io", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-User-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/programs/{programID}", func(r chi.Router) {
			r.Post("/crm-sync-jobs", h.EnqueueCrmSyncJob)
			r.Get("/crm-sync-jobs", h.ListCrmSyncJobs)
			r.Put("/availability", h.ReplaceAvailability)
			r.Post("/scheduling/match", h.MatchSchedule)
		})

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Put("/integration", h.UpsertSessionIntegration)
			r.Get("/integration", h.GetSessionIntegration)
		})

		r.Post("/admin/jobs/run", h.RunJob)
	})

	return r
}
