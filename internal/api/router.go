package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/keywatch/internal/api/middleware"
	"github.com/good-yellow-bee/keywatch/internal/metrics"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestLogger(s.logger, s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.PrometheusMiddleware)

	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/projects", s.listProjects)
		r.Get("/projects/{id}", s.getProject)
		r.Get("/projects/{id}/states", s.listStates)
		r.Delete("/projects/{id}/states", s.resetState)
		r.Get("/history", s.listHistory)
		r.Get("/runs/last", s.lastRun)
		r.Post("/scan", s.triggerScan)
	})

	return r
}
