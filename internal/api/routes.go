package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timkrebs/image-shrink/internal/metrics"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(handlers *Handlers, httpMetrics *metrics.HTTPMetrics, maxUploadSize int64, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(StructuredLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(CORS)
	r.Use(MaxUploadSize(maxUploadSize))
	r.Use(MetricsMiddleware(httpMetrics))

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.Health)

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", handlers.CreateRun)
			r.Get("/", handlers.ListRuns)
			r.Get("/{id}", handlers.GetRun)
			r.Get("/{id}/files/{name}", handlers.GetRunFile)
		})

		r.Post("/thumbnails", handlers.CreateThumbnail)

		r.Get("/stats/queue", handlers.GetQueueStats)
	})

	return r
}
