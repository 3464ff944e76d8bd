package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// NewRouter creates a new router with all routes configured.
// gatherer backs GET /metrics; nil omits the endpoint.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// Drain is bounded per second across all consumers: burst 20, then 10/s
	drainLimiter := rate.NewLimiter(10, 20)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Post("/commits", h.Commit)
			r.Get("/queue", h.QueueStats)
			r.Get("/queue/contains", h.Contains)
			r.With(RateLimitMiddleware(drainLimiter)).Post("/queue/drain", h.Drain)
			r.Post("/queue/requeue", h.Requeue)
		})
	})

	return r
}
