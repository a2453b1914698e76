package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service      *appointment.Service
	Hub          http.Handler // websocket push endpoint, optional
	Metrics      *metrics.Metrics
	Dependencies []Dependency
	Logger       zerolog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware(cfg.Metrics))

	// Health endpoints
	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	if cfg.Hub != nil {
		r.Method(http.MethodGet, "/ws", cfg.Hub)
	}

	svc := cfg.Service

	// Appointment endpoints
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(svc))
		r.Get("/{id}", getAppointmentHandler(svc))
		r.Post("/{id}/start", startAppointmentHandler(svc))
		r.Post("/{id}/complete", completeAppointmentHandler(svc))
		r.Post("/{id}/cancel", cancelAppointmentHandler(svc))
		r.Post("/{id}/delay", delayAppointmentHandler(svc))
	})

	// Provider endpoints
	r.Route("/providers", func(r chi.Router) {
		r.Post("/", createProviderHandler(svc))
		r.Get("/{id}", getProviderHandler(svc))
		r.Get("/{id}/slots", findSlotHandler(svc))
		r.Get("/{id}/queue", queueHandler(svc))
		r.Post("/{id}/queue/rebalance", rebalanceHandler(svc))
		r.Get("/{id}/availability", listAvailabilityHandler(svc))
		r.Put("/{id}/availability/{weekday}", putAvailabilityHandler(svc))
		r.Get("/{id}/stats", statsHandler(svc))
	})

	return r
}
