package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/welldanyogia/llmbot-stream/internal/api"
	"github.com/welldanyogia/llmbot-stream/internal/config"
	"github.com/welldanyogia/llmbot-stream/internal/health"
	"github.com/welldanyogia/llmbot-stream/internal/metrics"
	"github.com/welldanyogia/llmbot-stream/internal/middleware"
	"github.com/welldanyogia/llmbot-stream/internal/sse"
)

type routerDeps struct {
	cfg      *config.Config
	log      *slog.Logger
	sse      *sse.Handler
	health   *health.Handler
	services *config.Services
	limiter  *middleware.StreamOpenRateLimiter
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(d.log))
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID", middleware.UserIDHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", d.health.Health)
	r.Get("/health/ready", d.health.Readiness)
	r.Get("/health/live", d.health.Liveness)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireUser)

		api.RegisterServiceRoutes(r, api.NewServicesHandler(d.services))

		r.Group(func(r chi.Router) {
			r.Use(d.limiter.Limit)
			sse.RegisterRoutes(r, d.sse)
		})
	})

	return r
}
