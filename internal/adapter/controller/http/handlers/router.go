package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/adapter/controller/http/middleware"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/config"
)

// RouterConfig holds everything the router mounts
type RouterConfig struct {
	Config  *config.Config
	Logger  *slog.Logger
	Threats *ThreatsHandler
	Health  map[string]Pinger
	Metrics http.Handler
}

// NewRouter builds the HTTP API
func NewRouter(rc RouterConfig) chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(rc.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(chimw.Compress(5))

	// The dashboard may be served from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if rc.Config.HTTP.RateLimit > 0 {
		r.Use(httprate.LimitByIP(rc.Config.HTTP.RateLimit, time.Minute))
	}

	r.Get("/health", HealthCheck(rc.Config, rc.Health))
	if rc.Metrics != nil {
		r.Handle("/metrics", rc.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/check", rc.Threats.Check)
		r.Get("/providers", rc.Threats.Providers)
		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", rc.Threats.CacheStats)
			r.Post("/clear", rc.Threats.ClearCache)
			r.Post("/invalidate", rc.Threats.Invalidate)
		})
	})

	return r
}
