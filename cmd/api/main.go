package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/adapter/controller/http/handlers"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/adapter/external/threatintel"
	redisrepo "github.com/yarinh5/cyber-threat-intel-dashboard/internal/adapter/repository/redis"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/config"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/domain/scoring"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/metrics"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/usecase/threats"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := config.SetupLogger(cfg)
	logger.Info("Starting threat reputation API",
		"env", cfg.App.Env,
		"port", cfg.App.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Shared cache tier (optional)
	health := map[string]handlers.Pinger{}
	var shared threatintel.SharedStore
	if cfg.Redis.Enabled {
		conn, err := redisrepo.NewConnection(ctx, &cfg.Redis, logger)
		if err != nil {
			logger.Error("Redis unavailable, continuing with in-memory cache only", "error", err)
		} else {
			defer conn.Close()
			shared = redisrepo.NewResultCacheRepository(conn, cfg.Redis.KeyPrefix)
			health["redis"] = conn
		}
	}

	cache, err := threatintel.NewResultCache(threatintel.CacheConfig{
		Capacity:        cfg.Cache.Capacity,
		CleanupInterval: cfg.Cache.CleanupInterval,
		Shared:          shared,
		Logger:          logger,
		Metrics:         m,
	})
	if err != nil {
		logger.Error("Failed to create result cache", "error", err)
		os.Exit(1)
	}
	go cache.Run(ctx)

	// Providers
	regs := threatintel.BuildRegistrations(cfg.ThreatIntel, logger)
	if len(regs) == 0 {
		logger.Warn("No reputation provider configured, every check will fail")
	}

	aggregator, err := threatintel.NewAggregator(regs, threatintel.AggregatorConfig{
		ProviderTimeout: cfg.Reputation.ProviderTimeout,
		Deadline:        cfg.Reputation.Deadline,
		Policy: &scoring.Policy{
			MaliciousThreshold:   cfg.Reputation.MaliciousThreshold,
			HighConfidenceWeight: cfg.Reputation.HighConfidenceWeight,
		},
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		logger.Error("Failed to create aggregator", "error", err)
		os.Exit(1)
	}
	for _, p := range aggregator.Providers() {
		logger.Info("Provider registered", "provider", p.Name, "weight", p.Weight, "timeout", p.Timeout, "kinds", p.Kinds)
	}

	service := threats.NewService(cache, aggregator, threats.Config{
		TTL:        cfg.Cache.TTL,
		UnknownTTL: cfg.Cache.UnknownTTL,
		Logger:     logger,
	})

	r := handlers.NewRouter(handlers.RouterConfig{
		Config:  cfg,
		Logger:  logger,
		Threats: handlers.NewThreatsHandler(service),
		Health:  health,
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Reputation.Deadline + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("HTTP server error", "error", err)
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server stopped")
}
