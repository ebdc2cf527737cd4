package threats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/adapter/external/threatintel"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/domain/query"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// ResultCache is the cache port used by the service
type ResultCache interface {
	Get(ctx context.Context, key string) (*entity.AggregatedResult, bool)
	Put(ctx context.Context, key string, value *entity.AggregatedResult, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context) error
	Stats() threatintel.CacheStats
}

// Aggregator fans a normalized query out to the providers
type Aggregator interface {
	Aggregate(ctx context.Context, q entity.NormalizedQuery, deadline time.Duration) (*entity.AggregatedResult, error)
	Providers() []threatintel.ProviderStatus
	Deadline() time.Duration
}

// Config holds service configuration
type Config struct {
	// TTL of cached Clean and Malicious results
	TTL time.Duration
	// UnknownTTL of cached Unknown results. Zero disables caching them.
	UnknownTTL time.Duration
	Logger     *slog.Logger
}

// Service is the single entry point for reputation checks. Concurrent
// checks of the same query share one aggregation pass.
type Service struct {
	cache      ResultCache
	aggregator Aggregator
	ttl        time.Duration
	unknownTTL time.Duration
	logger     *slog.Logger
	flights    singleflight.Group
}

// NewService creates a new threats service
func NewService(cache ResultCache, aggregator Aggregator, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		cache:      cache,
		aggregator: aggregator,
		ttl:        cfg.TTL,
		unknownTTL: cfg.UnknownTTL,
		logger:     cfg.Logger,
	}
}

// Check normalizes raw and returns its reputation, from cache when fresh
func (s *Service) Check(ctx context.Context, raw string) (*entity.AggregatedResult, error) {
	q, err := query.Normalize(raw)
	if err != nil {
		return nil, err
	}
	return s.CheckQuery(ctx, q)
}

// CheckQuery returns the reputation of an already normalized query
func (s *Service) CheckQuery(ctx context.Context, q entity.NormalizedQuery) (*entity.AggregatedResult, error) {
	if q.IsZero() {
		return nil, fmt.Errorf("%w: query was not normalized", entity.ErrInvalidQuery)
	}

	key := q.Key()
	if cached, ok := s.cache.Get(ctx, key); ok {
		return cached, nil
	}

	// The pass outlives a caller that gives up; the aggregator's own
	// deadline still bounds it.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(key, func() (any, error) {
		// another flight may have finished between the lookup and here
		if cached, ok := s.cache.Get(flightCtx, key); ok {
			return cached, nil
		}

		result, err := s.aggregator.Aggregate(flightCtx, q, s.aggregator.Deadline())
		if err != nil {
			return nil, err
		}

		if ttl := s.ttlFor(result.Verdict); ttl > 0 {
			s.cache.Put(flightCtx, key, result, ttl)
		}
		return result, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("check %s: %w", q.Value, res.Err)
		}
		if res.Shared {
			s.logger.Debug("Joined in-flight check", "query", q.Value)
		}
		return res.Val.(*entity.AggregatedResult).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) ttlFor(verdict entity.Verdict) time.Duration {
	if verdict == entity.VerdictUnknown {
		return s.unknownTTL
	}
	return s.ttl
}

// ClearCache drops every cached result
func (s *Service) ClearCache(ctx context.Context) error {
	if err := s.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	s.logger.Info("Result cache cleared")
	return nil
}

// Invalidate drops the cached result of raw so that the next check queries
// the providers again. It returns the normalized query.
func (s *Service) Invalidate(ctx context.Context, raw string) (entity.NormalizedQuery, error) {
	q, err := query.Normalize(raw)
	if err != nil {
		return entity.NormalizedQuery{}, err
	}
	s.cache.Delete(ctx, q.Key())
	s.logger.Info("Cached result invalidated", "query", q.Value)
	return q, nil
}

// CacheStats returns cache statistics
func (s *Service) CacheStats() threatintel.CacheStats {
	return s.cache.Stats()
}

// Providers lists the registered providers
func (s *Service) Providers() []threatintel.ProviderStatus {
	return s.aggregator.Providers()
}
