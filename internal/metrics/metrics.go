// Package metrics exposes Prometheus instruments for the reputation engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "threatcheck"

// Metrics groups the instruments updated by the engine
type Metrics struct {
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
	CacheEvictions  prometheus.Counter
	FanOuts         *prometheus.CounterVec
}

// New registers the instruments with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ProviderCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider checks by outcome (success, timeout, error, rate_limited).",
		}, []string{"provider", "outcome"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Latency of provider checks.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
		}, []string{"provider"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by result (hit, miss).",
		}, []string{"result"}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted by the cache capacity bound.",
		}),
		FanOuts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanouts_total",
			Help:      "Aggregation passes by resulting verdict.",
		}, []string{"verdict"}),
	}
}

// ObserveProvider records one provider check
func (m *Metrics) ObserveProvider(provider, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// CacheLookup records a cache hit or miss
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// CacheEviction records a capacity eviction
func (m *Metrics) CacheEviction() {
	if m == nil {
		return
	}
	m.CacheEvictions.Inc()
}

// FanOut records a completed aggregation pass
func (m *Metrics) FanOut(verdict string) {
	if m == nil {
		return
	}
	m.FanOuts.WithLabelValues(verdict).Inc()
}
