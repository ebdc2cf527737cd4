package threatintel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/domain/scoring"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/metrics"
)

const (
	defaultProviderTimeout = 3 * time.Second
	defaultDeadline        = 5 * time.Second
)

// Aggregator fans a query out to every eligible provider and reconciles
// the outcomes into a single verdict
type Aggregator struct {
	registrations   []Registration
	providerTimeout time.Duration
	deadline        time.Duration
	policy          scoring.Policy
	logger          *slog.Logger
	metrics         *metrics.Metrics
	now             func() time.Time
}

// AggregatorConfig holds configuration for the aggregator
type AggregatorConfig struct {
	// ProviderTimeout bounds each provider call unless its registration
	// overrides it. Default: 3s
	ProviderTimeout time.Duration
	// Deadline bounds the whole fan-out. Default: 5s
	Deadline time.Duration
	// Policy is used as given, including a zero threshold. Nil means
	// scoring.DefaultPolicy.
	Policy  *scoring.Policy
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// NewAggregator validates the registrations and returns an aggregator
// that queries them in registration order
func NewAggregator(regs []Registration, cfg AggregatorConfig) (*Aggregator, error) {
	seen := make(map[string]struct{}, len(regs))
	normalized := make([]Registration, 0, len(regs))
	for i, reg := range regs {
		if reg.Provider == nil {
			return nil, fmt.Errorf("%w: provider %d is nil", entity.ErrConfiguration, i)
		}
		name := reg.Name()
		if name == "" {
			return nil, fmt.Errorf("%w: provider %d has no name", entity.ErrConfiguration, i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate provider %q", entity.ErrConfiguration, name)
		}
		if reg.Weight < 0 {
			return nil, fmt.Errorf("%w: provider %q has negative weight", entity.ErrConfiguration, name)
		}
		if reg.Weight == 0 {
			reg.Weight = 1
		}
		seen[name] = struct{}{}
		normalized = append(normalized, reg)
	}

	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultDeadline
	}
	policy := scoring.DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Aggregator{
		registrations:   normalized,
		providerTimeout: cfg.ProviderTimeout,
		deadline:        cfg.Deadline,
		policy:          policy,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		now:             cfg.Now,
	}, nil
}

// Deadline returns the configured overall fan-out deadline
func (a *Aggregator) Deadline() time.Duration {
	return a.deadline
}

// Providers lists the registered providers in registration order
func (a *Aggregator) Providers() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(a.registrations))
	for _, reg := range a.registrations {
		kinds := make([]entity.QueryKind, 0, 2)
		for _, kind := range []entity.QueryKind{entity.QueryKindIP, entity.QueryKindDomain} {
			if reg.Provider.Supports(kind) {
				kinds = append(kinds, kind)
			}
		}
		out = append(out, ProviderStatus{
			Name:    reg.Name(),
			Weight:  reg.Weight,
			Timeout: a.timeoutFor(reg).String(),
			Kinds:   kinds,
		})
	}
	return out
}

type indexedOutcome struct {
	index   int
	outcome entity.Outcome
	latency time.Duration
}

// Aggregate queries every provider that supports q concurrently and
// returns the reconciled result. A non-positive deadline uses the
// configured one. Provider failures never fail the call; only an invalid
// query or the absence of eligible providers does.
func (a *Aggregator) Aggregate(ctx context.Context, q entity.NormalizedQuery, deadline time.Duration) (*entity.AggregatedResult, error) {
	if q.IsZero() {
		return nil, fmt.Errorf("%w: query was not normalized", entity.ErrInvalidQuery)
	}
	if deadline <= 0 {
		deadline = a.deadline
	}

	eligible := make([]Registration, 0, len(a.registrations))
	for _, reg := range a.registrations {
		if reg.Provider.Supports(q.Kind) {
			eligible = append(eligible, reg)
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: no provider supports %s queries", entity.ErrConfiguration, q.Kind)
	}

	checkID := uuid.NewString()
	logger := a.logger.With("check_id", checkID, "query", q.Value, "kind", q.Kind)
	started := a.now()

	fanCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// Buffered so that providers finishing after the deadline never block
	results := make(chan indexedOutcome, len(eligible))
	for i, reg := range eligible {
		i, reg := i, reg
		go func() {
			outcome, latency := a.run(fanCtx, reg, q, deadline)
			results <- indexedOutcome{index: i, outcome: outcome, latency: latency}
		}()
	}

	outcomes := make([]entity.Outcome, len(eligible))
	pending := len(eligible)
collect:
	for pending > 0 {
		select {
		case r := <-results:
			outcomes[r.index] = r.outcome
			a.observe(eligible[r.index].Name(), r.outcome, r.latency)
			pending--
		case <-fanCtx.Done():
			break collect
		}
	}

	sources := make([]scoring.Source, len(eligible))
	for i, reg := range eligible {
		sources[i] = scoring.Source{Name: reg.Name(), Weight: reg.Weight}
		if outcomes[i] == nil {
			outcomes[i] = entity.Failure{Failure: entity.ProviderFailure{
				Provider: reg.Name(),
				Kind:     entity.FailureTimeout,
				Detail:   "no response before overall deadline",
			}}
			a.metrics.ObserveProvider(reg.Name(), string(entity.FailureTimeout), deadline)
		}
	}

	eval := scoring.Evaluate(sources, outcomes, a.policy)
	for _, f := range eval.Failures {
		logger.Warn("Provider unavailable", "provider", f.Provider, "kind", f.Kind, "detail", f.Detail)
	}

	a.metrics.FanOut(string(eval.Verdict))
	logger.Debug("Aggregation complete",
		"verdict", eval.Verdict,
		"providers", len(eval.Providers),
		"failures", len(eval.Failures),
		"duration", a.now().Sub(started),
	)

	return &entity.AggregatedResult{
		Query:     q,
		Verdict:   eval.Verdict,
		Score:     eval.Score,
		Providers: eval.Providers,
		Reasons:   eval.Reasons,
		Failures:  eval.Failures,
		CheckedAt: a.now().UTC(),
	}, nil
}

func (a *Aggregator) timeoutFor(reg Registration) time.Duration {
	if reg.Timeout > 0 {
		return reg.Timeout
	}
	return a.providerTimeout
}

// observe records a collected outcome. Outcomes arriving after the
// collector gave up are never observed.
func (a *Aggregator) observe(provider string, outcome entity.Outcome, latency time.Duration) {
	switch o := outcome.(type) {
	case entity.Success:
		a.metrics.ObserveProvider(provider, "success", latency)
	case entity.Failure:
		a.metrics.ObserveProvider(provider, string(o.Failure.Kind), latency)
	}
}

// run executes one provider check under its own timeout and converts the
// result into an outcome
func (a *Aggregator) run(ctx context.Context, reg Registration, q entity.NormalizedQuery, deadline time.Duration) (entity.Outcome, time.Duration) {
	timeout := min(a.timeoutFor(reg), deadline)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name := reg.Name()
	start := time.Now()
	result, err := safeCheck(callCtx, reg.Provider, q)
	latency := time.Since(start)

	// A result produced after the provider's own timeout is not trusted
	if err == nil && callCtx.Err() != nil {
		err = entity.NewProviderFailure(name, entity.FailureTimeout, "response arrived after %s", timeout)
	}
	if err == nil && result == nil {
		err = entity.NewProviderFailure(name, entity.FailureError, "empty result")
	}

	if err != nil {
		return entity.Failure{Failure: asFailure(callCtx, name, err)}, latency
	}

	res := *result
	res.Provider = name
	res.Latency = latency
	return entity.Success{Result: res}, latency
}

// safeCheck converts a provider panic into an error so that one broken
// adapter cannot take the fan-out down
func safeCheck(ctx context.Context, p Provider, q entity.NormalizedQuery) (result *entity.ProviderResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = entity.NewProviderFailure(p.Name(), entity.FailureError, "panic: %v", r)
		}
	}()
	return p.Check(ctx, q)
}

func asFailure(ctx context.Context, provider string, err error) entity.ProviderFailure {
	var pf *entity.ProviderFailure
	if errors.As(err, &pf) {
		f := *pf
		f.Provider = provider
		return f
	}
	kind := entity.FailureError
	if isTimeout(ctx, err) {
		kind = entity.FailureTimeout
	}
	return entity.ProviderFailure{Provider: provider, Kind: kind, Detail: err.Error()}
}
