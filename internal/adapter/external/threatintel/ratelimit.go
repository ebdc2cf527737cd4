package threatintel

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// rateLimitedProvider rejects checks once the client-side budget is spent
type rateLimitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// RateLimited wraps p so that at most perMinute checks are dispatched per
// minute. Exhaustion is reported as a rate_limited failure without
// contacting the provider. A non-positive perMinute returns p unchanged.
func RateLimited(p Provider, perMinute, burst int) Provider {
	if perMinute <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedProvider{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
	}
}

func (p *rateLimitedProvider) Check(ctx context.Context, q entity.NormalizedQuery) (*entity.ProviderResult, error) {
	if !p.limiter.Allow() {
		return nil, entity.NewProviderFailure(p.Name(), entity.FailureRateLimited, "client-side request budget exhausted")
	}
	return p.Provider.Check(ctx, q)
}
