package threats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/adapter/external/threatintel"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/domain/query"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// =============================================================================
// Mock cache - implements ResultCache interface
// =============================================================================

type MockResultCache struct {
	mock.Mock
}

func (m *MockResultCache) Get(ctx context.Context, key string) (*entity.AggregatedResult, bool) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*entity.AggregatedResult), args.Bool(1)
}

func (m *MockResultCache) Put(ctx context.Context, key string, value *entity.AggregatedResult, ttl time.Duration) {
	m.Called(ctx, key, value, ttl)
}

func (m *MockResultCache) Delete(ctx context.Context, key string) {
	m.Called(ctx, key)
}

func (m *MockResultCache) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockResultCache) Stats() threatintel.CacheStats {
	args := m.Called()
	return args.Get(0).(threatintel.CacheStats)
}

// =============================================================================
// Stub aggregator
// =============================================================================

type stubAggregator struct {
	calls   atomic.Int32
	delay   time.Duration
	verdict entity.Verdict
	err     error
}

func (a *stubAggregator) Aggregate(ctx context.Context, q entity.NormalizedQuery, deadline time.Duration) (*entity.AggregatedResult, error) {
	a.calls.Add(1)
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}

	verdict := a.verdict
	if verdict == "" {
		verdict = entity.VerdictClean
	}
	res := &entity.AggregatedResult{
		Query:     q,
		Verdict:   verdict,
		Providers: map[string]entity.ProviderResult{},
		Reasons:   []string{},
		Failures:  []entity.ProviderFailure{},
		CheckedAt: time.Now().UTC(),
	}
	if verdict != entity.VerdictUnknown {
		score := 10.0
		res.Score = &score
	}
	return res, nil
}

func (a *stubAggregator) Providers() []threatintel.ProviderStatus {
	return []threatintel.ProviderStatus{{Name: "Stub", Weight: 1}}
}

func (a *stubAggregator) Deadline() time.Duration {
	return time.Second
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRealCache(t *testing.T) *threatintel.ResultCache {
	t.Helper()
	c, err := threatintel.NewResultCache(threatintel.CacheConfig{Capacity: 100})
	require.NoError(t, err)
	return c
}

// =============================================================================
// Check
// =============================================================================

func TestCheck_MissAggregatesAndWritesThrough(t *testing.T) {
	cache := new(MockResultCache)
	agg := &stubAggregator{}
	svc := NewService(cache, agg, Config{TTL: 15 * time.Minute, UnknownTTL: time.Minute})

	cache.On("Get", mock.Anything, "domain:example.com").Return(nil, false)
	cache.On("Put", mock.Anything, "domain:example.com", mock.AnythingOfType("*entity.AggregatedResult"), 15*time.Minute).Return()

	res, err := svc.Check(context.Background(), "  EXAMPLE.com ")
	require.NoError(t, err)

	assert.Equal(t, "example.com", res.Query.Value)
	assert.Equal(t, entity.VerdictClean, res.Verdict)
	assert.Equal(t, int32(1), agg.calls.Load())
	cache.AssertExpectations(t)
}

func TestCheck_CacheHitSkipsAggregation(t *testing.T) {
	cache := new(MockResultCache)
	agg := &stubAggregator{}
	svc := NewService(cache, agg, Config{TTL: time.Minute})

	cached := &entity.AggregatedResult{Query: query.MustNormalize("1.2.3.4"), Verdict: entity.VerdictMalicious}
	cache.On("Get", mock.Anything, "ip:1.2.3.4").Return(cached, true)

	res, err := svc.Check(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, entity.VerdictMalicious, res.Verdict)
	assert.Zero(t, agg.calls.Load())
	cache.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheck_UnknownUsesShortTTL(t *testing.T) {
	cache := new(MockResultCache)
	agg := &stubAggregator{verdict: entity.VerdictUnknown}
	svc := NewService(cache, agg, Config{TTL: time.Hour, UnknownTTL: 30 * time.Second})

	cache.On("Get", mock.Anything, "ip:1.2.3.4").Return(nil, false)
	cache.On("Put", mock.Anything, "ip:1.2.3.4", mock.Anything, 30*time.Second).Return()

	res, err := svc.Check(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, entity.VerdictUnknown, res.Verdict)
	assert.Nil(t, res.Score)
	cache.AssertExpectations(t)
}

func TestCheck_UnknownNotCachedWhenDisabled(t *testing.T) {
	cache := new(MockResultCache)
	agg := &stubAggregator{verdict: entity.VerdictUnknown}
	svc := NewService(cache, agg, Config{TTL: time.Hour})

	cache.On("Get", mock.Anything, "ip:1.2.3.4").Return(nil, false)

	_, err := svc.Check(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	cache.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheck_InvalidInput(t *testing.T) {
	cache := new(MockResultCache)
	agg := &stubAggregator{}
	svc := NewService(cache, agg, Config{TTL: time.Minute})

	for _, raw := range []string{"", "   ", "not a host", "999.1.1.1"} {
		_, err := svc.Check(context.Background(), raw)
		assert.ErrorIs(t, err, entity.ErrInvalidQuery, "input %q", raw)
	}
	assert.Zero(t, agg.calls.Load())
	cache.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestCheck_ZeroQuery(t *testing.T) {
	svc := NewService(new(MockResultCache), &stubAggregator{}, Config{TTL: time.Minute})
	_, err := svc.CheckQuery(context.Background(), entity.NormalizedQuery{})
	assert.ErrorIs(t, err, entity.ErrInvalidQuery)
}

func TestCheck_ConfigurationErrorPropagates(t *testing.T) {
	cache := new(MockResultCache)
	agg := &stubAggregator{err: entity.ErrConfiguration}
	svc := NewService(cache, agg, Config{TTL: time.Minute})

	cache.On("Get", mock.Anything, "ip:1.2.3.4").Return(nil, false)

	_, err := svc.Check(context.Background(), "1.2.3.4")
	assert.ErrorIs(t, err, entity.ErrConfiguration)
	cache.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheck_EquivalentInputsShareCacheEntry(t *testing.T) {
	agg := &stubAggregator{}
	svc := NewService(newRealCache(t), agg, Config{TTL: time.Minute})

	for _, raw := range []string{"Example.COM", " example.com", "example.com."} {
		_, err := svc.Check(context.Background(), raw)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), agg.calls.Load())
}

// =============================================================================
// Concurrency
// =============================================================================

func TestCheck_SingleFlight(t *testing.T) {
	agg := &stubAggregator{delay: 100 * time.Millisecond}
	svc := NewService(newRealCache(t), agg, Config{TTL: time.Minute})

	const callers = 25
	var wg sync.WaitGroup
	results := make([]*entity.AggregatedResult, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Check(context.Background(), "1.2.3.4")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), agg.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "1.2.3.4", results[i].Query.Value)
	}

	// every caller owns its copy
	results[0].Reasons = append(results[0].Reasons, "mutated")
	assert.Empty(t, results[1].Reasons)
}

func TestCheck_DistinctQueriesRunIndependently(t *testing.T) {
	agg := &stubAggregator{delay: 20 * time.Millisecond}
	svc := NewService(newRealCache(t), agg, Config{TTL: time.Minute})

	var wg sync.WaitGroup
	for _, raw := range []string{"1.1.1.1", "2.2.2.2", "example.com"} {
		raw := raw
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Check(context.Background(), raw)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), agg.calls.Load())
}

func TestCheck_CancelledCallerDoesNotAbortPass(t *testing.T) {
	cache := newRealCache(t)
	agg := &stubAggregator{delay: 100 * time.Millisecond}
	svc := NewService(cache, agg, Config{TTL: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.Check(ctx, "1.2.3.4")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// the detached pass still completes and fills the cache
	assert.Eventually(t, func() bool {
		_, ok := cache.Get(context.Background(), "ip:1.2.3.4")
		return ok
	}, time.Second, 10*time.Millisecond)

	res, err := svc.Check(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, entity.VerdictClean, res.Verdict)
	assert.Equal(t, int32(1), agg.calls.Load())
}

func TestCheck_ExpiredEntryAggregatesAgain(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache, err := threatintel.NewResultCache(threatintel.CacheConfig{Capacity: 100, Now: clock.Now})
	require.NoError(t, err)
	agg := &stubAggregator{}
	svc := NewService(cache, agg, Config{TTL: time.Minute})
	ctx := context.Background()

	_, err = svc.Check(ctx, "1.2.3.4")
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, err = svc.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int32(1), agg.calls.Load())

	clock.Advance(2 * time.Second)
	_, err = svc.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int32(2), agg.calls.Load())

	// The refreshed entry lives for a full TTL from the second pass
	clock.Advance(59 * time.Second)
	_, err = svc.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int32(2), agg.calls.Load())
}

// =============================================================================
// Management
// =============================================================================

func TestClearCacheAndStats(t *testing.T) {
	cache := new(MockResultCache)
	svc := NewService(cache, &stubAggregator{}, Config{TTL: time.Minute})

	cache.On("Clear", mock.Anything).Return(nil).Once()
	cache.On("Clear", mock.Anything).Return(errors.New("redis down")).Once()
	cache.On("Stats").Return(threatintel.CacheStats{Size: 3, Hits: 7})

	require.NoError(t, svc.ClearCache(context.Background()))
	assert.Error(t, svc.ClearCache(context.Background()))
	assert.Equal(t, 3, svc.CacheStats().Size)
	assert.Equal(t, "Stub", svc.Providers()[0].Name)
}

func TestInvalidate_DropsNormalizedKey(t *testing.T) {
	cache := new(MockResultCache)
	svc := NewService(cache, &stubAggregator{}, Config{TTL: time.Minute})

	cache.On("Delete", mock.Anything, "domain:example.com").Return().Once()

	q, err := svc.Invalidate(context.Background(), " Example.COM. ")
	require.NoError(t, err)
	assert.Equal(t, "example.com", q.Value)
	cache.AssertExpectations(t)

	_, err = svc.Invalidate(context.Background(), "999.1.1.1")
	assert.ErrorIs(t, err, entity.ErrInvalidQuery)
	cache.AssertNumberOfCalls(t, "Delete", 1)
}

func TestInvalidate_NextCheckAggregatesAgain(t *testing.T) {
	agg := &stubAggregator{}
	svc := NewService(newRealCache(t), agg, Config{TTL: time.Hour})
	ctx := context.Background()

	_, err := svc.Check(ctx, "8.8.8.8")
	require.NoError(t, err)
	_, err = svc.Invalidate(ctx, "8.8.8.8")
	require.NoError(t, err)
	_, err = svc.Check(ctx, "8.8.8.8")
	require.NoError(t, err)

	assert.Equal(t, int32(2), agg.calls.Load())
}
