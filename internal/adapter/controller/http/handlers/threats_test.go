package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/adapter/external/threatintel"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/config"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/domain/query"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

type fakeThreatService struct {
	result   *entity.AggregatedResult
	err      error
	clearErr    error
	lastRaw     string
	invalidated []string
}

func (s *fakeThreatService) Check(_ context.Context, raw string) (*entity.AggregatedResult, error) {
	s.lastRaw = raw
	if s.err != nil {
		return nil, s.err
	}
	if _, err := query.Normalize(raw); err != nil {
		return nil, err
	}
	return s.result, nil
}

func (s *fakeThreatService) ClearCache(context.Context) error { return s.clearErr }

func (s *fakeThreatService) Invalidate(_ context.Context, raw string) (entity.NormalizedQuery, error) {
	q, err := query.Normalize(raw)
	if err != nil {
		return entity.NormalizedQuery{}, err
	}
	s.invalidated = append(s.invalidated, q.Key())
	return q, nil
}

func (s *fakeThreatService) CacheStats() threatintel.CacheStats {
	return threatintel.CacheStats{Size: 2, Capacity: 10, Hits: 3, Misses: 1, HitRate: 0.75}
}

func (s *fakeThreatService) Providers() []threatintel.ProviderStatus {
	return []threatintel.ProviderStatus{{Name: "AbuseIPDB", Weight: 1, Timeout: "3s", Kinds: []entity.QueryKind{entity.QueryKindIP}}}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func workedExample() *entity.AggregatedResult {
	score := 80.0
	return &entity.AggregatedResult{
		Query:   query.MustNormalize("EXAMPLE.com "),
		Verdict: entity.VerdictMalicious,
		Score:   &score,
		Providers: map[string]entity.ProviderResult{
			"A": {Provider: "A", IsMalicious: true, Score: 80, Latency: 35 * time.Millisecond},
		},
		Reasons:   []string{"A", "1 provider(s) unavailable"},
		Failures:  []entity.ProviderFailure{{Provider: "B", Kind: entity.FailureTimeout}},
		CheckedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func newTestRouter(svc ThreatService, deps map[string]Pinger) http.Handler {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	return NewRouter(RouterConfig{
		Config:  cfg,
		Threats: NewThreatsHandler(svc),
		Health:  deps,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, "# metrics")
		}),
	})
}

func postCheck(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/check", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCheck_OK(t *testing.T) {
	svc := &fakeThreatService{result: workedExample()}
	rec := postCheck(t, newTestRouter(svc, nil), `{"query":"EXAMPLE.com "}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "EXAMPLE.com ", svc.lastRaw)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "example.com", body["query"])
	assert.Equal(t, "Malicious", body["verdict"])
	assert.Equal(t, 80.0, body["score"])
	assert.Equal(t, []any{"A", "1 provider(s) unavailable"}, body["reasons"])

	providers := body["providers"].(map[string]any)
	a := providers["A"].(map[string]any)
	assert.Equal(t, "A", a["provider"])
	assert.Equal(t, true, a["is_malicious"])
	assert.Equal(t, 35.0, a["latency_ms"])

	failures := body["failures"].([]any)
	require.Len(t, failures, 1)
	assert.Equal(t, "timeout", failures[0].(map[string]any)["kind"])
	assert.Equal(t, "2024-05-01T10:00:00Z", body["checked_at"])
}

func TestCheck_UnknownHasNullScore(t *testing.T) {
	svc := &fakeThreatService{result: &entity.AggregatedResult{
		Query:     query.MustNormalize("1.2.3.4"),
		Verdict:   entity.VerdictUnknown,
		Providers: map[string]entity.ProviderResult{},
		Reasons:   []string{"2 provider(s) unavailable"},
		Failures:  []entity.ProviderFailure{},
	}}
	rec := postCheck(t, newTestRouter(svc, nil), `{"query":"1.2.3.4"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"score":null`)
}

func TestCheck_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"query":`},
		{"wrong type", `{"query": 42}`},
		{"empty query", `{"query": ""}`},
		{"missing query", `{}`},
		{"not a host", `{"query": "999.1.1.1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postCheck(t, newTestRouter(&fakeThreatService{result: workedExample()}, nil), tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body ErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Detail)
		})
	}
}

func TestCheck_ServerErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"configuration", fmt.Errorf("check 1.2.3.4: %w", entity.ErrConfiguration)},
		{"unexpected", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postCheck(t, newTestRouter(&fakeThreatService{err: tt.err}, nil), `{"query":"1.2.3.4"}`)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)

			var body ErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.err.Error(), body.Detail)
		})
	}
}

func TestCheck_OversizedBody(t *testing.T) {
	big := `{"query":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rec := postCheck(t, newTestRouter(&fakeThreatService{}, nil), big)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheck_MethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/check", nil)
	rec := httptest.NewRecorder()
	newTestRouter(&fakeThreatService{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProvidersAndCache(t *testing.T) {
	h := newTestRouter(&fakeThreatService{}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/providers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"AbuseIPDB"`)
	assert.Contains(t, rec.Body.String(), `"kinds":["ip"]`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats threatintel.CacheStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0.75, stats.HitRate)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache/clear", bytes.NewReader(nil)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClearCache_Error(t *testing.T) {
	h := newTestRouter(&fakeThreatService{clearErr: errors.New("redis down")}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis down")
}

func TestInvalidate(t *testing.T) {
	svc := &fakeThreatService{}
	h := newTestRouter(svc, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache/invalidate", strings.NewReader(`{"query":"Example.COM"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"invalidated":"example.com"}`, rec.Body.String())
	assert.Equal(t, []string{"domain:example.com"}, svc.invalidated)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache/invalidate", strings.NewReader(`{"query":"999.1.1.1"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache/invalidate", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestRouter(&fakeThreatService{}, map[string]Pinger{
		"redis": fakePinger{err: errors.New("connection refused")},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "ok", health.Checks["api"])
	assert.Equal(t, "connection refused", health.Checks["redis"])
	assert.Equal(t, "test", health.Environment)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}
