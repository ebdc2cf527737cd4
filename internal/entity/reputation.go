package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/netip"
	"slices"
	"time"
)

// QueryKind is the identity class of a normalized query
type QueryKind string

const (
	QueryKindIP     QueryKind = "ip"
	QueryKindDomain QueryKind = "domain"
)

// NormalizedQuery is the canonical form of an IP address or domain name.
// The zero value means the input was never normalized.
type NormalizedQuery struct {
	Kind  QueryKind
	Value string
}

// IsZero reports whether q was produced by the normalizer
func (q NormalizedQuery) IsZero() bool {
	return q.Kind == "" || q.Value == ""
}

// Key returns the cache and single-flight key for q
func (q NormalizedQuery) Key() string {
	return string(q.Kind) + ":" + q.Value
}

func (q NormalizedQuery) String() string {
	return q.Value
}

// Addr returns the parsed address of an IP query
func (q NormalizedQuery) Addr() (netip.Addr, bool) {
	if q.Kind != QueryKindIP {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(q.Value)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

// MarshalJSON renders the query as its canonical string
func (q NormalizedQuery) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.Value)
}

// UnmarshalJSON restores a query written by MarshalJSON. The kind is
// recovered from the value since canonical IPs never parse as domains.
func (q *NormalizedQuery) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	q.Value = value
	q.Kind = QueryKindDomain
	if _, err := netip.ParseAddr(value); err == nil {
		q.Kind = QueryKindIP
	}
	return nil
}

// Verdict is the final three-way classification
type Verdict string

const (
	VerdictMalicious Verdict = "Malicious"
	VerdictClean     Verdict = "Clean"
	VerdictUnknown   Verdict = "Unknown"
)

// ProviderResult is a usable opinion returned by one provider
type ProviderResult struct {
	Provider    string          `json:"provider"`
	IsMalicious bool            `json:"is_malicious"`
	Score       float64         `json:"score"` // 0-100
	Latency     time.Duration   `json:"-"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

type providerResultJSON struct {
	Provider    string          `json:"provider"`
	IsMalicious bool            `json:"is_malicious"`
	Score       float64         `json:"score"`
	LatencyMS   int64           `json:"latency_ms"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

func (r ProviderResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(providerResultJSON{
		Provider:    r.Provider,
		IsMalicious: r.IsMalicious,
		Score:       r.Score,
		LatencyMS:   r.Latency.Milliseconds(),
		Raw:         r.Raw,
	})
}

func (r *ProviderResult) UnmarshalJSON(data []byte) error {
	var aux providerResultJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = ProviderResult{
		Provider:    aux.Provider,
		IsMalicious: aux.IsMalicious,
		Score:       aux.Score,
		Latency:     time.Duration(aux.LatencyMS) * time.Millisecond,
		Raw:         aux.Raw,
	}
	return nil
}

// FailureKind classifies why a provider produced no usable result
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureError       FailureKind = "error"
	FailureRateLimited FailureKind = "rate_limited"
)

// ProviderFailure is returned by provider adapters instead of a result
type ProviderFailure struct {
	Provider string      `json:"provider"`
	Kind     FailureKind `json:"kind"`
	Detail   string      `json:"detail,omitempty"`
}

func (f *ProviderFailure) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("%s: %s", f.Provider, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", f.Provider, f.Kind, f.Detail)
}

// NewProviderFailure builds a failure with a formatted detail
func NewProviderFailure(provider string, kind FailureKind, format string, args ...any) *ProviderFailure {
	return &ProviderFailure{
		Provider: provider,
		Kind:     kind,
		Detail:   fmt.Sprintf(format, args...),
	}
}

// Outcome is what one provider produced during an aggregation pass.
// It is either Success or Failure.
type Outcome interface {
	outcome()
}

// Success wraps a usable provider result
type Success struct {
	Result ProviderResult
}

// Failure wraps a provider that did not yield a result
type Failure struct {
	Failure ProviderFailure
}

func (Success) outcome() {}
func (Failure) outcome() {}

// AggregatedResult is the reconciled verdict for one query
type AggregatedResult struct {
	Query     NormalizedQuery           `json:"query"`
	Verdict   Verdict                   `json:"verdict"`
	Score     *float64                  `json:"score"` // nil when no provider succeeded
	Providers map[string]ProviderResult `json:"providers"`
	Reasons   []string                  `json:"reasons"`
	Failures  []ProviderFailure         `json:"failures"`
	CheckedAt time.Time                 `json:"checked_at"`
}

// Clone returns a copy that shares no mutable state with r
func (r *AggregatedResult) Clone() *AggregatedResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Score != nil {
		score := *r.Score
		out.Score = &score
	}
	if r.Providers != nil {
		out.Providers = make(map[string]ProviderResult, len(r.Providers))
		for name, res := range r.Providers {
			res.Raw = bytes.Clone(res.Raw)
			out.Providers[name] = res
		}
	}
	out.Reasons = slices.Clone(r.Reasons)
	out.Failures = slices.Clone(r.Failures)
	return &out
}

// CacheEntry is a cached aggregated result with its absolute expiry
type CacheEntry struct {
	Key       string            `json:"key"`
	Value     *AggregatedResult `json:"value"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Expired reports whether the entry is no longer valid at now
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
