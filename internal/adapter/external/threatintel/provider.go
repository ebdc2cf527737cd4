package threatintel

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// Registered provider names
const (
	abuseIPDBName  = "AbuseIPDB"
	virusTotalName = "VirusTotal"
	greyNoiseName  = "GreyNoise"
	otxName        = "AlienVault OTX"
	urlhausName    = "URLhaus"
	shodanName     = "Shodan InternetDB"
	dnsblName      = "DNSBL"
	threatFoxName  = "ThreatFox"
	pulsediveName  = "Pulsedive"
	crowdSecName   = "CrowdSec CTI"
)

// Provider is a reputation source queried during aggregation.
// Check must honour ctx cancellation and report every problem as a
// *entity.ProviderFailure; it never panics on network or parse errors.
type Provider interface {
	Name() string
	Supports(kind entity.QueryKind) bool
	Check(ctx context.Context, q entity.NormalizedQuery) (*entity.ProviderResult, error)
}

// Registration binds a provider to its aggregation weight
type Registration struct {
	Provider Provider
	// Weight of the provider in the score mean. Zero means 1.
	Weight float64
	// Timeout overrides the aggregator's per-provider timeout when > 0
	Timeout time.Duration
}

// Name returns the registered provider name
func (r Registration) Name() string {
	return r.Provider.Name()
}

// ProviderStatus describes a registered provider
type ProviderStatus struct {
	Name    string             `json:"name"`
	Weight  float64            `json:"weight"`
	Timeout string             `json:"timeout"`
	Kinds   []entity.QueryKind `json:"kinds"`
}

// newResult builds a provider result carrying the adapter's processed detail
func newResult(provider string, malicious bool, score int, detail any) *entity.ProviderResult {
	raw, err := json.Marshal(detail)
	if err != nil {
		raw = nil
	}
	return &entity.ProviderResult{
		Provider:    provider,
		IsMalicious: malicious,
		Score:       float64(clampScore(score)),
		Raw:         raw,
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
