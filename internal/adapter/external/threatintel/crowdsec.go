package threatintel

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// CrowdSecClient queries the CrowdSec CTI smoke endpoint.
// Provides: reputation, behaviors, background noise, IP range score, MITRE techniques
type CrowdSecClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// CrowdSecConfig holds configuration for CrowdSec client
type CrowdSecConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// CrowdSecResponse represents the CTI API response
type CrowdSecResponse struct {
	IP                   string                 `json:"ip"`
	IPRangeScore         int                    `json:"ip_range_score"`
	IPRange24Reputation  string                 `json:"ip_range_24_reputation"`
	ASName               string                 `json:"as_name"`
	Reputation           string                 `json:"reputation"`             // malicious, suspicious, unknown, known, safe
	BackgroundNoiseScore int                    `json:"background_noise_score"` // 0-10
	Confidence           string                 `json:"confidence"`             // low, medium, high
	Behaviors            []CrowdSecBehavior     `json:"behaviors"`
	Classifications      CrowdSecClassification `json:"classifications"`
	MitreTechniques      []CrowdSecBehavior     `json:"mitre_techniques"`
	CVEs                 []string               `json:"cves"`
}

// CrowdSecBehavior represents an observed attack behavior or technique
type CrowdSecBehavior struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// CrowdSecClassification holds false positive information
type CrowdSecClassification struct {
	FalsePositives []CrowdSecBehavior `json:"false_positives"`
}

// CrowdSecResult is the detail kept with the provider result
type CrowdSecResult struct {
	Reputation      string   `json:"reputation"`
	Confidence      string   `json:"confidence,omitempty"`
	BackgroundNoise int      `json:"background_noise_score"`
	ASName          string   `json:"as_name,omitempty"`
	Behaviors       []string `json:"behaviors,omitempty"`
	MitreTechniques []string `json:"mitre_techniques,omitempty"`
	CVEs            []string `json:"cves,omitempty"`
	FalsePositive   bool     `json:"false_positive"`
}

// NewCrowdSecClient creates a new CrowdSec CTI client
func NewCrowdSecClient(cfg CrowdSecConfig) *CrowdSecClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://cti.api.crowdsec.net/v2"
	}

	return &CrowdSecClient{
		httpClient: newHTTPClient(cfg.Timeout),
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
	}
}

// Name returns the provider name
func (c *CrowdSecClient) Name() string {
	return crowdSecName
}

// Supports reports true for IP queries only
func (c *CrowdSecClient) Supports(kind entity.QueryKind) bool {
	return kind == entity.QueryKindIP
}

// Check queries CrowdSec CTI for an IP address
func (c *CrowdSecClient) Check(ctx context.Context, q entity.NormalizedQuery) (*entity.ProviderResult, error) {
	if !c.Supports(q.Kind) {
		return nil, entity.NewProviderFailure(c.Name(), entity.FailureError, "%s queries not supported", q.Kind)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/smoke/"+q.Value, nil)
	if err != nil {
		return nil, requestFailure(c.Name(), err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	status, body, err := fetch(c.httpClient, c.Name(), req)
	if err != nil {
		return nil, err
	}

	// Never reported to the network
	if status == http.StatusNotFound {
		return newResult(c.Name(), false, 0, CrowdSecResult{Reputation: "unknown"}), nil
	}

	var csResp CrowdSecResponse
	if err := decode(c.Name(), body, &csResp); err != nil {
		return nil, err
	}

	detail := CrowdSecResult{
		Reputation:      csResp.Reputation,
		Confidence:      csResp.Confidence,
		BackgroundNoise: csResp.BackgroundNoiseScore,
		ASName:          csResp.ASName,
		CVEs:            csResp.CVEs,
		FalsePositive:   len(csResp.Classifications.FalsePositives) > 0,
	}
	for _, b := range csResp.Behaviors {
		detail.Behaviors = append(detail.Behaviors, b.Name)
	}
	for _, m := range csResp.MitreTechniques {
		detail.MitreTechniques = append(detail.MitreTechniques, m.Name)
	}

	malicious := strings.EqualFold(csResp.Reputation, "malicious") && !detail.FalsePositive

	return newResult(c.Name(), malicious, crowdSecScore(&csResp), detail), nil
}

// crowdSecScore calculates a normalized threat score (0-100)
func crowdSecScore(resp *CrowdSecResponse) int {
	var score int
	switch strings.ToLower(resp.Reputation) {
	case "malicious":
		score = 70
	case "suspicious":
		score = 50
	case "known":
		score = 30
	case "unknown":
		score = 10
	}

	// High background noise is more suspicious
	switch {
	case resp.BackgroundNoiseScore >= 7:
		score += 15
	case resp.BackgroundNoiseScore >= 4:
		score += 10
	}

	switch strings.ToLower(resp.IPRange24Reputation) {
	case "malicious":
		score += 10
	case "suspicious":
		score += 5
	}

	switch {
	case resp.IPRangeScore >= 4:
		score += 10
	case resp.IPRangeScore >= 2:
		score += 5
	}

	score += min(len(resp.Behaviors)*3, 15)
	for _, b := range resp.Behaviors {
		name := strings.ToLower(b.Name)
		switch {
		case strings.Contains(name, "exploit"):
			score += 10
		case strings.Contains(name, "bruteforce"):
			score += 8
		case strings.Contains(name, "scan"):
			score += 3
		}
	}

	score += min(len(resp.MitreTechniques)*2, 10)
	score += min(len(resp.CVEs)*3, 10)

	switch strings.ToLower(resp.Confidence) {
	case "medium":
		score = score * 9 / 10
	case "low":
		score = score * 7 / 10
	}

	// Known false positives (CDN, VPN, etc.)
	if len(resp.Classifications.FalsePositives) > 0 {
		score = score * 6 / 10
	}

	return min(score, 100)
}
