package threatintel

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// PulsediveClient handles communication with Pulsedive API.
// Pulsedive links indicators to threat actors, campaigns and feeds.
type PulsediveClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// PulsediveConfig holds Pulsedive client configuration
type PulsediveConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewPulsediveClient creates a new Pulsedive client
func NewPulsediveClient(cfg PulsediveConfig) *PulsediveClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://pulsedive.com/api"
	}

	return &PulsediveClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: newHTTPClient(cfg.Timeout),
	}
}

// PulsediveResponse represents the API response for indicator info
type PulsediveResponse struct {
	Indicator   string            `json:"indicator"`
	Type        string            `json:"type"`
	Risk        string            `json:"risk"` // none, low, medium, high, critical, unknown
	RiskFactors []PulsediveRisk   `json:"riskfactors"`
	Threats     []PulsediveThreat `json:"threats"`
	Feeds       []PulsediveFeed   `json:"feeds"`
	Stamp       string            `json:"stamp_seen"`
}

// PulsediveRisk represents a risk factor
type PulsediveRisk struct {
	Description string `json:"description"`
	Risk        string `json:"risk"`
}

// PulsediveThreat represents an associated threat
type PulsediveThreat struct {
	Name     string `json:"name"`
	Category string `json:"category"` // malware, actor, campaign
}

// PulsediveFeed represents a threat feed
type PulsediveFeed struct {
	Name string `json:"name"`
}

// PulsediveResult is the detail kept with the provider result
type PulsediveResult struct {
	Risk            string   `json:"risk"`
	RiskFactors     []string `json:"risk_factors,omitempty"`
	ThreatActors    []string `json:"threat_actors,omitempty"`
	Campaigns       []string `json:"campaigns,omitempty"`
	MalwareFamilies []string `json:"malware_families,omitempty"`
	FeedCount       int      `json:"feed_count"`
	LastSeen        string   `json:"last_seen,omitempty"`
}

// Name returns the provider name
func (c *PulsediveClient) Name() string {
	return pulsediveName
}

// Supports reports true for both IP and domain queries
func (c *PulsediveClient) Supports(kind entity.QueryKind) bool {
	return kind == entity.QueryKindIP || kind == entity.QueryKindDomain
}

// Check queries Pulsedive for indicator information
func (c *PulsediveClient) Check(ctx context.Context, q entity.NormalizedQuery) (*entity.ProviderResult, error) {
	params := url.Values{}
	params.Set("indicator", q.Value)
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/info.php?"+params.Encode(), nil)
	if err != nil {
		return nil, requestFailure(c.Name(), err)
	}
	req.Header.Set("Accept", "application/json")

	status, body, err := fetch(c.httpClient, c.Name(), req)
	if err != nil {
		return nil, err
	}

	// Unknown indicator
	if status == http.StatusNotFound {
		return newResult(c.Name(), false, 0, PulsediveResult{Risk: "unknown"}), nil
	}

	var apiResp PulsediveResponse
	if err := decode(c.Name(), body, &apiResp); err != nil {
		return nil, err
	}

	detail := processPulsedive(&apiResp)
	malicious := apiResp.Risk == "high" || apiResp.Risk == "critical"

	return newResult(c.Name(), malicious, pulsediveScore(&apiResp), detail), nil
}

func processPulsedive(resp *PulsediveResponse) PulsediveResult {
	result := PulsediveResult{
		Risk:      resp.Risk,
		FeedCount: len(resp.Feeds),
		LastSeen:  resp.Stamp,
	}

	for _, rf := range resp.RiskFactors {
		result.RiskFactors = append(result.RiskFactors, rf.Description)
	}
	for _, t := range resp.Threats {
		switch t.Category {
		case "actor":
			result.ThreatActors = append(result.ThreatActors, t.Name)
		case "campaign":
			result.Campaigns = append(result.Campaigns, t.Name)
		case "malware":
			result.MalwareFamilies = append(result.MalwareFamilies, t.Name)
		}
	}

	return result
}

// pulsediveScore determines threat score based on Pulsedive data
func pulsediveScore(resp *PulsediveResponse) int {
	var score int
	switch resp.Risk {
	case "critical":
		score = 90
	case "high":
		score = 70
	case "medium":
		score = 45
	case "low":
		score = 20
	}

	for _, threat := range resp.Threats {
		switch threat.Category {
		case "actor":
			score += 15
		case "malware":
			score += 12
		case "campaign":
			score += 10
		default:
			score += 5
		}
	}

	score += min(len(resp.Feeds)*3, 20)
	score += len(resp.RiskFactors) * 5

	return min(score, 100)
}
