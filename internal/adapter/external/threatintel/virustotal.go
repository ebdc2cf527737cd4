package threatintel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// VirusTotalClient handles communication with VirusTotal API
type VirusTotalClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// VirusTotalConfig holds VirusTotal client configuration
type VirusTotalConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewVirusTotalClient creates a new VirusTotal client
func NewVirusTotalClient(cfg VirusTotalConfig) *VirusTotalClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.virustotal.com/api/v3"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &VirusTotalClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		httpClient: newHTTPClient(cfg.Timeout),
	}
}

// VirusTotalResponse represents the API response for IP and domain objects
type VirusTotalResponse struct {
	Data struct {
		Type       string               `json:"type"`
		ID         string               `json:"id"`
		Attributes VirusTotalAttributes `json:"attributes"`
	} `json:"data"`
}

// VirusTotalAttributes contains the fields shared by IP and domain objects
type VirusTotalAttributes struct {
	Reputation        int                     `json:"reputation"`
	LastAnalysisStats VirusTotalAnalysisStats `json:"last_analysis_stats"`
	Tags              []string                `json:"tags"`
	Country           string                  `json:"country"`
	ASOwner           string                  `json:"as_owner"`
	LastAnalysisDate  int64                   `json:"last_analysis_date"`
}

// VirusTotalAnalysisStats contains detection statistics
type VirusTotalAnalysisStats struct {
	Harmless   int `json:"harmless"`
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Timeout    int `json:"timeout"`
	Undetected int `json:"undetected"`
}

// VirusTotalResult is the detail kept with the provider result
type VirusTotalResult struct {
	Reputation      int      `json:"reputation"`
	MaliciousCount  int      `json:"malicious_count"`
	SuspiciousCount int      `json:"suspicious_count"`
	HarmlessCount   int      `json:"harmless_count"`
	TotalEngines    int      `json:"total_engines"`
	Tags            []string `json:"tags,omitempty"`
	Country         string   `json:"country,omitempty"`
	ASOwner         string   `json:"as_owner,omitempty"`
	Found           bool     `json:"found"`
}

// Check queries VirusTotal for IP or domain reputation
func (c *VirusTotalClient) Check(ctx context.Context, q entity.NormalizedQuery) (*entity.ProviderResult, error) {
	collection := "ip_addresses"
	if q.Kind == entity.QueryKindDomain {
		collection = "domains"
	}
	reqURL := fmt.Sprintf("%s/%s/%s", c.baseURL, collection, url.PathEscape(q.Value))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, requestFailure(c.Name(), err)
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	status, body, err := fetch(c.httpClient, c.Name(), req)
	if err != nil {
		return nil, err
	}

	// Not in the VT dataset: clean with zero score
	if status == http.StatusNotFound {
		return newResult(c.Name(), false, 0, VirusTotalResult{}), nil
	}

	var apiResp VirusTotalResponse
	if err := decode(c.Name(), body, &apiResp); err != nil {
		return nil, err
	}

	attrs := apiResp.Data.Attributes
	stats := attrs.LastAnalysisStats
	detail := VirusTotalResult{
		Reputation:      attrs.Reputation,
		MaliciousCount:  stats.Malicious,
		SuspiciousCount: stats.Suspicious,
		HarmlessCount:   stats.Harmless,
		TotalEngines:    stats.Harmless + stats.Malicious + stats.Suspicious + stats.Undetected,
		Tags:            attrs.Tags,
		Country:         attrs.Country,
		ASOwner:         attrs.ASOwner,
		Found:           true,
	}

	score := stats.Malicious*20 + stats.Suspicious*10
	malicious := stats.Malicious > 0 || attrs.Reputation < 0

	return newResult(c.Name(), malicious, score, detail), nil
}

// Name returns the provider name
func (c *VirusTotalClient) Name() string {
	return virusTotalName
}

// Supports reports true for both IP and domain queries
func (c *VirusTotalClient) Supports(kind entity.QueryKind) bool {
	return kind == entity.QueryKindIP || kind == entity.QueryKindDomain
}
