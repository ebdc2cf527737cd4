package threatintel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// abuseIPDBMaliciousConfidence is the confidence score from which an IP is flagged
const abuseIPDBMaliciousConfidence = 25

// AbuseIPDBClient handles communication with AbuseIPDB API
type AbuseIPDBClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// AbuseIPDBConfig holds AbuseIPDB client configuration
type AbuseIPDBConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewAbuseIPDBClient creates a new AbuseIPDB client
func NewAbuseIPDBClient(cfg AbuseIPDBConfig) *AbuseIPDBClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.abuseipdb.com/api/v2"
	}

	return &AbuseIPDBClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		httpClient: newHTTPClient(cfg.Timeout),
	}
}

// AbuseIPDBResponse represents the API response for IP check
type AbuseIPDBResponse struct {
	Data AbuseIPDBData `json:"data"`
}

// AbuseIPDBData contains the IP information
type AbuseIPDBData struct {
	IPAddress            string `json:"ipAddress"`
	IsPublic             bool   `json:"isPublic"`
	IsWhitelisted        bool   `json:"isWhitelisted"`
	AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
	CountryCode          string `json:"countryCode"`
	UsageType            string `json:"usageType"`
	ISP                  string `json:"isp"`
	Domain               string `json:"domain"`
	TotalReports         int    `json:"totalReports"`
	NumDistinctUsers     int    `json:"numDistinctUsers"`
	LastReportedAt       string `json:"lastReportedAt"`
	IsTor                bool   `json:"isTor"`
}

// AbuseIPDBResult is the detail kept with the provider result
type AbuseIPDBResult struct {
	AbuseConfidenceScore int    `json:"abuse_confidence_score"`
	TotalReports         int    `json:"total_reports"`
	CountryCode          string `json:"country_code,omitempty"`
	ISP                  string `json:"isp,omitempty"`
	UsageType            string `json:"usage_type,omitempty"`
	IsTor                bool   `json:"is_tor"`
	IsWhitelisted        bool   `json:"is_whitelisted"`
	LastReportedAt       string `json:"last_reported_at,omitempty"`
}

// Check queries AbuseIPDB for IP reputation
func (c *AbuseIPDBClient) Check(ctx context.Context, q entity.NormalizedQuery) (*entity.ProviderResult, error) {
	if !c.Supports(q.Kind) {
		return nil, entity.NewProviderFailure(c.Name(), entity.FailureError, "%s queries not supported", q.Kind)
	}

	reqURL := fmt.Sprintf("%s/check?ipAddress=%s&maxAgeInDays=90", c.baseURL, url.QueryEscape(q.Value))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, requestFailure(c.Name(), err)
	}
	req.Header.Set("Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	status, body, err := fetch(c.httpClient, c.Name(), req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, entity.NewProviderFailure(c.Name(), entity.FailureError, "API error: status %d", status)
	}

	var apiResp AbuseIPDBResponse
	if err := decode(c.Name(), body, &apiResp); err != nil {
		return nil, err
	}

	d := apiResp.Data
	detail := AbuseIPDBResult{
		AbuseConfidenceScore: d.AbuseConfidenceScore,
		TotalReports:         d.TotalReports,
		CountryCode:          d.CountryCode,
		ISP:                  d.ISP,
		UsageType:            d.UsageType,
		IsTor:                d.IsTor,
		IsWhitelisted:        d.IsWhitelisted,
		LastReportedAt:       d.LastReportedAt,
	}

	// Confidence is already on a 0-100 scale
	return newResult(c.Name(), d.AbuseConfidenceScore >= abuseIPDBMaliciousConfidence, d.AbuseConfidenceScore, detail), nil
}

// Name returns the provider name
func (c *AbuseIPDBClient) Name() string {
	return abuseIPDBName
}

// Supports reports true for IP queries only
func (c *AbuseIPDBClient) Supports(kind entity.QueryKind) bool {
	return kind == entity.QueryKindIP
}
