package threatintel

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// URLhausConfig holds configuration for URLhaus client
type URLhausConfig struct {
	APIKey  string // Auth-Key from auth.abuse.ch
	BaseURL string
	Timeout time.Duration
}

// URLhausClient queries abuse.ch URLhaus for hosts serving malicious URLs
type URLhausClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// URLhausHostResponse represents the host lookup response
type URLhausHostResponse struct {
	QueryStatus string            `json:"query_status"`
	Host        string            `json:"host"`
	FirstSeen   string            `json:"firstseen"`
	URLCount    int               `json:"url_count"`
	Blacklists  URLhausBlacklists `json:"blacklists"`
	URLs        []URLhausURL      `json:"urls"`
}

// URLhausBlacklists contains blacklist status
type URLhausBlacklists struct {
	SpamhausDbl string `json:"spamhaus_dbl"`
	SurblMulti  string `json:"surbl_multi"`
}

// URLhausURL represents a malicious URL entry
type URLhausURL struct {
	URLStatus string   `json:"url_status"`
	Threat    string   `json:"threat"`
	Tags      []string `json:"tags"`
}

// URLhausResult is the detail kept with the provider result
type URLhausResult struct {
	Found       bool     `json:"found"`
	FirstSeen   string   `json:"first_seen,omitempty"`
	URLCount    int      `json:"url_count,omitempty"`
	ActiveURLs  int      `json:"active_urls,omitempty"`
	ThreatTypes []string `json:"threat_types,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	SpamhausDbl bool     `json:"spamhaus_dbl"`
	SurblListed bool     `json:"surbl_listed"`
}

// NewURLhausClient creates a new URLhaus client
func NewURLhausClient(cfg URLhausConfig) *URLhausClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://urlhaus-api.abuse.ch/v1/"
	}

	return &URLhausClient{
		httpClient: newHTTPClient(cfg.Timeout),
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/") + "/",
		apiKey:     cfg.APIKey,
	}
}

// Name returns the provider name
func (c *URLhausClient) Name() string {
	return urlhausName
}

// Supports reports true for both IP and domain queries
func (c *URLhausClient) Supports(kind entity.QueryKind) bool {
	return kind == entity.QueryKindIP || kind == entity.QueryKindDomain
}

// Check queries URLhaus for an IP or host
func (c *URLhausClient) Check(ctx context.Context, q entity.NormalizedQuery) (*entity.ProviderResult, error) {
	// URLhaus expects form-encoded data for host lookup
	data := url.Values{}
	data.Set("host", q.Value)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"host/", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, requestFailure(c.Name(), err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Auth-Key", c.apiKey)

	status, body, err := fetch(c.httpClient, c.Name(), req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, entity.NewProviderFailure(c.Name(), entity.FailureError, "API error: status %d", status)
	}

	var uhResp URLhausHostResponse
	if err := decode(c.Name(), body, &uhResp); err != nil {
		return nil, err
	}

	switch uhResp.QueryStatus {
	case "ok", "no_results":
	default:
		return nil, entity.NewProviderFailure(c.Name(), entity.FailureError, "query status %q", uhResp.QueryStatus)
	}

	detail := processURLhaus(&uhResp)
	score := urlhausScore(detail)
	malicious := detail.ActiveURLs > 0 || score >= 50

	return newResult(c.Name(), malicious, score, detail), nil
}

// processURLhaus converts a URLhaus response to our result format
func processURLhaus(resp *URLhausHostResponse) URLhausResult {
	if resp.QueryStatus != "ok" {
		return URLhausResult{}
	}

	result := URLhausResult{
		Found:       true,
		FirstSeen:   resp.FirstSeen,
		URLCount:    resp.URLCount,
		SpamhausDbl: resp.Blacklists.SpamhausDbl == "listed",
		SurblListed: resp.Blacklists.SurblMulti == "listed",
	}

	threatTypes := make(map[string]bool)
	tagSet := make(map[string]bool)
	for _, u := range resp.URLs {
		if u.URLStatus == "online" {
			result.ActiveURLs++
		}
		if u.Threat != "" {
			threatTypes[u.Threat] = true
		}
		for _, tag := range u.Tags {
			tagSet[tag] = true
		}
	}
	result.ThreatTypes = sortedKeys(threatTypes)
	result.Tags = sortedKeys(tagSet)

	return result
}

// urlhausScore calculates threat score based on URLhaus data
func urlhausScore(result URLhausResult) int {
	if !result.Found {
		return 0
	}

	// Base score for being in URLhaus
	score := 50

	// Active malicious URLs are more dangerous
	if result.ActiveURLs > 0 {
		score += min(result.ActiveURLs*10, 30)
	}
	if result.URLCount > 5 {
		score += 10
	}
	if result.SpamhausDbl {
		score += 10
	}
	if result.SurblListed {
		score += 10
	}

	for _, t := range result.ThreatTypes {
		switch t {
		case "malware_download":
			score += 15
		case "phishing":
			score += 10
		}
	}

	return min(score, 100)
}
