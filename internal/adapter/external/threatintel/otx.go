package threatintel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// otxMaliciousPulses is the pulse count from which an indicator is flagged
const otxMaliciousPulses = 3

// OTXClient handles communication with AlienVault OTX API
type OTXClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// OTXConfig holds OTX client configuration
type OTXConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewOTXClient creates a new AlienVault OTX client
func NewOTXClient(cfg OTXConfig) *OTXClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://otx.alienvault.com/api/v1"
	}

	return &OTXClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		httpClient: newHTTPClient(cfg.Timeout),
	}
}

// OTXGeneralResponse represents the general section of an indicator
type OTXGeneralResponse struct {
	Indicator   string       `json:"indicator"`
	Type        string       `json:"type"`
	Reputation  int          `json:"reputation"`
	CountryCode string       `json:"country_code"`
	ASN         string       `json:"asn"`
	PulseInfo   OTXPulseInfo `json:"pulse_info"`
}

// OTXPulseInfo contains pulse (threat feed) information
type OTXPulseInfo struct {
	Count  int        `json:"count"`
	Pulses []OTXPulse `json:"pulses"`
}

// OTXPulse represents a single threat feed entry
type OTXPulse struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Tags            []string `json:"tags"`
	Adversary       string   `json:"adversary"`
	MalwareFamilies []string `json:"malware_families"`
}

// OTXResult is the detail kept with the provider result
type OTXResult struct {
	PulseCount      int      `json:"pulse_count"`
	Reputation      int      `json:"reputation"`
	CountryCode     string   `json:"country_code,omitempty"`
	ASN             string   `json:"asn,omitempty"`
	MalwareFamilies []string `json:"malware_families,omitempty"`
	Adversaries     []string `json:"adversaries,omitempty"`
}

// Check queries AlienVault OTX for indicator reputation
func (c *OTXClient) Check(ctx context.Context, q entity.NormalizedQuery) (*entity.ProviderResult, error) {
	reqURL := fmt.Sprintf("%s/indicators/%s/%s/general", c.baseURL, otxSection(q), url.PathEscape(q.Value))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, requestFailure(c.Name(), err)
	}
	req.Header.Set("X-OTX-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	status, body, err := fetch(c.httpClient, c.Name(), req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return newResult(c.Name(), false, 0, OTXResult{}), nil
	}

	var general OTXGeneralResponse
	if err := decode(c.Name(), body, &general); err != nil {
		return nil, err
	}

	malware := make(map[string]bool)
	adversaries := make(map[string]bool)
	for _, pulse := range general.PulseInfo.Pulses {
		for _, mf := range pulse.MalwareFamilies {
			malware[mf] = true
		}
		if pulse.Adversary != "" {
			adversaries[pulse.Adversary] = true
		}
	}

	detail := OTXResult{
		PulseCount:      general.PulseInfo.Count,
		Reputation:      general.Reputation,
		CountryCode:     general.CountryCode,
		ASN:             general.ASN,
		MalwareFamilies: sortedKeys(malware),
		Adversaries:     sortedKeys(adversaries),
	}

	return newResult(c.Name(), detail.PulseCount >= otxMaliciousPulses, otxScore(detail), detail), nil
}

// otxScore weighs pulse count (max 50) and malware families (max 20)
func otxScore(r OTXResult) int {
	score := min(r.PulseCount*5, 50)
	score += min(len(r.MalwareFamilies)*5, 20)
	return score
}

func otxSection(q entity.NormalizedQuery) string {
	if addr, ok := q.Addr(); ok {
		if addr.Is4() {
			return "IPv4"
		}
		return "IPv6"
	}
	// OTX files subdomains under "hostname"
	if strings.Count(q.Value, ".") > 1 {
		return "hostname"
	}
	return "domain"
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Name returns the provider name
func (c *OTXClient) Name() string {
	return otxName
}

// Supports reports true for both IP and domain queries
func (c *OTXClient) Supports(kind entity.QueryKind) bool {
	return kind == entity.QueryKindIP || kind == entity.QueryKindDomain
}
