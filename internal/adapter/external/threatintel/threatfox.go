package threatintel

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// ThreatFoxConfig holds configuration for ThreatFox client
type ThreatFoxConfig struct {
	APIKey  string // Auth-Key from auth.abuse.ch
	BaseURL string
	Timeout time.Duration
}

// ThreatFoxClient queries abuse.ch ThreatFox for IOCs matching an IP or domain
type ThreatFoxClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// ThreatFoxResponse represents the search_ioc response.
// Data is an array when IOCs were found and a string otherwise.
type ThreatFoxResponse struct {
	QueryStatus string          `json:"query_status"`
	Data        json.RawMessage `json:"data"`
}

// ThreatFoxIOC represents an indicator of compromise
type ThreatFoxIOC struct {
	IOC              string   `json:"ioc"`
	ThreatType       string   `json:"threat_type"`
	MalwarePrintable string   `json:"malware_printable"`
	Confidence       int      `json:"confidence_level"`
	FirstSeen        string   `json:"first_seen"`
	LastSeen         string   `json:"last_seen"`
	Tags             []string `json:"tags"`
}

// ThreatFoxResult is the detail kept with the provider result
type ThreatFoxResult struct {
	IOCCount    int      `json:"ioc_count"`
	ThreatTypes []string `json:"threat_types,omitempty"`
	Malware     []string `json:"malware,omitempty"`
	Confidence  int      `json:"confidence,omitempty"`
	FirstSeen   string   `json:"first_seen,omitempty"`
	LastSeen    string   `json:"last_seen,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// NewThreatFoxClient creates a new ThreatFox client
func NewThreatFoxClient(cfg ThreatFoxConfig) *ThreatFoxClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://threatfox-api.abuse.ch/api/v1/"
	}

	return &ThreatFoxClient{
		httpClient: newHTTPClient(cfg.Timeout),
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/") + "/",
		apiKey:     cfg.APIKey,
	}
}

// Name returns the provider name
func (c *ThreatFoxClient) Name() string {
	return threatFoxName
}

// Supports reports true for both IP and domain queries
func (c *ThreatFoxClient) Supports(kind entity.QueryKind) bool {
	return kind == entity.QueryKindIP || kind == entity.QueryKindDomain
}

// Check searches ThreatFox for IOCs equal to the query value
func (c *ThreatFoxClient) Check(ctx context.Context, q entity.NormalizedQuery) (*entity.ProviderResult, error) {
	payload, err := json.Marshal(map[string]string{
		"query":       "search_ioc",
		"search_term": q.Value,
	})
	if err != nil {
		return nil, requestFailure(c.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, requestFailure(c.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Auth-Key", c.apiKey)

	status, body, err := fetch(c.httpClient, c.Name(), req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, entity.NewProviderFailure(c.Name(), entity.FailureError, "API error: status %d", status)
	}

	var tfResp ThreatFoxResponse
	if err := decode(c.Name(), body, &tfResp); err != nil {
		return nil, err
	}

	var iocs []ThreatFoxIOC
	switch tfResp.QueryStatus {
	case "ok":
		if len(tfResp.Data) > 0 && tfResp.Data[0] == '[' {
			if err := decode(c.Name(), tfResp.Data, &iocs); err != nil {
				return nil, err
			}
		}
	case "no_result":
	case "unknown_auth_key":
		return nil, entity.NewProviderFailure(c.Name(), entity.FailureError, "Auth-Key rejected")
	default:
		return nil, entity.NewProviderFailure(c.Name(), entity.FailureError, "query status %q", tfResp.QueryStatus)
	}

	detail := processThreatFox(iocs)
	return newResult(c.Name(), len(iocs) > 0, threatFoxScore(iocs), detail), nil
}

func processThreatFox(iocs []ThreatFoxIOC) ThreatFoxResult {
	result := ThreatFoxResult{IOCCount: len(iocs)}
	if len(iocs) == 0 {
		return result
	}

	result.FirstSeen = iocs[0].FirstSeen
	result.LastSeen = iocs[0].LastSeen

	threatTypes := make(map[string]bool)
	malware := make(map[string]bool)
	tagSet := make(map[string]bool)
	for _, ioc := range iocs {
		result.Confidence = max(result.Confidence, ioc.Confidence)
		if ioc.ThreatType != "" {
			threatTypes[ioc.ThreatType] = true
		}
		if ioc.MalwarePrintable != "" {
			malware[ioc.MalwarePrintable] = true
		}
		for _, tag := range ioc.Tags {
			tagSet[strings.ToLower(tag)] = true
		}
	}
	result.ThreatTypes = sortedKeys(threatTypes)
	result.Malware = sortedKeys(malware)
	result.Tags = sortedKeys(tagSet)

	return result
}

// threatFoxScore rates the IOCs found for a query
func threatFoxScore(iocs []ThreatFoxIOC) int {
	if len(iocs) == 0 {
		return 0
	}

	// Base score for being in ThreatFox at all
	score := 60

	maxConfidence := 0
	for _, ioc := range iocs {
		maxConfidence = max(maxConfidence, ioc.Confidence)
	}
	score += maxConfidence / 5 // +0 to +20

	for _, ioc := range iocs {
		switch strings.ToLower(ioc.ThreatType) {
		case "botnet_cc", "cc":
			score += 15
		case "payload_delivery":
			score += 10
		case "payload":
			score += 5
		}
	}

	if len(iocs) > 1 {
		score += min(len(iocs)*2, 10)
	}

	return min(score, 100)
}
