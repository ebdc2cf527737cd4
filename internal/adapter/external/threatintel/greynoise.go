package threatintel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// GreyNoiseClient handles communication with GreyNoise Community API.
// GreyNoise identifies IPs that are mass-scanning the internet and known
// benign services, which keeps scanners from being reported as attackers.
type GreyNoiseClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// GreyNoiseConfig holds GreyNoise client configuration
type GreyNoiseConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewGreyNoiseClient creates a new GreyNoise client
func NewGreyNoiseClient(cfg GreyNoiseConfig) *GreyNoiseClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.greynoise.io/v3/community"
	}

	return &GreyNoiseClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		httpClient: newHTTPClient(cfg.Timeout),
	}
}

// GreyNoiseResponse represents the Community API response
type GreyNoiseResponse struct {
	IP             string `json:"ip"`
	Noise          bool   `json:"noise"`          // Is the IP scanning the internet?
	Riot           bool   `json:"riot"`           // Is it a known benign service (RIOT dataset)?
	Classification string `json:"classification"` // "benign", "malicious", "unknown"
	Name           string `json:"name"`
	LastSeen       string `json:"last_seen"`
	Message        string `json:"message"`
}

// GreyNoiseResult is the detail kept with the provider result
type GreyNoiseResult struct {
	Noise          bool   `json:"noise"`
	Riot           bool   `json:"riot"`
	Classification string `json:"classification"`
	Name           string `json:"name,omitempty"`
	LastSeen       string `json:"last_seen,omitempty"`
	IsBenign       bool   `json:"is_benign"`
}

// Check queries GreyNoise for IP information
func (c *GreyNoiseClient) Check(ctx context.Context, q entity.NormalizedQuery) (*entity.ProviderResult, error) {
	if !c.Supports(q.Kind) {
		return nil, entity.NewProviderFailure(c.Name(), entity.FailureError, "%s queries not supported", q.Kind)
	}

	reqURL := fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(q.Value))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, requestFailure(c.Name(), err)
	}
	req.Header.Set("key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	status, body, err := fetch(c.httpClient, c.Name(), req)
	if err != nil {
		return nil, err
	}

	// 404 means the IP was never observed - neutral
	if status == http.StatusNotFound {
		return newResult(c.Name(), false, 0, GreyNoiseResult{Classification: "unknown"}), nil
	}

	var apiResp GreyNoiseResponse
	if err := decode(c.Name(), body, &apiResp); err != nil {
		return nil, err
	}

	detail := GreyNoiseResult{
		Noise:          apiResp.Noise,
		Riot:           apiResp.Riot,
		Classification: apiResp.Classification,
		Name:           apiResp.Name,
		LastSeen:       apiResp.LastSeen,
		IsBenign:       apiResp.Riot || apiResp.Classification == "benign",
	}

	return newResult(c.Name(), apiResp.Classification == "malicious", greyNoiseScore(apiResp), detail), nil
}

// greyNoiseScore maps a classification to a threat score
func greyNoiseScore(resp GreyNoiseResponse) int {
	// RIOT = Rule It Out - known benign services (Googlebot, Microsoft, etc.)
	if resp.Riot {
		return 0
	}

	switch resp.Classification {
	case "benign":
		return 5
	case "malicious":
		return 85
	case "unknown":
		if resp.Noise {
			// Scanning the internet but intent unknown
			return 30
		}
		return 0
	default:
		return 0
	}
}

// Name returns the provider name
func (c *GreyNoiseClient) Name() string {
	return greyNoiseName
}

// Supports reports true for IP queries only
func (c *GreyNoiseClient) Supports(kind entity.QueryKind) bool {
	return kind == entity.QueryKindIP
}
