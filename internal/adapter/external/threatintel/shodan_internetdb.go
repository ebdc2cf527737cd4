package threatintel

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// shodanMaliciousScore is the InternetDB score from which an IP is flagged
const shodanMaliciousScore = 50

// ShodanInternetDBClient queries Shodan's free InternetDB API.
// No authentication is required.
type ShodanInternetDBClient struct {
	httpClient *http.Client
	baseURL    string
}

// ShodanInternetDBConfig holds InternetDB client configuration
type ShodanInternetDBConfig struct {
	BaseURL string
	Timeout time.Duration
}

// ShodanInternetDBResponse represents the API response
type ShodanInternetDBResponse struct {
	Hostnames []string `json:"hostnames"`
	IP        string   `json:"ip"`
	Ports     []int    `json:"ports"`
	Tags      []string `json:"tags"`
	CPEs      []string `json:"cpes"`
	Vulns     []string `json:"vulns"`
}

// ShodanInternetDBResult is the detail kept with the provider result
type ShodanInternetDBResult struct {
	Found       bool     `json:"found"`
	Ports       []int    `json:"ports,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	VulnCount   int      `json:"vuln_count,omitempty"`
	HasCritical bool     `json:"has_critical_vulns"`
	IsVPN       bool     `json:"is_vpn"`
	IsProxy     bool     `json:"is_proxy"`
	IsTor       bool     `json:"is_tor"`
	IsHoneypot  bool     `json:"is_honeypot"`
}

// Suspicious ports that might indicate malicious activity
var suspiciousPorts = map[int]int{
	4444:  20, // Metasploit default
	5555:  15, // Android debug / common backdoor
	6666:  15, // IRC / common backdoor
	6667:  15, // IRC
	31337: 20,
	1337:  15,
	9001:  10, // Tor
	9050:  10, // Tor
	3389:  5,  // RDP
	5900:  5,  // VNC
	4443:  10, // Common C2 port
	8443:  5,
	8888:  10, // Common proxy/backdoor
}

// criticalCVEs marks vulnerabilities that raise the score on their own
var criticalCVEs = []string{
	"2021-44228", // Log4Shell
	"2021-26855", // ProxyLogon
	"2017-0144",  // EternalBlue
	"2019-19781", // Citrix
}

// NewShodanInternetDBClient creates a new Shodan InternetDB client
func NewShodanInternetDBClient(cfg ShodanInternetDBConfig) *ShodanInternetDBClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://internetdb.shodan.io/"
	}

	return &ShodanInternetDBClient{
		httpClient: newHTTPClient(cfg.Timeout),
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/") + "/",
	}
}

// Name returns the provider name
func (c *ShodanInternetDBClient) Name() string {
	return shodanName
}

// Supports reports true for IP queries only
func (c *ShodanInternetDBClient) Supports(kind entity.QueryKind) bool {
	return kind == entity.QueryKindIP
}

// Check queries Shodan InternetDB for an IP address
func (c *ShodanInternetDBClient) Check(ctx context.Context, q entity.NormalizedQuery) (*entity.ProviderResult, error) {
	if !c.Supports(q.Kind) {
		return nil, entity.NewProviderFailure(c.Name(), entity.FailureError, "%s queries not supported", q.Kind)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+q.Value, nil)
	if err != nil {
		return nil, requestFailure(c.Name(), err)
	}

	status, body, err := fetch(c.httpClient, c.Name(), req)
	if err != nil {
		return nil, err
	}

	// 404 means IP not found in InternetDB (not an error, just no data)
	if status == http.StatusNotFound {
		return newResult(c.Name(), false, 0, ShodanInternetDBResult{}), nil
	}

	var shodanResp ShodanInternetDBResponse
	if err := decode(c.Name(), body, &shodanResp); err != nil {
		return nil, err
	}

	detail := processShodan(&shodanResp)
	score := shodanScore(detail)

	return newResult(c.Name(), score >= shodanMaliciousScore, score, detail), nil
}

func processShodan(resp *ShodanInternetDBResponse) ShodanInternetDBResult {
	result := ShodanInternetDBResult{
		Found:     true,
		Ports:     resp.Ports,
		Tags:      resp.Tags,
		VulnCount: len(resp.Vulns),
	}

	for _, tag := range resp.Tags {
		tagLower := strings.ToLower(tag)
		switch {
		case strings.Contains(tagLower, "vpn"):
			result.IsVPN = true
		case strings.Contains(tagLower, "proxy"):
			result.IsProxy = true
		case strings.Contains(tagLower, "tor"):
			result.IsTor = true
		case strings.Contains(tagLower, "honeypot"):
			result.IsHoneypot = true
		}
	}

vulns:
	for _, vuln := range resp.Vulns {
		for _, cve := range criticalCVEs {
			if strings.Contains(vuln, cve) {
				result.HasCritical = true
				break vulns
			}
		}
	}

	return result
}

// shodanScore calculates a threat score based on exposed services
func shodanScore(result ShodanInternetDBResult) int {
	if !result.Found {
		return 0
	}

	score := 0
	for _, port := range result.Ports {
		score += suspiciousPorts[port]
	}

	// Many open ports can indicate a compromised system or scanner
	if len(result.Ports) > 20 {
		score += 15
	} else if len(result.Ports) > 10 {
		score += 10
	}

	if result.VulnCount > 0 {
		score += min(result.VulnCount*5, 25)
	}
	if result.HasCritical {
		score += 20
	}

	if result.IsVPN {
		score += 10
	}
	if result.IsProxy {
		score += 15
	}
	if result.IsTor {
		score += 20
	}
	// Honeypots belong to security research
	if result.IsHoneypot {
		score -= 20
	}

	return clampScore(score)
}
