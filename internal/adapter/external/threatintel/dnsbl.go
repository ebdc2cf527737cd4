package threatintel

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// DNSBLConfig holds DNS blocklist client configuration
type DNSBLConfig struct {
	// Resolver is the recursive resolver queried, as host:port
	Resolver    string
	IPZones     []string
	DomainZones []string
	Timeout     time.Duration
}

// DNSBLClient checks queries against DNS-based blocklists such as
// Spamhaus ZEN (addresses) and DBL (domains).
type DNSBLClient struct {
	client      *dns.Client
	resolver    string
	ipZones     []string
	domainZones []string
}

// DNSBLResult is the detail kept with the provider result
type DNSBLResult struct {
	Listed  map[string]string `json:"listed,omitempty"` // zone -> return code
	Queried []string          `json:"queried"`
}

// NewDNSBLClient creates a new DNSBL client
func NewDNSBLClient(cfg DNSBLConfig) *DNSBLClient {
	if cfg.Resolver == "" {
		cfg.Resolver = "127.0.0.1:53"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}

	return &DNSBLClient{
		client:      &dns.Client{Net: "udp", Timeout: cfg.Timeout},
		resolver:    cfg.Resolver,
		ipZones:     cleanZones(cfg.IPZones),
		domainZones: cleanZones(cfg.DomainZones),
	}
}

// Name returns the provider name
func (c *DNSBLClient) Name() string {
	return dnsblName
}

// Supports reports true for the kinds that have zones configured
func (c *DNSBLClient) Supports(kind entity.QueryKind) bool {
	switch kind {
	case entity.QueryKindIP:
		return len(c.ipZones) > 0
	case entity.QueryKindDomain:
		return len(c.domainZones) > 0
	default:
		return false
	}
}

// Check looks the query up in every zone of its kind
func (c *DNSBLClient) Check(ctx context.Context, q entity.NormalizedQuery) (*entity.ProviderResult, error) {
	var (
		label string
		zones []string
	)
	switch q.Kind {
	case entity.QueryKindIP:
		addr, ok := q.Addr()
		if !ok {
			return nil, entity.NewProviderFailure(c.Name(), entity.FailureError, "unparseable address %q", q.Value)
		}
		label, zones = reverseLabel(addr), c.ipZones
	case entity.QueryKindDomain:
		label, zones = q.Value, c.domainZones
	}
	if len(zones) == 0 {
		return nil, entity.NewProviderFailure(c.Name(), entity.FailureError, "no zones configured for %s queries", q.Kind)
	}

	detail := DNSBLResult{Listed: make(map[string]string), Queried: zones}
	for _, zone := range zones {
		code, listed, err := c.lookup(ctx, label+"."+zone)
		if err != nil {
			return nil, err
		}
		if listed {
			detail.Listed[zone] = code
		}
	}

	score := 100 * len(detail.Listed) / len(zones)
	return newResult(c.Name(), len(detail.Listed) > 0, score, detail), nil
}

// lookup resolves name and reports whether it carries a listing record
func (c *DNSBLClient) lookup(ctx context.Context, name string) (string, bool, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.RecursionDesired = true

	in, _, err := c.client.ExchangeContext(ctx, m, c.resolver)
	if err != nil {
		if isTimeout(ctx, err) {
			return "", false, entity.NewProviderFailure(c.Name(), entity.FailureTimeout, "lookup %s: %v", name, err)
		}
		return "", false, entity.NewProviderFailure(c.Name(), entity.FailureError, "lookup %s: %v", name, err)
	}

	switch in.Rcode {
	case dns.RcodeNameError:
		return "", false, nil
	case dns.RcodeSuccess:
	case dns.RcodeRefused:
		return "", false, entity.NewProviderFailure(c.Name(), entity.FailureRateLimited, "lookup %s: refused", name)
	default:
		return "", false, entity.NewProviderFailure(c.Name(), entity.FailureError, "lookup %s: rcode %s", name, dns.RcodeToString[in.Rcode])
	}

	for _, rr := range in.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(a.A.To4())
		if !ok || ip.As4()[0] != 127 {
			continue
		}
		// 127.255.255.0/24 signals a refused or over-quota query, not a listing
		if b := ip.As4(); b[1] == 255 && b[2] == 255 {
			return "", false, entity.NewProviderFailure(c.Name(), entity.FailureRateLimited, "lookup %s: blocklist returned %s", name, ip)
		}
		return ip.String(), true, nil
	}
	return "", false, nil
}

// reverseLabel renders addr in DNSBL order: reversed octets for IPv4,
// reversed nibbles for IPv6.
func reverseLabel(addr netip.Addr) string {
	if addr.Is4() {
		b := addr.As4()
		return fmt.Sprintf("%d.%d.%d.%d", b[3], b[2], b[1], b[0])
	}

	b := addr.As16()
	nibbles := make([]string, 0, 32)
	for i := len(b) - 1; i >= 0; i-- {
		nibbles = append(nibbles, fmt.Sprintf("%x", b[i]&0x0f), fmt.Sprintf("%x", b[i]>>4))
	}
	return strings.Join(nibbles, ".")
}

func cleanZones(zones []string) []string {
	out := make([]string, 0, len(zones))
	for _, z := range zones {
		z = strings.Trim(strings.TrimSpace(strings.ToLower(z)), ".")
		if z != "" {
			out = append(out, z)
		}
	}
	return out
}
