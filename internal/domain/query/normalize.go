// Package query validates raw user input and reduces it to a canonical
// IP address or domain name identity.
package query

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"unicode"

	"golang.org/x/net/idna"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

const (
	maxDomainLength = 253
	maxLabelLength  = 63
)

var idnaProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(true),
	idna.VerifyDNSLength(true),
)

// Normalize canonicalizes raw into an IP or domain query. Inputs that denote
// the same network identity always produce the same value.
func Normalize(raw string) (entity.NormalizedQuery, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return entity.NormalizedQuery{}, invalid("empty query")
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return entity.NormalizedQuery{}, invalid("control character in query")
		}
	}

	host := extractHost(s)
	if host == "" {
		return entity.NormalizedQuery{}, invalid("no host in %q", s)
	}

	if addr, ok := parseAddr(host); ok {
		return entity.NormalizedQuery{Kind: entity.QueryKindIP, Value: addr.String()}, nil
	}

	domain, err := normalizeDomain(host)
	if err != nil {
		return entity.NormalizedQuery{}, err
	}
	return entity.NormalizedQuery{Kind: entity.QueryKindDomain, Value: domain}, nil
}

// MustNormalize is Normalize for inputs known to be valid
func MustNormalize(raw string) entity.NormalizedQuery {
	q, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return q
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", entity.ErrInvalidQuery, fmt.Sprintf(format, args...))
}

// extractHost strips scheme, userinfo, path and port from s
func extractHost(s string) string {
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}

	// Bare IPv6 literals contain colons but carry no port
	if _, err := netip.ParseAddr(s); err == nil {
		return s
	}
	if strings.HasPrefix(s, "[") || strings.Count(s, ":") == 1 {
		if host, _, err := net.SplitHostPort(s); err == nil {
			return host
		}
	}
	return strings.Trim(s, "[]")
}

func parseAddr(host string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(host)
	if err != nil || addr.Zone() != "" {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func normalizeDomain(host string) (string, error) {
	host = strings.TrimSuffix(host, ".")
	ascii, err := idnaProfile.ToASCII(host)
	if err != nil {
		return "", invalid("malformed domain %q", host)
	}
	ascii = strings.ToLower(ascii)

	if len(ascii) > maxDomainLength {
		return "", invalid("domain longer than %d characters", maxDomainLength)
	}
	labels := strings.Split(ascii, ".")
	if len(labels) < 2 {
		return "", invalid("domain %q has no label separator", ascii)
	}
	for _, label := range labels {
		if !validLabel(label) {
			return "", invalid("malformed label %q in %q", label, ascii)
		}
	}
	if isNumeric(labels[len(labels)-1]) {
		return "", invalid("top-level label of %q is numeric", ascii)
	}
	return ascii, nil
}

func validLabel(label string) bool {
	if label == "" || len(label) > maxLabelLength {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}
	return true
}

func isNumeric(label string) bool {
	for i := 0; i < len(label); i++ {
		if label[i] < '0' || label[i] > '9' {
			return false
		}
	}
	return true
}
