package threatintel

import (
	"context"
	"encoding/json"
	"net"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/domain/query"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// startDNSBL serves A records for the given names and NXDOMAIN otherwise.
// Names mapped to "REFUSED" answer with that rcode.
func startDNSBL(t *testing.T, records map[string]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		name := r.Question[0].Name
		rec, ok := records[name]
		switch {
		case !ok:
			m.SetRcode(r, dns.RcodeNameError)
		case rec == "REFUSED":
			m.SetRcode(r, dns.RcodeRefused)
		default:
			m.SetReply(r)
			rr, err := dns.NewRR(name + " 60 IN A " + rec)
			if err == nil {
				m.Answer = append(m.Answer, rr)
			}
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSBL_IPListed(t *testing.T) {
	addr := startDNSBL(t, map[string]string{
		"4.3.2.1.zen.test.": "127.0.0.2",
	})
	c := NewDNSBLClient(DNSBLConfig{Resolver: addr, IPZones: []string{"zen.test", "bl.test"}})

	res, err := c.Check(context.Background(), query.MustNormalize("1.2.3.4"))
	require.NoError(t, err)

	assert.True(t, res.IsMalicious)
	assert.Equal(t, 50.0, res.Score)

	var detail DNSBLResult
	require.NoError(t, json.Unmarshal(res.Raw, &detail))
	assert.Equal(t, map[string]string{"zen.test": "127.0.0.2"}, detail.Listed)
	assert.Equal(t, []string{"zen.test", "bl.test"}, detail.Queried)
}

func TestDNSBL_NotListed(t *testing.T) {
	addr := startDNSBL(t, nil)
	c := NewDNSBLClient(DNSBLConfig{Resolver: addr, IPZones: []string{"zen.test"}})

	res, err := c.Check(context.Background(), query.MustNormalize("8.8.8.8"))
	require.NoError(t, err)
	assert.False(t, res.IsMalicious)
	assert.Zero(t, res.Score)
}

func TestDNSBL_Domain(t *testing.T) {
	addr := startDNSBL(t, map[string]string{
		"bad.example.dbl.test.": "127.0.1.2",
	})
	c := NewDNSBLClient(DNSBLConfig{Resolver: addr, DomainZones: []string{"DBL.test."}})
	assert.True(t, c.Supports(entity.QueryKindDomain))
	assert.False(t, c.Supports(entity.QueryKindIP))

	res, err := c.Check(context.Background(), query.MustNormalize("bad.example"))
	require.NoError(t, err)
	assert.True(t, res.IsMalicious)
	assert.Equal(t, 100.0, res.Score)
}

func TestDNSBL_NonLoopbackAnswerIgnored(t *testing.T) {
	addr := startDNSBL(t, map[string]string{
		"4.3.2.1.zen.test.": "192.0.2.1",
	})
	c := NewDNSBLClient(DNSBLConfig{Resolver: addr, IPZones: []string{"zen.test"}})

	res, err := c.Check(context.Background(), query.MustNormalize("1.2.3.4"))
	require.NoError(t, err)
	assert.False(t, res.IsMalicious)
}

func TestDNSBL_RateLimited(t *testing.T) {
	tests := []struct {
		name   string
		record string
	}{
		{"quota answer", "127.255.255.254"},
		{"refused", "REFUSED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := startDNSBL(t, map[string]string{"4.3.2.1.zen.test.": tt.record})
			c := NewDNSBLClient(DNSBLConfig{Resolver: addr, IPZones: []string{"zen.test"}})

			_, err := c.Check(context.Background(), query.MustNormalize("1.2.3.4"))
			requireFailure(t, err, entity.FailureRateLimited)
		})
	}
}

func TestDNSBL_NoZonesForKind(t *testing.T) {
	c := NewDNSBLClient(DNSBLConfig{IPZones: []string{"zen.test"}})
	_, err := c.Check(context.Background(), query.MustNormalize("example.com"))
	requireFailure(t, err, entity.FailureError)
}

func TestReverseLabel(t *testing.T) {
	assert.Equal(t, "4.3.2.1", reverseLabel(netip.MustParseAddr("1.2.3.4")))
	assert.Equal(t,
		"1.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.8.b.d.0.1.0.0.2",
		reverseLabel(netip.MustParseAddr("2001:db8::1")),
	)
}
