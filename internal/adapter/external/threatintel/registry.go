package threatintel

import (
	"log/slog"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/config"
)

// BuildRegistrations creates the enabled providers in their fixed
// registration order. Providers that need an API key are skipped when none
// is configured.
func BuildRegistrations(cfg config.ThreatIntelConfig, logger *slog.Logger) []Registration {
	if logger == nil {
		logger = slog.Default()
	}

	var regs []Registration
	register := func(name string, pc config.ProviderConfig, needsKey bool, build func() Provider) {
		if !pc.Enabled {
			logger.Info("Provider disabled", "provider", name)
			return
		}
		if needsKey && pc.APIKey == "" {
			logger.Warn("Provider skipped, no API key configured", "provider", name)
			return
		}
		p := RateLimited(build(), pc.RateLimit, 1)
		regs = append(regs, Registration{
			Provider: p,
			Weight:   pc.Weight,
			Timeout:  pc.Timeout,
		})
	}

	register(abuseIPDBName, cfg.AbuseIPDB, true, func() Provider {
		return NewAbuseIPDBClient(AbuseIPDBConfig{APIKey: cfg.AbuseIPDB.APIKey, Timeout: cfg.AbuseIPDB.Timeout})
	})
	register(virusTotalName, cfg.VirusTotal, true, func() Provider {
		return NewVirusTotalClient(VirusTotalConfig{APIKey: cfg.VirusTotal.APIKey, Timeout: cfg.VirusTotal.Timeout})
	})
	register(greyNoiseName, cfg.GreyNoise, false, func() Provider {
		return NewGreyNoiseClient(GreyNoiseConfig{APIKey: cfg.GreyNoise.APIKey, Timeout: cfg.GreyNoise.Timeout})
	})
	register(otxName, cfg.OTX, true, func() Provider {
		return NewOTXClient(OTXConfig{APIKey: cfg.OTX.APIKey, Timeout: cfg.OTX.Timeout})
	})
	register(urlhausName, cfg.URLhaus, false, func() Provider {
		return NewURLhausClient(URLhausConfig{APIKey: cfg.URLhaus.APIKey, Timeout: cfg.URLhaus.Timeout})
	})
	register(shodanName, cfg.Shodan, false, func() Provider {
		return NewShodanInternetDBClient(ShodanInternetDBConfig{Timeout: cfg.Shodan.Timeout})
	})
	register(threatFoxName, cfg.ThreatFox, true, func() Provider {
		return NewThreatFoxClient(ThreatFoxConfig{APIKey: cfg.ThreatFox.APIKey, Timeout: cfg.ThreatFox.Timeout})
	})
	register(pulsediveName, cfg.Pulsedive, true, func() Provider {
		return NewPulsediveClient(PulsediveConfig{APIKey: cfg.Pulsedive.APIKey, Timeout: cfg.Pulsedive.Timeout})
	})
	register(crowdSecName, cfg.CrowdSec, true, func() Provider {
		return NewCrowdSecClient(CrowdSecConfig{APIKey: cfg.CrowdSec.APIKey, Timeout: cfg.CrowdSec.Timeout})
	})
	if len(cfg.DNSBLIPZones)+len(cfg.DNSBLDomainZones) > 0 {
		register(dnsblName, cfg.DNSBL, false, func() Provider {
			return NewDNSBLClient(DNSBLConfig{
				Resolver:    cfg.DNSBLResolver,
				IPZones:     cfg.DNSBLIPZones,
				DomainZones: cfg.DNSBLDomainZones,
				Timeout:     cfg.DNSBL.Timeout,
			})
		})
	}

	return regs
}
