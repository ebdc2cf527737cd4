package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App         AppConfig
	Reputation  ReputationConfig
	Cache       CacheConfig
	Redis       RedisConfig
	HTTP        HTTPConfig
	ThreatIntel ThreatIntelConfig
}

type AppConfig struct {
	Env  string
	Port int
	Host string
}

type ReputationConfig struct {
	ProviderTimeout      time.Duration
	Deadline             time.Duration
	MaliciousThreshold   float64
	HighConfidenceWeight float64
}

type CacheConfig struct {
	TTL             time.Duration
	UnknownTTL      time.Duration // 0 disables caching of Unknown verdicts
	Capacity        int
	CleanupInterval time.Duration
}

type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type HTTPConfig struct {
	RateLimit int // requests per minute per client IP, 0 disables
}

// ProviderConfig is the per-provider block shared by every adapter
type ProviderConfig struct {
	APIKey    string
	Enabled   bool
	Weight    float64
	Timeout   time.Duration // 0 uses the reputation provider timeout
	RateLimit int           // requests per minute, 0 disables
}

type ThreatIntelConfig struct {
	AbuseIPDB  ProviderConfig
	VirusTotal ProviderConfig
	GreyNoise  ProviderConfig
	OTX        ProviderConfig
	URLhaus    ProviderConfig
	Shodan     ProviderConfig
	ThreatFox  ProviderConfig
	Pulsedive  ProviderConfig
	CrowdSec   ProviderConfig
	DNSBL      ProviderConfig

	DNSBLResolver    string
	DNSBLIPZones     []string
	DNSBLDomainZones []string
}

// providerPrefixes maps the env prefix of every provider block
var providerPrefixes = []string{
	"ABUSEIPDB",
	"VIRUSTOTAL",
	"GREYNOISE",
	"OTX",
	"URLHAUS",
	"SHODAN",
	"THREATFOX",
	"PULSEDIVE",
	"CROWDSEC",
	"DNSBL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	v.AddConfigPath("/etc/threatcheck")

	// Environment variables
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	// Try to read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("Error reading config file", "error", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	config := &Config{
		App: AppConfig{
			Env:  v.GetString("APP_ENV"),
			Port: v.GetInt("APP_PORT"),
			Host: v.GetString("APP_HOST"),
		},
		Reputation: ReputationConfig{
			ProviderTimeout:      v.GetDuration("REPUTATION_PROVIDER_TIMEOUT"),
			Deadline:             v.GetDuration("REPUTATION_DEADLINE"),
			MaliciousThreshold:   v.GetFloat64("REPUTATION_MALICIOUS_THRESHOLD"),
			HighConfidenceWeight: v.GetFloat64("REPUTATION_HIGH_CONFIDENCE_WEIGHT"),
		},
		Cache: CacheConfig{
			TTL:             v.GetDuration("CACHE_TTL"),
			UnknownTTL:      v.GetDuration("CACHE_UNKNOWN_TTL"),
			Capacity:        v.GetInt("CACHE_CAPACITY"),
			CleanupInterval: v.GetDuration("CACHE_CLEANUP_INTERVAL"),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("REDIS_ENABLED"),
			Host:      v.GetString("REDIS_HOST"),
			Port:      v.GetInt("REDIS_PORT"),
			Password:  v.GetString("REDIS_PASSWORD"),
			DB:        v.GetInt("REDIS_DB"),
			KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
		},
		HTTP: HTTPConfig{
			RateLimit: v.GetInt("HTTP_RATE_LIMIT"),
		},
		ThreatIntel: ThreatIntelConfig{
			AbuseIPDB:        providerConfig(v, "ABUSEIPDB"),
			VirusTotal:       providerConfig(v, "VIRUSTOTAL"),
			GreyNoise:        providerConfig(v, "GREYNOISE"),
			OTX:              providerConfig(v, "OTX"),
			URLhaus:          providerConfig(v, "URLHAUS"),
			Shodan:           providerConfig(v, "SHODAN"),
			ThreatFox:        providerConfig(v, "THREATFOX"),
			Pulsedive:        providerConfig(v, "PULSEDIVE"),
			CrowdSec:         providerConfig(v, "CROWDSEC"),
			DNSBL:            providerConfig(v, "DNSBL"),
			DNSBLResolver:    v.GetString("DNSBL_RESOLVER"),
			DNSBLIPZones:     splitList(v.GetString("DNSBL_IP_ZONES")),
			DNSBLDomainZones: splitList(v.GetString("DNSBL_DOMAIN_ZONES")),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func providerConfig(v *viper.Viper, prefix string) ProviderConfig {
	return ProviderConfig{
		APIKey:    v.GetString(prefix + "_API_KEY"),
		Enabled:   v.GetBool(prefix + "_ENABLED"),
		Weight:    v.GetFloat64(prefix + "_WEIGHT"),
		Timeout:   v.GetDuration(prefix + "_TIMEOUT"),
		RateLimit: v.GetInt(prefix + "_RATE_LIMIT"),
	}
}

func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' '
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("APP_ENV")
	v.BindEnv("APP_PORT")
	v.BindEnv("APP_HOST")

	// Reputation engine
	v.BindEnv("REPUTATION_PROVIDER_TIMEOUT")
	v.BindEnv("REPUTATION_DEADLINE")
	v.BindEnv("REPUTATION_MALICIOUS_THRESHOLD")
	v.BindEnv("REPUTATION_HIGH_CONFIDENCE_WEIGHT")

	// Cache
	v.BindEnv("CACHE_TTL")
	v.BindEnv("CACHE_UNKNOWN_TTL")
	v.BindEnv("CACHE_CAPACITY")
	v.BindEnv("CACHE_CLEANUP_INTERVAL")

	// Redis
	v.BindEnv("REDIS_ENABLED")
	v.BindEnv("REDIS_HOST")
	v.BindEnv("REDIS_PORT")
	v.BindEnv("REDIS_PASSWORD")
	v.BindEnv("REDIS_DB")
	v.BindEnv("REDIS_KEY_PREFIX")

	// HTTP
	v.BindEnv("HTTP_RATE_LIMIT")

	// Providers
	for _, prefix := range providerPrefixes {
		v.BindEnv(prefix + "_API_KEY")
		v.BindEnv(prefix + "_ENABLED")
		v.BindEnv(prefix + "_WEIGHT")
		v.BindEnv(prefix + "_TIMEOUT")
		v.BindEnv(prefix + "_RATE_LIMIT")
	}
	v.BindEnv("DNSBL_RESOLVER")
	v.BindEnv("DNSBL_IP_ZONES")
	v.BindEnv("DNSBL_DOMAIN_ZONES")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_PORT", 8080)
	v.SetDefault("APP_HOST", "0.0.0.0")

	// Reputation defaults
	v.SetDefault("REPUTATION_PROVIDER_TIMEOUT", 3*time.Second)
	v.SetDefault("REPUTATION_DEADLINE", 5*time.Second)
	v.SetDefault("REPUTATION_MALICIOUS_THRESHOLD", 50)
	v.SetDefault("REPUTATION_HIGH_CONFIDENCE_WEIGHT", 0)

	// Cache defaults
	v.SetDefault("CACHE_TTL", 15*time.Minute)
	v.SetDefault("CACHE_UNKNOWN_TTL", time.Minute)
	v.SetDefault("CACHE_CAPACITY", 10000)
	v.SetDefault("CACHE_CLEANUP_INTERVAL", 5*time.Minute)

	// Redis defaults
	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "threatcheck:")

	// HTTP defaults
	v.SetDefault("HTTP_RATE_LIMIT", 100)

	// Provider defaults
	for _, prefix := range providerPrefixes {
		v.SetDefault(prefix+"_ENABLED", true)
		v.SetDefault(prefix+"_WEIGHT", 1.0)
	}
	v.SetDefault("VIRUSTOTAL_RATE_LIMIT", 4) // public API quota
	v.SetDefault("PULSEDIVE_RATE_LIMIT", 30)
	v.SetDefault("DNSBL_RESOLVER", "127.0.0.1:53")
	v.SetDefault("DNSBL_IP_ZONES", "zen.spamhaus.org")
	v.SetDefault("DNSBL_DOMAIN_ZONES", "dbl.spamhaus.org")
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Reputation.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("REPUTATION_PROVIDER_TIMEOUT must be positive"))
	}
	if c.Reputation.Deadline <= 0 {
		errs = append(errs, errors.New("REPUTATION_DEADLINE must be positive"))
	}
	if t := c.Reputation.MaliciousThreshold; t < 0 || t > 100 {
		errs = append(errs, fmt.Errorf("REPUTATION_MALICIOUS_THRESHOLD %.2f outside 0-100", t))
	}
	if c.Reputation.HighConfidenceWeight < 0 {
		errs = append(errs, errors.New("REPUTATION_HIGH_CONFIDENCE_WEIGHT must not be negative"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	if c.Cache.UnknownTTL < 0 {
		errs = append(errs, errors.New("CACHE_UNKNOWN_TTL must not be negative"))
	}
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("HTTP_RATE_LIMIT must not be negative"))
	}

	for name, p := range c.ThreatIntel.providers() {
		if p.Weight < 0 {
			errs = append(errs, fmt.Errorf("%s_WEIGHT must not be negative", name))
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s_TIMEOUT must not be negative", name))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c ThreatIntelConfig) providers() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"ABUSEIPDB":  c.AbuseIPDB,
		"VIRUSTOTAL": c.VirusTotal,
		"GREYNOISE":  c.GreyNoise,
		"OTX":        c.OTX,
		"URLHAUS":    c.URLhaus,
		"SHODAN":     c.Shodan,
		"THREATFOX":  c.ThreatFox,
		"PULSEDIVE":  c.Pulsedive,
		"CROWDSEC":   c.CrowdSec,
		"DNSBL":      c.DNSBL,
	}
}

func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func SetupLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
