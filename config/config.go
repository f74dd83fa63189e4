// Package config loads facilitator settings from an optional YAML file
// overlaid with environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vitwit/x402-facilitator/types"
	"github.com/vitwit/x402-facilitator/utils"
	"gopkg.in/yaml.v3"
)

const (
	envConfigFile     = "FACILITATOR_CONFIG"
	envListen         = "FACILITATOR_LISTEN"
	envLogLevel       = "FACILITATOR_LOG_LEVEL"
	envLogFile        = "FACILITATOR_LOG_FILE"
	envAllowedOrigins = "ALLOWED_ORIGINS"
	envSponsorKey     = "SPONSOR_PRIVATE_KEY"
	envRPCURL         = "TEMPO_RPC_URL"
	envTempoEnv       = "TEMPO_ENV"
	envChainID        = "CHAIN_ID"
	envFeeToken       = "FEE_TOKEN"
	envPostHogKey     = "POSTHOG_API_KEY"
	envPostHogHost    = "POSTHOG_HOST"
	envRatePerMinute  = "RATE_LIMIT_PER_MINUTE"
	envRateBurst      = "RATE_LIMIT_BURST"
	envVerifyTimeout  = "VERIFY_TIMEOUT"
	envSettleTimeout  = "SETTLE_TIMEOUT"
	envTrustProxy     = "TRUST_PROXY_HEADERS"
	envTrustedProxies = "TRUSTED_PROXIES"
)

// Known Tempo environments and their chain ids. Environments not listed
// here resolve the chain id from the RPC node at startup.
var tempoChainIDs = map[string]uint64{
	"testnet": 42429,
}

type LogConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

type PostHogConfig struct {
	APIKey string `yaml:"apiKey"`
	Host   string `yaml:"host" validate:"omitempty,url"`
}

type Config struct {
	ListenAddress  string          `yaml:"listen" validate:"required"`
	AllowedOrigins []string        `yaml:"allowedOrigins"`
	SponsorKey     string          `yaml:"sponsorPrivateKey" validate:"required"`
	RPCURL         string          `yaml:"rpcUrl" validate:"required,url"`
	TempoEnv       string          `yaml:"tempoEnv"`
	ChainID        uint64          `yaml:"chainId"`
	FeeToken       string          `yaml:"feeToken" validate:"omitempty,tip20"`
	VerifyTimeout  time.Duration   `yaml:"verifyTimeout" validate:"gt=0"`
	SettleTimeout  time.Duration   `yaml:"settleTimeout" validate:"gt=0"`
	Log            LogConfig       `yaml:"log"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	PostHog        PostHogConfig   `yaml:"posthog"`

	// Client IPs come from the socket peer unless proxy headers are
	// trusted globally or the peer is listed in TrustedProxies.
	TrustProxyHeaders bool     `yaml:"trustProxyHeaders"`
	TrustedProxies    []string `yaml:"trustedProxies" validate:"omitempty,dive,ip|cidr"`
}

func defaults() *Config {
	return &Config{
		ListenAddress:  ":8080",
		AllowedOrigins: []string{"*"},
		TempoEnv:       "testnet",
		VerifyTimeout:  30 * time.Second,
		SettleTimeout:  60 * time.Second,
		Log:            LogConfig{Level: "info"},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			Burst:             20,
		},
	}
}

// Load reads the YAML file named by FACILITATOR_CONFIG (if any), then
// applies environment overrides and validates the result.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(getenv(envConfigFile)); path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	if cfg.ChainID == 0 {
		cfg.ChainID = tempoChainIDs[cfg.TempoEnv]
	}

	if err := utils.ValidateStruct(cfg); err != nil {
		return nil, &types.X402Error{Code: types.ErrCodeConfig, Message: err.Error()}
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	str(envListen, &c.ListenAddress)
	str(envLogLevel, &c.Log.Level)
	str(envLogFile, &c.Log.File)
	str(envSponsorKey, &c.SponsorKey)
	str(envRPCURL, &c.RPCURL)
	str(envTempoEnv, &c.TempoEnv)
	str(envFeeToken, &c.FeeToken)
	str(envPostHogKey, &c.PostHog.APIKey)
	str(envPostHogHost, &c.PostHog.Host)

	if v := strings.TrimSpace(getenv(envAllowedOrigins)); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	if v := strings.TrimSpace(getenv(envTrustedProxies)); v != "" {
		c.TrustedProxies = splitList(v)
	}
	if v := strings.TrimSpace(getenv(envTrustProxy)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envTrustProxy, err)
		}
		c.TrustProxyHeaders = b
	}

	if v := strings.TrimSpace(getenv(envChainID)); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", envChainID, err)
		}
		c.ChainID = id
	}
	if v := strings.TrimSpace(getenv(envRatePerMinute)); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", envRatePerMinute, err)
		}
		c.RateLimit.RequestsPerMinute = f
		c.RateLimit.Enabled = f > 0
	}
	if v := strings.TrimSpace(getenv(envRateBurst)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envRateBurst, err)
		}
		c.RateLimit.Burst = n
	}

	for key, dst := range map[string]*time.Duration{
		envVerifyTimeout: &c.VerifyTimeout,
		envSettleTimeout: &c.SettleTimeout,
	} {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
