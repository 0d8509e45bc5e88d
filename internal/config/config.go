// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// Env is the application environment: "dev" or "prod".  Dev seeds known
	// devices and thresholds at startup.
	Env string `mapstructure:"APP_ENV"`
	// DBPath is the SQLite database file (e.g. ./data/trustgate.db).
	DBPath string `mapstructure:"DB_PATH"`
	// APISecret is the shared secret devices must present in the X-Api-Key
	// header on submissions.  Required.
	APISecret string `mapstructure:"API_SECRET"`
	// KnownDevices is a comma-separated list of commissioned device ids.
	KnownDevices string `mapstructure:"KNOWN_DEVICES"`
	// DefaultTrustThreshold is the trust floor for groups without a
	// persisted override.
	DefaultTrustThreshold int `mapstructure:"DEFAULT_TRUST_THRESHOLD"`
	// LedgerRPCURL is the ledger relay base URL; empty disables the ledger
	// (events are accepted locally but never confirmed on-ledger).
	LedgerRPCURL string `mapstructure:"LEDGER_RPC_URL"`
	// LedgerTimeout bounds each ledger call (e.g. "10s").
	LedgerTimeout string `mapstructure:"LEDGER_TIMEOUT"`
	// TrendLookback bounds how far back ledger history is queried (e.g. "24h").
	TrendLookback string `mapstructure:"TREND_LOOKBACK"`
	// EventRetentionDays is how long non-flagged event-log rows are kept.
	// 0 = keep forever.
	EventRetentionDays int `mapstructure:"EVENT_RETENTION_DAYS"`
	// PruneIntervalHours is how often the pruner runs (default 6).
	PruneIntervalHours int `mapstructure:"PRUNE_INTERVAL_HOURS"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper.  Missing .env is ignored (e.g. in CI).  Env vars
// override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("DB_PATH", "./data/trustgate.db")
	v.SetDefault("API_SECRET", "")
	v.SetDefault("KNOWN_DEVICES", "")
	v.SetDefault("DEFAULT_TRUST_THRESHOLD", 60)
	v.SetDefault("LEDGER_RPC_URL", "")
	v.SetDefault("LEDGER_TIMEOUT", "10s")
	v.SetDefault("TREND_LOOKBACK", "24h")
	v.SetDefault("EVENT_RETENTION_DAYS", 30)
	v.SetDefault("PRUNE_INTERVAL_HOURS", 6)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.APISecret == "" {
		return nil, errors.New("config: API_SECRET must be set")
	}
	if cfg.Env != "dev" && cfg.Env != "prod" {
		// fail-soft: treat unknown as dev
		cfg.Env = "dev"
	}
	if cfg.DefaultTrustThreshold < 0 || cfg.DefaultTrustThreshold > 100 {
		return nil, errors.New("config: DEFAULT_TRUST_THRESHOLD must be between 0 and 100")
	}

	return &cfg, nil
}

// KnownDeviceList returns the commissioned device ids from the
// comma-separated config.
func (c *Config) KnownDeviceList() []string {
	if c == nil || c.KnownDevices == "" {
		return nil
	}
	parts := strings.Split(c.KnownDevices, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LedgerCallTimeout parses LedgerTimeout as a time.Duration. Returns 10s if
// unset or invalid.
func (c *Config) LedgerCallTimeout() time.Duration {
	d, err := time.ParseDuration(c.LedgerTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Lookback parses TrendLookback as a time.Duration. Returns 24h if unset or
// invalid.
func (c *Config) Lookback() time.Duration {
	d, err := time.ParseDuration(c.TrendLookback)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}
