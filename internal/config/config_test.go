package config_test

import (
	"testing"
	"time"

	"github.com/veritas-labs/trustgate/internal/config"
)

func TestLoad_RequiresAPISecret(t *testing.T) {
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error when API_SECRET is unset")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("API_SECRET", "s3cret")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected default addr :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.Env != "dev" {
		t.Errorf("expected default env dev, got %q", cfg.Env)
	}
	if cfg.DefaultTrustThreshold != 60 {
		t.Errorf("expected default threshold 60, got %d", cfg.DefaultTrustThreshold)
	}
	if cfg.EventRetentionDays != 30 {
		t.Errorf("expected default retention 30, got %d", cfg.EventRetentionDays)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("API_SECRET", "s3cret")
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("DEFAULT_TRUST_THRESHOLD", "40")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("expected :9999, got %q", cfg.HTTPAddr)
	}
	if cfg.Env != "prod" {
		t.Errorf("expected prod, got %q", cfg.Env)
	}
	if cfg.DefaultTrustThreshold != 40 {
		t.Errorf("expected 40, got %d", cfg.DefaultTrustThreshold)
	}
}

func TestLoad_RejectsOutOfRangeThreshold(t *testing.T) {
	t.Setenv("API_SECRET", "s3cret")
	t.Setenv("DEFAULT_TRUST_THRESHOLD", "150")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for threshold above 100")
	}
}

func TestLoad_UnknownEnvFallsBackToDev(t *testing.T) {
	t.Setenv("API_SECRET", "s3cret")
	t.Setenv("APP_ENV", "staging")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "dev" {
		t.Errorf("expected fail-soft dev, got %q", cfg.Env)
	}
}

func TestKnownDeviceList(t *testing.T) {
	cfg := &config.Config{KnownDevices: " sensor-1, ,sensor-2 ,"}
	got := cfg.KnownDeviceList()
	if len(got) != 2 || got[0] != "sensor-1" || got[1] != "sensor-2" {
		t.Errorf("unexpected list: %v", got)
	}

	var nilCfg *config.Config
	if nilCfg.KnownDeviceList() != nil {
		t.Error("nil config must yield nil list")
	}
}

func TestDurationHelpers_FallBackOnInvalid(t *testing.T) {
	cfg := &config.Config{LedgerTimeout: "not-a-duration", TrendLookback: "-5h"}
	if got := cfg.LedgerCallTimeout(); got != 10*time.Second {
		t.Errorf("expected 10s fallback, got %s", got)
	}
	if got := cfg.Lookback(); got != 24*time.Hour {
		t.Errorf("expected 24h fallback, got %s", got)
	}

	cfg = &config.Config{LedgerTimeout: "3s", TrendLookback: "48h"}
	if got := cfg.LedgerCallTimeout(); got != 3*time.Second {
		t.Errorf("expected 3s, got %s", got)
	}
	if got := cfg.Lookback(); got != 48*time.Hour {
		t.Errorf("expected 48h, got %s", got)
	}
}
