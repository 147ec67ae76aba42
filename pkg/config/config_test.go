package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsInDryRun(t *testing.T) {
	t.Setenv("DRY_RUN", "true")
	t.Setenv("SYMBOL", "ethusdt")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Symbol != "ETHUSDT" {
		t.Fatalf("symbol = %q, want ETHUSDT", cfg.Symbol)
	}
	if cfg.TakeProfitPct != 0.1 || cfg.StopLossPct != 0.1 {
		t.Fatalf("bracket pct = %v/%v, want 0.1/0.1", cfg.TakeProfitPct, cfg.StopLossPct)
	}
	if cfg.KeepAliveInterval != 50*time.Minute {
		t.Fatalf("keepalive = %v, want 50m", cfg.KeepAliveInterval)
	}
	if cfg.QuotePollInterval != time.Second {
		t.Fatalf("poll interval = %v, want 1s", cfg.QuotePollInterval)
	}
	if cfg.RequotePolicy != RequoteInterval {
		t.Fatalf("requote policy = %q, want %q", cfg.RequotePolicy, RequoteInterval)
	}
}

func TestLoadRequiresKeysOutsideDryRun(t *testing.T) {
	t.Setenv("DRY_RUN", "false")
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "BINANCE_API_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Symbol:            "BTCUSDT",
			DryRun:            true,
			TakeProfitPct:     0.1,
			StopLossPct:       0.1,
			MaxRegularOrders:  2,
			QuoteAmount:       0.01,
			QuotePollInterval: time.Second,
			KeepAliveInterval: time.Minute,
			RequotePolicy:     RequoteEither,
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad policy", func(c *Config) { c.RequotePolicy = "always" }, "QUOTE_REQUOTE_POLICY"},
		{"zero take profit", func(c *Config) { c.TakeProfitPct = 0 }, "TAKE_PROFIT_PCT"},
		{"stop loss too wide", func(c *Config) { c.StopLossPct = 1 }, "STOP_LOSS_PCT"},
		{"cap below pair", func(c *Config) { c.MaxRegularOrders = 1 }, "MAX_REGULAR_ORDERS"},
		{"negative retries", func(c *Config) { c.StreamMaxRetries = -1 }, "STREAM_MAX_RETRIES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetEnvDurationFallsBack(t *testing.T) {
	t.Setenv("SOME_INTERVAL", "not-a-duration")
	if got := getEnvDuration("SOME_INTERVAL", 3*time.Second); got != 3*time.Second {
		t.Fatalf("got %v, want fallback 3s", got)
	}
	t.Setenv("SOME_INTERVAL", "250ms")
	if got := getEnvDuration("SOME_INTERVAL", 3*time.Second); got != 250*time.Millisecond {
		t.Fatalf("got %v, want 250ms", got)
	}
}
