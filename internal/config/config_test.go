package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("server.addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Trading.Symbol != "BTCUSD" {
		t.Errorf("trading.symbol = %q, want BTCUSD", cfg.Trading.Symbol)
	}
	if !cfg.Trading.TickSize.Equal(decimal.NewFromInt(10)) {
		t.Errorf("trading.tick_size = %s, want 10", cfg.Trading.TickSize)
	}
	if !cfg.Trading.StartCash.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("trading.start_cash = %s, want 10000", cfg.Trading.StartCash)
	}
	if !cfg.Trading.AllowNegativeCash {
		t.Error("trading.allow_negative_cash should default to true")
	}
	if cfg.Market.Interval != 2*time.Second {
		t.Errorf("market.interval = %s, want 2s", cfg.Market.Interval)
	}
	if cfg.Bus.QueueSize != 64 {
		t.Errorf("bus.queue_size = %d, want 64", cfg.Bus.QueueSize)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log defaults = %s/%s, want info/text", cfg.Log.Level, cfg.Log.Format)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	yaml := `
server:
  addr: ":9999"
trading:
  tick_size: "5"
  start_cash: "250.50"
  allow_negative_cash: false
market:
  interval: 500ms
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("server.addr = %q, want :9999", cfg.Server.Addr)
	}
	if !cfg.Trading.TickSize.Equal(decimal.NewFromInt(5)) {
		t.Errorf("trading.tick_size = %s, want 5", cfg.Trading.TickSize)
	}
	if !cfg.Trading.StartCash.Equal(decimal.RequireFromString("250.50")) {
		t.Errorf("trading.start_cash = %s, want 250.50", cfg.Trading.StartCash)
	}
	if cfg.Trading.AllowNegativeCash {
		t.Error("trading.allow_negative_cash should be false")
	}
	if cfg.Market.Interval != 500*time.Millisecond {
		t.Errorf("market.interval = %s, want 500ms", cfg.Market.Interval)
	}
	// Untouched keys keep their defaults.
	if cfg.Trading.Symbol != "BTCUSD" {
		t.Errorf("trading.symbol = %q, want default", cfg.Trading.Symbol)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load of a missing file should error")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SIM_TRADING_START_CASH", "123.45")
	t.Setenv("SIM_SERVER_ADDR", ":7777")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Trading.StartCash.Equal(decimal.RequireFromString("123.45")) {
		t.Errorf("trading.start_cash = %s, want env override 123.45", cfg.Trading.StartCash)
	}
	if cfg.Server.Addr != ":7777" {
		t.Errorf("server.addr = %q, want env override :7777", cfg.Server.Addr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"empty symbol", func(c *Config) { c.Trading.Symbol = "" }},
		{"zero tick", func(c *Config) { c.Trading.TickSize = decimal.Zero }},
		{"negative cash", func(c *Config) { c.Trading.StartCash = decimal.NewFromInt(-1) }},
		{"negative asset", func(c *Config) { c.Trading.StartAsset = decimal.NewFromInt(-1) }},
		{"zero depth", func(c *Config) { c.Trading.BookDepth = 0 }},
		{"zero history", func(c *Config) { c.Trading.TradeHistory = 0 }},
		{"zero start price", func(c *Config) { c.Market.StartPrice = decimal.Zero }},
		{"negative drift", func(c *Config) { c.Market.MaxDrift = decimal.NewFromInt(-5) }},
		{"zero floor", func(c *Config) { c.Market.Floor = decimal.Zero }},
		{"zero interval", func(c *Config) { c.Market.Interval = 0 }},
		{"zero queue", func(c *Config) { c.Bus.QueueSize = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate should reject the config")
			}
		})
	}
}
