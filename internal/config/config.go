// Package config defines all configuration for the trading simulator.
// Config is loaded from a YAML file with fields overridable via SIM_*
// environment variables (SIM_SERVER_ADDR, SIM_TRADING_START_CASH, ...).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"tradesim/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Trading TradingConfig `mapstructure:"trading"`
	Market  MarketConfig  `mapstructure:"market"`
	Bus     BusConfig     `mapstructure:"bus"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// TradingConfig tunes the exchange core.
//
//   - Symbol: the single traded instrument.
//   - TickSize: price grid; every limit price must sit on a multiple.
//   - StartCash / StartAsset: balances seeded into every new account.
//   - AllowNegativeCash: when false, orders that cannot be funded are rejected.
//   - BookDepth: price levels per side in snapshots and stream updates.
//   - TradeHistory: max fills returned by the trades endpoint.
//
// Decimal fields are written as quoted strings in YAML ("10", "0.5") so they
// decode exactly.
type TradingConfig struct {
	Symbol            string          `mapstructure:"symbol"`
	TickSize          decimal.Decimal `mapstructure:"tick_size"`
	StartCash         decimal.Decimal `mapstructure:"start_cash"`
	StartAsset        decimal.Decimal `mapstructure:"start_asset"`
	AllowNegativeCash bool            `mapstructure:"allow_negative_cash"`
	BookDepth         int             `mapstructure:"book_depth"`
	TradeHistory      int             `mapstructure:"trade_history"`
}

// MarketConfig controls the simulated reference price feed: a random walk
// stepping by a uniform draw in [-max_drift, +max_drift] every interval,
// snapped to the tick grid and floored.
type MarketConfig struct {
	Enabled    bool            `mapstructure:"enabled"`
	StartPrice decimal.Decimal `mapstructure:"start_price"`
	MaxDrift   decimal.Decimal `mapstructure:"max_drift"`
	Floor      decimal.Decimal `mapstructure:"floor"`
	Interval   time.Duration   `mapstructure:"interval"`
}

// BusConfig bounds the per-subscriber event queue.
type BusConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides. An empty path
// skips the file and serves defaults plus SIM_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("trading.symbol", types.DefaultSymbol)
	v.SetDefault("trading.tick_size", "10")
	v.SetDefault("trading.start_cash", "10000")
	v.SetDefault("trading.start_asset", "0")
	v.SetDefault("trading.allow_negative_cash", true)
	v.SetDefault("trading.book_depth", 10)
	v.SetDefault("trading.trade_history", 50)

	v.SetDefault("market.enabled", true)
	v.SetDefault("market.start_price", "100000")
	v.SetDefault("market.max_drift", "250")
	v.SetDefault("market.floor", "1000")
	v.SetDefault("market.interval", "2s")

	v.SetDefault("bus.queue_size", 64)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Trading.Symbol == "" {
		return fmt.Errorf("trading.symbol is required")
	}
	if !c.Trading.TickSize.IsPositive() {
		return fmt.Errorf("trading.tick_size must be > 0")
	}
	if c.Trading.StartCash.IsNegative() {
		return fmt.Errorf("trading.start_cash must be >= 0")
	}
	if c.Trading.StartAsset.IsNegative() {
		return fmt.Errorf("trading.start_asset must be >= 0")
	}
	if c.Trading.BookDepth <= 0 {
		return fmt.Errorf("trading.book_depth must be > 0")
	}
	if c.Trading.TradeHistory <= 0 {
		return fmt.Errorf("trading.trade_history must be > 0")
	}
	if !c.Market.StartPrice.IsPositive() {
		return fmt.Errorf("market.start_price must be > 0")
	}
	if c.Market.MaxDrift.IsNegative() {
		return fmt.Errorf("market.max_drift must be >= 0")
	}
	if !c.Market.Floor.IsPositive() {
		return fmt.Errorf("market.floor must be > 0")
	}
	if c.Market.Interval <= 0 {
		return fmt.Errorf("market.interval must be > 0")
	}
	if c.Bus.QueueSize <= 0 {
		return fmt.Errorf("bus.queue_size must be > 0")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be one of: text, json")
	}
	return nil
}
