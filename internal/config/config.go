// Package config defines all configuration for the execution engine.
// Config is loaded from an optional YAML file with ENGINE_* environment
// overrides; the deployment contract variables SUPABASE_URL,
// SUPABASE_SERVICE_ROLE_KEY and PORT are read from the environment directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Supabase   SupabaseConfig   `mapstructure:"supabase"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Bot        BotConfig        `mapstructure:"bot"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SupabaseConfig holds the row-store REST endpoint and its service key.
// Both are required; the process aborts at startup when either is missing.
type SupabaseConfig struct {
	URL        string `mapstructure:"url"`
	ServiceKey string `mapstructure:"service_key"`
}

// ExchangeConfig holds the market-data provider endpoint and the client-side
// politeness controls.
//
//   - Timeout: per-request HTTP timeout. Calls never retry internally.
//   - CandleDelay: minimum interval before each candle fetch (~1.5s).
//   - BookDelay: minimum interval before each order-book fetch (~1s).
//   - Breaker: circuit-breaker thresholds for the /info endpoint. While the
//     breaker is open, calls fail fast and callers skip the symbol for the tick.
type ExchangeConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CandleDelay time.Duration `mapstructure:"candle_delay"`
	BookDelay   time.Duration `mapstructure:"book_delay"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig tunes the market-data circuit breaker.
//
//   - MinRequests: minimum observed requests before the breaker may trip.
//   - FailureRatio: trip when this share of recent requests failed.
//   - OpenTimeout: how long the breaker stays open before probing again.
type BreakerConfig struct {
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	OpenTimeout  time.Duration `mapstructure:"open_timeout"`
}

// SupervisorConfig controls the bot-fleet reconcile loop.
type SupervisorConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`    // tick cadence (1s)
	ErrorSleep time.Duration `mapstructure:"error_sleep"` // pause after a whole-loop failure
}

// BotConfig holds the per-bot cache and throttle tunables.
//
//   - CandleTTL: per-bot candle cache lifetime.
//   - MidTTL: per-bot mid-price snapshot lifetime.
//   - Cooldown: per-symbol re-entry block after a close.
//   - MarketLogInterval: minimum spacing of the market snapshot log row.
type BotConfig struct {
	CandleTTL         time.Duration `mapstructure:"candle_ttl"`
	MidTTL            time.Duration `mapstructure:"mid_ttl"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	MarketLogInterval time.Duration `mapstructure:"market_log_interval"`
}

// StrategyConfig holds cross-strategy behavior switches.
// TrendFailOpen keeps the bearish-trend entry filters permissive when the
// filter itself errors (candles unavailable): trading proceeds as if the
// trend were fine. Set false to fail closed.
type StrategyConfig struct {
	TrendFailOpen bool `mapstructure:"trend_fail_open"`
}

// ScannerConfig controls the support/resistance scanner worker.
//
//   - MinVolumeUSD / MaxChangePct: universe filter (24h volume floor,
//     24h change floor in percent; -10 keeps anything above -10%).
//   - TopN: how many symbols survive the volume ranking.
//   - Timeframes: candle intervals scanned per symbol.
//   - CandleLimit: bars fetched per timeframe (the last, unclosed bar is dropped).
//   - TimeframePause / SymbolPause: politeness sleeps between fetches.
type ScannerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	MinVolumeUSD   float64       `mapstructure:"min_volume_usd"`
	MaxChangePct   float64       `mapstructure:"max_change_pct"`
	TopN           int           `mapstructure:"top_n"`
	Timeframes     []string      `mapstructure:"timeframes"`
	CandleLimit    int           `mapstructure:"candle_limit"`
	CandleTTL      time.Duration `mapstructure:"candle_ttl"`
	TimeframePause time.Duration `mapstructure:"timeframe_pause"`
	SymbolPause    time.Duration `mapstructure:"symbol_pause"`
	ErrorSleep     time.Duration `mapstructure:"error_sleep"`
}

// ServerConfig controls the scanner-api HTTP server (health, on-demand
// levels, live level stream).
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from an optional YAML file with env var overrides.
// An empty path runs on defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENGINE")
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
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Deployment contract variables win over file and prefix vars.
	if url := os.Getenv("SUPABASE_URL"); url != "" {
		cfg.Supabase.URL = url
	}
	if key := os.Getenv("SUPABASE_SERVICE_ROLE_KEY"); key != "" {
		cfg.Supabase.ServiceKey = key
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("parse PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.base_url", "https://api.hyperliquid.xyz")
	v.SetDefault("exchange.timeout", 5*time.Second)
	v.SetDefault("exchange.candle_delay", 1500*time.Millisecond)
	v.SetDefault("exchange.book_delay", time.Second)
	v.SetDefault("exchange.breaker.min_requests", 5)
	v.SetDefault("exchange.breaker.failure_ratio", 0.6)
	v.SetDefault("exchange.breaker.open_timeout", 30*time.Second)

	v.SetDefault("supervisor.enabled", true)
	v.SetDefault("supervisor.interval", time.Second)
	v.SetDefault("supervisor.error_sleep", 5*time.Second)

	v.SetDefault("bot.candle_ttl", 60*time.Second)
	v.SetDefault("bot.mid_ttl", 2*time.Second)
	v.SetDefault("bot.cooldown", 60*time.Second)
	v.SetDefault("bot.market_log_interval", 30*time.Second)

	v.SetDefault("strategy.trend_fail_open", true)

	v.SetDefault("scanner.enabled", true)
	v.SetDefault("scanner.interval", 30*time.Second)
	v.SetDefault("scanner.min_volume_usd", 50_000_000.0)
	v.SetDefault("scanner.max_change_pct", -10.0)
	v.SetDefault("scanner.top_n", 10)
	v.SetDefault("scanner.timeframes", []string{"15m", "30m", "1h"})
	v.SetDefault("scanner.candle_limit", 50)
	v.SetDefault("scanner.candle_ttl", 300*time.Second)
	v.SetDefault("scanner.timeframe_pause", 500*time.Millisecond)
	v.SetDefault("scanner.symbol_pause", time.Second)
	v.SetDefault("scanner.error_sleep", 10*time.Second)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Supabase.URL == "" {
		return fmt.Errorf("supabase.url is required (set SUPABASE_URL)")
	}
	if c.Supabase.ServiceKey == "" {
		return fmt.Errorf("supabase.service_key is required (set SUPABASE_SERVICE_ROLE_KEY)")
	}
	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.base_url is required")
	}
	if c.Exchange.Timeout <= 0 {
		return fmt.Errorf("exchange.timeout must be > 0")
	}
	if c.Supervisor.Interval <= 0 {
		return fmt.Errorf("supervisor.interval must be > 0")
	}
	if c.Scanner.Interval <= 0 {
		return fmt.Errorf("scanner.interval must be > 0")
	}
	if c.Scanner.TopN <= 0 {
		return fmt.Errorf("scanner.top_n must be > 0")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	return nil
}
