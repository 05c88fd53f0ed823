// Package config loads the trader configuration: a JSON document with a
// default for every key, then .env and environment overrides for secrets
// and infrastructure endpoints.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/baguette88/polymarket-trading-bot/internal/executor"
	"github.com/baguette88/polymarket-trading-bot/internal/risk"
)

// DefaultPath is where the CLI looks for the config document.
const DefaultPath = "config/bot_config.json"

// Config is the full trader configuration. Risk and execution keys are
// top-level to match the document operators already keep.
type Config struct {
	IntervalSeconds int    `json:"interval_seconds"`
	Symbol          string `json:"symbol"`
	CandleInterval  string `json:"candle_interval"`
	CandleLimit     int    `json:"candle_limit"`
	BinanceURL      string `json:"binance_url"`

	Strategy      string  `json:"strategy"`
	RSIOversold   float64 `json:"rsi_oversold"`
	RSIOverbought float64 `json:"rsi_overbought"`

	// Bankroll feeds percent and kelly sizing. Zero falls back to base_bet.
	Bankroll decimal.Decimal `json:"bankroll"`

	BaseBet         decimal.Decimal            `json:"base_bet"`
	MinBet          decimal.Decimal            `json:"min_bet"`
	MaxBet          decimal.Decimal            `json:"max_bet"`
	SizingMode      string                     `json:"sizing_mode"`
	BankrollPercent decimal.Decimal            `json:"bankroll_percent"`
	WinRates        map[string]decimal.Decimal `json:"win_rates"`
	DefaultWinRate  decimal.Decimal            `json:"default_win_rate"`
	KellyFraction   decimal.Decimal            `json:"kelly_fraction"`

	MaxDailyLoss         decimal.Decimal `json:"max_daily_loss"`
	MaxTotalLoss         decimal.Decimal `json:"max_total_loss"`
	MaxOpenPositions     int             `json:"max_open_positions"`
	MaxConsecutiveLosses int             `json:"max_consecutive_losses"`

	MaxEntryPrice decimal.Decimal `json:"max_entry_price"`
	MinSpread     decimal.Decimal `json:"min_spread"`
	MaxSpread     decimal.Decimal `json:"max_spread"`
	MinExitPrice  decimal.Decimal `json:"min_exit_price"`

	MaxRetries          int     `json:"max_retries"`
	RetryDelaySeconds   float64 `json:"retry_delay"`
	VerifyTimeoutSecs   float64 `json:"verify_timeout"`
	PollIntervalSeconds float64 `json:"poll_interval"`

	// PaperFills routes paper-mode trades through the paper venue so they
	// are recorded in the ledger instead of only logged.
	PaperFills bool `json:"paper_fills"`

	Market MarketConfig `json:"market"`
	State  StateConfig  `json:"state"`
	Venue  VenueConfig  `json:"venue"`

	HeartbeatPath string `json:"heartbeat_path"`
	PIDFile       string `json:"pid_file"`
	LogLevel      string `json:"log_level"`
	LogFile       string `json:"log_file"`
	HTTPAddr      string `json:"http_addr"`

	// Environment only.
	DatabaseURL string `json:"-"`
	RedisURL    string `json:"-"`
}

// MarketConfig names the binary market the bot trades.
type MarketConfig struct {
	ConditionID string `json:"condition_id"`
	Slug        string `json:"slug"`
	YesTokenID  string `json:"yes_token_id"`
	NoTokenID   string `json:"no_token_id"`
}

// StateConfig selects the ledger persistence backend.
type StateConfig struct {
	Backend         string `json:"backend"`
	Path            string `json:"path"`
	BackupDir       string `json:"backup_dir"`
	RedisKey        string `json:"redis_key"`
	RedisTTLSeconds int    `json:"redis_ttl_seconds"`
}

// VenueConfig locates the trading venue.
type VenueConfig struct {
	URL       string `json:"url"`
	MarketURL string `json:"market_url"`
	APIKey    string `json:"-"`
}

// Default returns the configuration used when no document exists.
func Default() Config {
	r := risk.DefaultConfig()
	e := executor.DefaultConfig()
	return Config{
		IntervalSeconds: 60,
		Symbol:          "BTCUSDT",
		CandleInterval:  "15m",
		CandleLimit:     100,

		Strategy:      "mean_reversion",
		RSIOversold:   30,
		RSIOverbought: 70,

		BaseBet:         r.BaseBet,
		MinBet:          r.MinBet,
		MaxBet:          r.MaxBet,
		SizingMode:      string(r.SizingMode),
		BankrollPercent: r.BankrollPercent,
		WinRates:        map[string]decimal.Decimal{},
		DefaultWinRate:  r.DefaultWinRate,
		KellyFraction:   r.KellyFraction,

		MaxDailyLoss:         r.MaxDailyLoss,
		MaxTotalLoss:         r.MaxTotalLoss,
		MaxOpenPositions:     r.MaxOpenPositions,
		MaxConsecutiveLosses: r.MaxConsecutiveLosses,

		MaxEntryPrice: r.MaxEntryPrice,
		MinSpread:     r.MinSpread,
		MaxSpread:     r.MaxSpread,
		MinExitPrice:  e.MinExitPrice,

		MaxRetries:          e.MaxRetries,
		RetryDelaySeconds:   e.RetryDelay.Seconds(),
		VerifyTimeoutSecs:   e.VerifyTimeout.Seconds(),
		PollIntervalSeconds: e.PollInterval.Seconds(),

		State: StateConfig{
			Backend:         "file",
			Path:            "state.json",
			BackupDir:       "backups",
			RedisKey:        "trader:ledger",
			RedisTTLSeconds: 0,
		},
		Venue: VenueConfig{
			URL:       "https://clob.polymarket.com",
			MarketURL: "https://clob.polymarket.com",
		},

		HeartbeatPath: ".heartbeat",
		PIDFile:       "bot.pid",
		LogLevel:      "info",
		LogFile:       "bot.log",
	}
}

// Load reads the document at path over the defaults, then applies .env and
// environment overrides. A missing document is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := Default()
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("config file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.Venue.URL = getEnv("VENUE_URL", c.Venue.URL)
	c.Venue.MarketURL = getEnv("VENUE_MARKET_URL", c.Venue.MarketURL)
	c.Venue.APIKey = getEnv("VENUE_API_KEY", c.Venue.APIKey)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.State.Backend = getEnv("STATE_BACKEND", c.State.Backend)
	c.IntervalSeconds = getEnvAsInt("INTERVAL_SECONDS", c.IntervalSeconds)
	c.PaperFills = getEnvAsBool("PAPER_FILLS", c.PaperFills)
}

// Validate checks ranges and enumerations. Errors name the offending key.
func (c *Config) Validate() error {
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("interval_seconds must be positive, got %d", c.IntervalSeconds)
	}
	if c.CandleLimit <= 0 || c.CandleLimit > 1000 {
		return fmt.Errorf("candle_limit must be between 1 and 1000, got %d", c.CandleLimit)
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !risk.SizingMode(c.SizingMode).Valid() {
		return fmt.Errorf("sizing_mode must be fixed, percent or kelly, got %q", c.SizingMode)
	}
	if !c.MinBet.IsPositive() {
		return fmt.Errorf("min_bet must be positive, got %s", c.MinBet)
	}
	if c.MaxBet.LessThan(c.MinBet) {
		return fmt.Errorf("max_bet %s must not be below min_bet %s", c.MaxBet, c.MinBet)
	}
	if !c.BaseBet.IsPositive() {
		return fmt.Errorf("base_bet must be positive, got %s", c.BaseBet)
	}
	if c.Bankroll.IsNegative() {
		return fmt.Errorf("bankroll cannot be negative, got %s", c.Bankroll)
	}
	for key, p := range map[string]decimal.Decimal{
		"max_entry_price":  c.MaxEntryPrice,
		"min_exit_price":   c.MinExitPrice,
		"default_win_rate": c.DefaultWinRate,
		"bankroll_percent": c.BankrollPercent,
		"kelly_fraction":   c.KellyFraction,
	} {
		if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%s must be between 0 and 1, got %s", key, p)
		}
	}
	if c.MinSpread.GreaterThan(c.MaxSpread) {
		return fmt.Errorf("min_spread %s must not exceed max_spread %s", c.MinSpread, c.MaxSpread)
	}
	if !c.MaxDailyLoss.IsPositive() || !c.MaxTotalLoss.IsPositive() {
		return fmt.Errorf("max_daily_loss and max_total_loss must be positive")
	}
	if c.MaxOpenPositions <= 0 {
		return fmt.Errorf("max_open_positions must be positive, got %d", c.MaxOpenPositions)
	}
	if c.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("max_consecutive_losses must be positive, got %d", c.MaxConsecutiveLosses)
	}
	if c.MaxRetries < 1 || c.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 1 and 10, got %d", c.MaxRetries)
	}
	if c.RetryDelaySeconds < 0 || c.VerifyTimeoutSecs <= 0 || c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("retry_delay, verify_timeout and poll_interval must be positive")
	}
	if c.RSIOversold >= c.RSIOverbought {
		return fmt.Errorf("rsi_oversold %v must be below rsi_overbought %v", c.RSIOversold, c.RSIOverbought)
	}

	switch c.State.Backend {
	case "file":
		if c.State.Path == "" {
			return fmt.Errorf("state.path is required for the file backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("state.backend must be file, postgres or memory, got %q", c.State.Backend)
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Interval is the cycle period.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Risk converts the document into risk thresholds.
func (c *Config) Risk() risk.Config {
	rates := make(map[string]decimal.Decimal, len(c.WinRates))
	for k, v := range c.WinRates {
		rates[k] = v
	}
	return risk.Config{
		BaseBet:              c.BaseBet,
		MinBet:               c.MinBet,
		MaxBet:               c.MaxBet,
		SizingMode:           risk.SizingMode(c.SizingMode),
		BankrollPercent:      c.BankrollPercent,
		WinRates:             rates,
		DefaultWinRate:       c.DefaultWinRate,
		KellyFraction:        c.KellyFraction,
		MaxDailyLoss:         c.MaxDailyLoss,
		MaxTotalLoss:         c.MaxTotalLoss,
		MaxOpenPositions:     c.MaxOpenPositions,
		MaxConsecutiveLosses: c.MaxConsecutiveLosses,
		MaxEntryPrice:        c.MaxEntryPrice,
		MinSpread:            c.MinSpread,
		MaxSpread:            c.MaxSpread,
	}
}

// Executor converts the document into execution parameters.
func (c *Config) Executor() executor.Config {
	return executor.Config{
		MaxRetries:    c.MaxRetries,
		RetryDelay:    seconds(c.RetryDelaySeconds),
		VerifyTimeout: seconds(c.VerifyTimeoutSecs),
		PollInterval:  seconds(c.PollIntervalSeconds),
		MaxSpread:     c.MaxSpread,
		MaxEntryPrice: c.MaxEntryPrice,
		MinExitPrice:  c.MinExitPrice,
	}
}

// RedisTTL is how long the ledger snapshot lives in Redis. Zero keeps it.
func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.State.RedisTTLSeconds) * time.Second
}

// ParseLevel maps a log_level value onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		slog.Warn("ignoring non-integer environment value", "key", key)
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		slog.Warn("ignoring non-boolean environment value", "key", key)
	}
	return defaultValue
}
