package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baguette88/polymarket-trading-bot/internal/risk"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot_config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.IntervalSeconds != 60 || cfg.Symbol != "BTCUSDT" || cfg.CandleInterval != "15m" || cfg.CandleLimit != 100 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoad_DocumentOverridesOnlyGivenKeys(t *testing.T) {
	path := writeConfig(t, `{
		"interval_seconds": 30,
		"base_bet": 7.5,
		"sizing_mode": "kelly",
		"win_rates": {"mean_reversion_long": 0.62},
		"market": {"condition_id": "0xabc", "yes_token_id": "y", "no_token_id": "n"},
		"state": {"backend": "memory"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.IntervalSeconds != 30 || !cfg.BaseBet.Equal(decimal.RequireFromString("7.5")) {
		t.Errorf("document values not applied: %+v", cfg)
	}
	if !cfg.MaxBet.Equal(decimal.NewFromInt(50)) || cfg.Symbol != "BTCUSDT" {
		t.Errorf("missing keys must keep defaults: max_bet=%s symbol=%s", cfg.MaxBet, cfg.Symbol)
	}
	if cfg.State.Backend != "memory" || cfg.Market.ConditionID != "0xabc" {
		t.Errorf("nested sections not applied: %+v %+v", cfg.State, cfg.Market)
	}

	rc := cfg.Risk()
	if rc.SizingMode != risk.SizingKelly || !rc.WinRates["mean_reversion_long"].Equal(decimal.RequireFromString("0.62")) {
		t.Errorf("risk config not converted: %+v", rc)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	if _, err := Load(writeConfig(t, `{"interval_seconds": `)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/trader")
	t.Setenv("VENUE_API_KEY", "secret")
	t.Setenv("INTERVAL_SECONDS", "15")
	t.Setenv("STATE_BACKEND", "postgres")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabaseURL != "postgres://localhost/trader" || cfg.Venue.APIKey != "secret" {
		t.Errorf("secrets not read from environment: %+v", cfg)
	}
	if cfg.IntervalSeconds != 15 || cfg.State.Backend != "postgres" || cfg.LogLevel != "debug" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"interval", func(c *Config) { c.IntervalSeconds = 0 }, "interval_seconds"},
		{"sizing mode", func(c *Config) { c.SizingMode = "martingale" }, "sizing_mode"},
		{"bet bounds", func(c *Config) { c.MaxBet = decimal.NewFromInt(1) }, "max_bet"},
		{"entry price", func(c *Config) { c.MaxEntryPrice = decimal.RequireFromString("1.5") }, "max_entry_price"},
		{"spread order", func(c *Config) { c.MinSpread = decimal.RequireFromString("0.2") }, "min_spread"},
		{"retries", func(c *Config) { c.MaxRetries = 0 }, "max_retries"},
		{"backend", func(c *Config) { c.State.Backend = "sqlite" }, "state.backend"},
		{"postgres url", func(c *Config) { c.State.Backend = "postgres" }, "DATABASE_URL"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"rsi bounds", func(c *Config) { c.RSIOversold = 80 }, "rsi_oversold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("expected error naming %q, got %v", tt.key, err)
			}
		})
	}
}

func TestExecutorConversion(t *testing.T) {
	cfg := Default()
	cfg.RetryDelaySeconds = 0.5
	ec := cfg.Executor()
	if ec.RetryDelay != 500*time.Millisecond || ec.VerifyTimeout != 30*time.Second || ec.PollInterval != 2*time.Second {
		t.Errorf("unexpected durations %+v", ec)
	}
	if ec.MaxRetries != 3 || !ec.MaxSpread.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("unexpected executor config %+v", ec)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "": slog.LevelInfo,
		"warning": slog.LevelWarn, "error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
}
