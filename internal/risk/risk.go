// Package risk implements the Risk Manager: position sizing, entry gating
// against the live orderbook, and the kill switch evaluated every cycle.
//
// Everything here is a function of the configuration and the ledger's
// read-only aggregates, plus one piece of process-local state: the
// consecutive-loss counter, which is not persisted and starts at zero after
// every restart.
package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

// SizingMode selects how PositionSize computes a stake.
type SizingMode string

const (
	SizingFixed   SizingMode = "fixed"
	SizingPercent SizingMode = "percent"
	SizingKelly   SizingMode = "kelly"
)

// Valid reports whether m is a known sizing mode.
func (m SizingMode) Valid() bool {
	return m == SizingFixed || m == SizingPercent || m == SizingKelly
}

// Config holds the risk thresholds. Money values are in USD.
type Config struct {
	BaseBet    decimal.Decimal
	MinBet     decimal.Decimal
	MaxBet     decimal.Decimal
	SizingMode SizingMode

	// BankrollPercent is the stake fraction in percent mode.
	BankrollPercent decimal.Decimal

	// WinRates maps "<strategy>_<direction>" to a win probability for Kelly
	// sizing. Missing keys use DefaultWinRate.
	WinRates       map[string]decimal.Decimal
	DefaultWinRate decimal.Decimal
	KellyFraction  decimal.Decimal

	MaxDailyLoss         decimal.Decimal
	MaxTotalLoss         decimal.Decimal
	MaxOpenPositions     int
	MaxConsecutiveLosses int

	MaxEntryPrice decimal.Decimal
	MinSpread     decimal.Decimal
	MaxSpread     decimal.Decimal
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		BaseBet:              decimal.NewFromInt(5),
		MinBet:               decimal.NewFromInt(3),
		MaxBet:               decimal.NewFromInt(50),
		SizingMode:           SizingFixed,
		BankrollPercent:      decimal.RequireFromString("0.02"),
		WinRates:             map[string]decimal.Decimal{},
		DefaultWinRate:       decimal.RequireFromString("0.55"),
		KellyFraction:        decimal.RequireFromString("0.5"),
		MaxDailyLoss:         decimal.NewFromInt(100),
		MaxTotalLoss:         decimal.NewFromInt(500),
		MaxOpenPositions:     3,
		MaxConsecutiveLosses: 5,
		MaxEntryPrice:        decimal.RequireFromString("0.60"),
		MinSpread:            decimal.RequireFromString("0.01"),
		MaxSpread:            decimal.RequireFromString("0.10"),
	}
}

// Ledger is the read-only view of the State Store the kill switch needs.
type Ledger interface {
	PnL() decimal.Decimal
	DailyPnL(day time.Time) decimal.Decimal
	UnresolvedCount() int
}

// Manager evaluates risk for a single trading loop. It is not safe for
// concurrent use; the trading cycle is its only caller.
type Manager struct {
	cfg    Config
	ledger Ledger
	now    func() time.Time

	consecutiveLosses int
	halted            *Decision
}

// NewManager creates a Manager. A nil ledger disables the kill switch.
func NewManager(cfg Config, ledger Ledger) *Manager {
	return &Manager{cfg: cfg, ledger: ledger, now: time.Now}
}

// Config returns the active thresholds.
func (m *Manager) Config() Config { return m.cfg }

// EntryAllowed checks the live book against the entry thresholds. The price
// check runs first, so an expensive ask is rejected regardless of spread. A
// spread tighter than MinSpread is treated as a data anomaly.
func (m *Manager) EntryAllowed(ob model.Orderbook) (bool, string) {
	if ob.Ask.GreaterThan(m.cfg.MaxEntryPrice) {
		return false, fmt.Sprintf("ask %s > max entry price %s", ob.Ask.StringFixed(2), m.cfg.MaxEntryPrice.StringFixed(2))
	}
	if ob.Spread.GreaterThan(m.cfg.MaxSpread) {
		return false, fmt.Sprintf("spread %s > max spread %s", ob.Spread.StringFixed(4), m.cfg.MaxSpread.StringFixed(4))
	}
	if ob.Spread.LessThan(m.cfg.MinSpread) {
		return false, fmt.Sprintf("spread %s < min spread %s (suspicious book)", ob.Spread.StringFixed(4), m.cfg.MinSpread.StringFixed(4))
	}
	return true, "ok"
}
