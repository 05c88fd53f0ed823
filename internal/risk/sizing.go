package risk

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

var (
	one  = decimal.NewFromInt(1)
	half = decimal.RequireFromString("0.5")

	// kellyCap bounds a Kelly stake at 10% of bankroll whatever the formula
	// says.
	kellyCap = decimal.RequireFromString("0.10")

	// streakPenaltyFrom is the loss streak at which stakes start halving.
	streakPenaltyFrom = 3
)

// PositionSize returns the USD stake for an entry at entryPrice.
//
// A zero bankroll means "unknown": percent and kelly modes then fall back to
// BaseBet. The mode result is clamped to [MinBet, MaxBet], then shrunk by
// the loss-streak penalty, then rounded to cents. A deep streak can round
// the stake to zero; callers must not enter on a non-positive size.
func (m *Manager) PositionSize(entryPrice decimal.Decimal, direction model.Direction, strategy string, bankroll decimal.Decimal) decimal.Decimal {
	var size decimal.Decimal
	switch {
	case m.cfg.SizingMode == SizingFixed:
		size = m.fixedSize(entryPrice)
	case m.cfg.SizingMode == SizingPercent && bankroll.IsPositive():
		size = bankroll.Mul(m.cfg.BankrollPercent)
	case m.cfg.SizingMode == SizingKelly && bankroll.IsPositive():
		size = m.kellySize(bankroll, m.WinRate(strategy, direction), entryPrice)
	default:
		size = m.cfg.BaseBet
	}

	size = decimal.Max(m.cfg.MinBet, decimal.Min(m.cfg.MaxBet, size))

	if factor := StreakPenalty(m.consecutiveLosses); !factor.Equal(one) {
		size = size.Mul(factor)
		slog.Warn("position size reduced after loss streak",
			"consecutive_losses", m.consecutiveLosses,
			"factor", factor.String(),
			"size", size.StringFixed(2),
		)
	}

	size = size.Round(2)
	if !size.IsPositive() {
		slog.Warn("position size rounds to zero, no entry",
			"consecutive_losses", m.consecutiveLosses)
		return decimal.Zero
	}
	return size
}

// fixedSize tiers the base bet by entry price, leaning into cheap entries.
func (m *Manager) fixedSize(entryPrice decimal.Decimal) decimal.Decimal {
	switch {
	case entryPrice.LessThan(decimal.RequireFromString("0.40")):
		return m.cfg.BaseBet.Mul(decimal.RequireFromString("1.5"))
	case entryPrice.LessThan(decimal.RequireFromString("0.50")):
		return m.cfg.BaseBet
	case entryPrice.LessThan(decimal.RequireFromString("0.55")):
		return m.cfg.BaseBet.Mul(decimal.RequireFromString("0.75"))
	default:
		return m.cfg.BaseBet.Mul(half)
	}
}

// kellySize is fractional Kelly for a binary contract bought at entryPrice:
//
//	b = (1 - price) / price
//	f* = (b*p - (1-p)) / b
//
// Without an edge (p <= 0.5 or f* <= 0) it returns MinBet.
func (m *Manager) kellySize(bankroll, p, entryPrice decimal.Decimal) decimal.Decimal {
	if p.LessThanOrEqual(half) || !entryPrice.IsPositive() || entryPrice.GreaterThanOrEqual(one) {
		return m.cfg.MinBet
	}

	b := one.Sub(entryPrice).Div(entryPrice)
	full := b.Mul(p).Sub(one.Sub(p)).Div(b)
	if !full.IsPositive() {
		return m.cfg.MinBet
	}

	fraction := m.cfg.KellyFraction
	if !fraction.IsPositive() {
		fraction = half
	}
	stake := full.Mul(fraction).Mul(bankroll)
	return decimal.Min(stake, bankroll.Mul(kellyCap))
}

// WinRate returns the configured win probability for strategy and direction.
func (m *Manager) WinRate(strategy string, direction model.Direction) decimal.Decimal {
	if p, ok := m.cfg.WinRates[strategy+"_"+string(direction)]; ok {
		return p
	}
	return m.cfg.DefaultWinRate
}

// StreakPenalty is the stake multiplier after streak consecutive losses:
// 1 below three losses, then 0.5^(streak-2).
func StreakPenalty(streak int) decimal.Decimal {
	factor := one
	for i := streakPenaltyFrom - 1; i < streak; i++ {
		factor = factor.Mul(half)
	}
	return factor
}
