package risk

import (
	"fmt"
	"log/slog"

	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

// Action is the kill switch verdict for one cycle.
type Action int

const (
	// Continue lets the cycle trade.
	Continue Action = iota
	// Pause skips this cycle; the next one is evaluated afresh.
	Pause
	// HardStop ends trading until an operator intervenes.
	HardStop
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Pause:
		return "pause"
	case HardStop:
		return "hard_stop"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Decision is a kill switch verdict with the thresholds that produced it.
type Decision struct {
	Action Action
	Reason string
}

// CheckKillSwitch evaluates, in order: total loss, today's loss (by UTC
// resolution date), the loss streak, and open positions. Loss limits stop
// hard; the other two pause.
//
// A HardStop latches: every later call returns the same decision until the
// process restarts, even if the ledger recovers in the meantime.
func (m *Manager) CheckKillSwitch() Decision {
	if m.halted != nil {
		return *m.halted
	}
	if m.ledger == nil {
		return Decision{Action: Continue}
	}

	if pnl := m.ledger.PnL(); pnl.LessThan(m.cfg.MaxTotalLoss.Neg()) {
		return m.halt(fmt.Sprintf("total loss limit exceeded: pnl %s < -%s", pnl.StringFixed(2), m.cfg.MaxTotalLoss.StringFixed(2)))
	}

	if daily := m.ledger.DailyPnL(m.now().UTC()); daily.LessThan(m.cfg.MaxDailyLoss.Neg()) {
		return m.halt(fmt.Sprintf("daily loss limit exceeded: pnl %s < -%s", daily.StringFixed(2), m.cfg.MaxDailyLoss.StringFixed(2)))
	}

	if m.consecutiveLosses >= m.cfg.MaxConsecutiveLosses {
		reason := fmt.Sprintf("consecutive losses %d >= %d", m.consecutiveLosses, m.cfg.MaxConsecutiveLosses)
		slog.Warn("trading paused", "reason", reason)
		return Decision{Action: Pause, Reason: reason}
	}

	if open := m.ledger.UnresolvedCount(); open >= m.cfg.MaxOpenPositions {
		reason := fmt.Sprintf("open positions %d >= %d", open, m.cfg.MaxOpenPositions)
		slog.Info("trading paused", "reason", reason)
		return Decision{Action: Pause, Reason: reason}
	}

	return Decision{Action: Continue}
}

func (m *Manager) halt(reason string) Decision {
	d := Decision{Action: HardStop, Reason: reason}
	m.halted = &d
	slog.Error("kill switch triggered", "reason", reason)
	return d
}

// RecordResult updates the loss streak: a loss extends it, a win clears it.
func (m *Manager) RecordResult(result model.Result) {
	if result == model.ResultLoss {
		m.consecutiveLosses++
		return
	}
	m.consecutiveLosses = 0
}

// ConsecutiveLosses returns the current loss streak.
func (m *Manager) ConsecutiveLosses() int { return m.consecutiveLosses }
