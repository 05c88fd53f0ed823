package risk

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fakeLedger struct {
	pnl   decimal.Decimal
	daily map[string]decimal.Decimal
	open  int
}

func (f *fakeLedger) PnL() decimal.Decimal { return f.pnl }

func (f *fakeLedger) DailyPnL(day time.Time) decimal.Decimal {
	return f.daily[day.UTC().Format("2006-01-02")]
}

func (f *fakeLedger) UnresolvedCount() int { return f.open }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinBet = d(1)
	cfg.MaxBet = d(200)
	return cfg
}

// --- Sizing tests ---

func TestPositionSize_FixedTiers(t *testing.T) {
	m := NewManager(testConfig(), nil)

	tests := []struct {
		price float64
		want  float64
	}{
		{0.35, 7.5},
		{0.40, 5.0},
		{0.45, 5.0},
		{0.50, 3.75},
		{0.52, 3.75},
		{0.55, 2.5},
		{0.60, 2.5},
	}
	prev := d(1000)
	for _, tt := range tests {
		got := m.PositionSize(d(tt.price), model.DirectionLong, "default", decimal.Zero)
		if !got.Equal(d(tt.want)) {
			t.Errorf("price %.2f: expected %.2f, got %s", tt.price, tt.want, got)
		}
		if got.GreaterThan(prev) {
			t.Errorf("price %.2f: size increased from %s to %s", tt.price, prev, got)
		}
		prev = got
	}
}

func TestPositionSize_ClampedToBounds(t *testing.T) {
	m := NewManager(DefaultConfig(), nil) // min 3, max 50

	if got := m.PositionSize(d(0.60), model.DirectionLong, "default", decimal.Zero); !got.Equal(d(3)) {
		t.Errorf("expected clamp up to min_bet 3, got %s", got)
	}

	cfg := DefaultConfig()
	cfg.BaseBet = d(40)
	m = NewManager(cfg, nil)
	if got := m.PositionSize(d(0.30), model.DirectionLong, "default", decimal.Zero); !got.Equal(d(50)) {
		t.Errorf("expected clamp down to max_bet 50, got %s", got)
	}
}

func TestPositionSize_Percent(t *testing.T) {
	cfg := testConfig()
	cfg.SizingMode = SizingPercent
	m := NewManager(cfg, nil)

	if got := m.PositionSize(d(0.5), model.DirectionLong, "default", d(1000)); !got.Equal(d(20)) {
		t.Errorf("expected 2%% of 1000 = 20, got %s", got)
	}
	if got := m.PositionSize(d(0.5), model.DirectionLong, "default", decimal.Zero); !got.Equal(d(5)) {
		t.Errorf("expected base_bet without bankroll, got %s", got)
	}
}

func TestPositionSize_KellyCappedAtTenPercent(t *testing.T) {
	cfg := testConfig()
	cfg.SizingMode = SizingKelly
	cfg.WinRates = map[string]decimal.Decimal{"momentum_long": d(0.6)}
	m := NewManager(cfg, nil)

	// Raw half-Kelly is ~166.67; the 10% cap wins.
	got := m.PositionSize(d(0.4), model.DirectionLong, "momentum", d(1000))
	if !got.Equal(d(100)) {
		t.Errorf("expected 100.00, got %s", got)
	}

	raw := m.kellySize(d(1000), d(0.6), d(0.4))
	if !raw.Equal(d(100)) {
		t.Errorf("expected kellySize to return the cap, got %s", raw)
	}
}

func TestPositionSize_KellyUncapped(t *testing.T) {
	cfg := testConfig()
	cfg.SizingMode = SizingKelly
	cfg.DefaultWinRate = d(0.55)
	m := NewManager(cfg, nil)

	// b = 1, f* = 0.1, half = 0.05 → 50.
	got := m.PositionSize(d(0.5), model.DirectionShort, "default", d(1000))
	if !got.Equal(d(50)) {
		t.Errorf("expected 50.00, got %s", got)
	}
}

func TestPositionSize_KellyWithoutEdgeUsesMinBet(t *testing.T) {
	cfg := testConfig()
	cfg.SizingMode = SizingKelly
	cfg.MinBet = d(3)
	m := NewManager(cfg, nil)

	tests := []struct {
		name  string
		p     float64
		price float64
	}{
		{"coin flip", 0.5, 0.4},
		{"negative edge", 0.55, 0.58},
		{"price zero", 0.7, 0},
		{"price one", 0.7, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.cfg.DefaultWinRate = d(tt.p)
			got := m.PositionSize(d(tt.price), model.DirectionLong, "default", d(1000))
			if !got.Equal(d(3)) {
				t.Errorf("expected min_bet 3, got %s", got)
			}
		})
	}
}

func TestStreakPenalty(t *testing.T) {
	tests := []struct {
		streak int
		want   float64
	}{
		{0, 1}, {2, 1}, {3, 0.5}, {4, 0.25}, {5, 0.125},
	}
	for _, tt := range tests {
		if got := StreakPenalty(tt.streak); !got.Equal(d(tt.want)) {
			t.Errorf("streak %d: expected %v, got %s", tt.streak, tt.want, got)
		}
	}
}

func TestPositionSize_ShrinksWithLossStreak(t *testing.T) {
	m := NewManager(testConfig(), nil)

	want := []float64{5, 5, 5, 2.5, 1.25}
	for i, w := range want {
		got := m.PositionSize(d(0.45), model.DirectionLong, "default", decimal.Zero)
		if !got.Equal(d(w)) {
			t.Errorf("after %d losses: expected %v, got %s", i, w, got)
		}
		m.RecordResult(model.ResultLoss)
	}

	m.RecordResult(model.ResultWin)
	if got := m.PositionSize(d(0.45), model.DirectionLong, "default", decimal.Zero); !got.Equal(d(5)) {
		t.Errorf("win should clear the penalty, got %s", got)
	}
}

func TestPositionSize_DeepStreakRoundsToZero(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveLosses = 20
	m := NewManager(cfg, nil)

	for i := 0; i < 12; i++ {
		m.RecordResult(model.ResultLoss)
	}
	if got := m.PositionSize(d(0.45), model.DirectionLong, "default", decimal.Zero); !got.IsZero() {
		t.Errorf("expected zero stake after 12 losses, got %s", got)
	}
}

// --- Entry gating tests ---

func TestEntryAllowed(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)

	tests := []struct {
		name    string
		ask     float64
		spread  float64
		allowed bool
		reason  string
	}{
		{"ok", 0.50, 0.02, true, "ok"},
		{"price too high", 0.62, 0.02, false, "ask 0.62"},
		{"price beats spread check", 0.62, 0.12, false, "ask 0.62"},
		{"spread too wide", 0.50, 0.12, false, "spread 0.1200 > max"},
		{"spread suspiciously tight", 0.50, 0.005, false, "< min spread"},
		{"at the limits", 0.60, 0.10, true, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ob := model.Orderbook{Ask: d(tt.ask), Bid: d(tt.ask).Sub(d(tt.spread)), Spread: d(tt.spread)}
			allowed, reason := m.EntryAllowed(ob)
			if allowed != tt.allowed {
				t.Errorf("expected allowed=%v, got %v (%s)", tt.allowed, allowed, reason)
			}
			if !strings.Contains(reason, tt.reason) {
				t.Errorf("expected reason containing %q, got %q", tt.reason, reason)
			}
		})
	}
}

// --- Kill switch tests ---

func TestKillSwitch_NoLedgerContinues(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	if got := m.CheckKillSwitch(); got.Action != Continue {
		t.Errorf("expected Continue, got %v", got.Action)
	}
}

func TestKillSwitch_TotalLossHardStops(t *testing.T) {
	m := NewManager(DefaultConfig(), &fakeLedger{pnl: d(-600)})

	got := m.CheckKillSwitch()
	if got.Action != HardStop {
		t.Fatalf("expected HardStop, got %v", got.Action)
	}
	if !strings.Contains(got.Reason, "-600.00") || !strings.Contains(got.Reason, "500.00") {
		t.Errorf("reason should quote pnl and limit, got %q", got.Reason)
	}
}

func TestKillSwitch_DailyLossUsesCurrentUTCDate(t *testing.T) {
	ledger := &fakeLedger{pnl: d(-150), daily: map[string]decimal.Decimal{"2026-05-04": d(-150)}}
	m := NewManager(DefaultConfig(), ledger)

	m.now = func() time.Time { return time.Date(2026, 5, 5, 1, 0, 0, 0, time.UTC) }
	if got := m.CheckKillSwitch(); got.Action != Continue {
		t.Fatalf("yesterday's loss must not count today, got %v %s", got.Action, got.Reason)
	}

	m.now = func() time.Time { return time.Date(2026, 5, 4, 23, 0, 0, 0, time.UTC) }
	if got := m.CheckKillSwitch(); got.Action != HardStop {
		t.Errorf("expected HardStop on the loss day, got %v", got.Action)
	}
}

func TestKillSwitch_HardStopLatches(t *testing.T) {
	ledger := &fakeLedger{pnl: d(-600)}
	m := NewManager(DefaultConfig(), ledger)

	first := m.CheckKillSwitch()
	ledger.pnl = d(100)
	second := m.CheckKillSwitch()

	if second.Action != HardStop || second.Reason != first.Reason {
		t.Errorf("expected latched HardStop, got %v %q", second.Action, second.Reason)
	}
}

func TestKillSwitch_OpenPositionsPause(t *testing.T) {
	ledger := &fakeLedger{open: 3}
	m := NewManager(DefaultConfig(), ledger)

	if got := m.CheckKillSwitch(); got.Action != Pause {
		t.Errorf("expected Pause at 3 open positions, got %v", got.Action)
	}
	ledger.open = 2
	if got := m.CheckKillSwitch(); got.Action != Continue {
		t.Errorf("expected Continue at 2 open positions, got %v", got.Action)
	}
}

func TestKillSwitch_LossStreakPausesAndRecovers(t *testing.T) {
	m := NewManager(DefaultConfig(), &fakeLedger{})

	for i := 0; i < 5; i++ {
		m.RecordResult(model.ResultLoss)
	}
	if got := m.CheckKillSwitch(); got.Action != Pause {
		t.Fatalf("expected Pause after 5 losses, got %v", got.Action)
	}

	m.RecordResult(model.ResultWin)
	if m.ConsecutiveLosses() != 0 {
		t.Errorf("win should reset streak, got %d", m.ConsecutiveLosses())
	}
	if got := m.CheckKillSwitch(); got.Action != Continue {
		t.Errorf("expected Continue after a win, got %v", got.Action)
	}
}

func TestKillSwitch_LossLimitsCheckedBeforePauses(t *testing.T) {
	m := NewManager(DefaultConfig(), &fakeLedger{pnl: d(-501), open: 10})
	for i := 0; i < 10; i++ {
		m.RecordResult(model.ResultLoss)
	}
	if got := m.CheckKillSwitch(); got.Action != HardStop {
		t.Errorf("expected HardStop to win over pauses, got %v", got.Action)
	}
}

func TestAction_String(t *testing.T) {
	if HardStop.String() != "hard_stop" || Pause.String() != "pause" || Continue.String() != "continue" {
		t.Error("unexpected action names")
	}
}
