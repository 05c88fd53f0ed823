// Package bot runs the trading cycle: kill switch, signal, sizing,
// execution, recording, and resolution of open trades.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baguette88/polymarket-trading-bot/internal/executor"
	"github.com/baguette88/polymarket-trading-bot/internal/marketdata"
	"github.com/baguette88/polymarket-trading-bot/internal/metrics"
	"github.com/baguette88/polymarket-trading-bot/internal/model"
	"github.com/baguette88/polymarket-trading-bot/internal/risk"
	"github.com/baguette88/polymarket-trading-bot/internal/signal"
	"github.com/baguette88/polymarket-trading-bot/internal/store"
)

// ErrHardStop is returned when the kill switch halts trading. It ends
// continuous operation and needs an operator.
var ErrHardStop = errors.New("bot: kill switch hard stop")

// MetaUnreconciledOrders is the ledger metadata key listing order ids whose
// fill could not be confirmed.
const MetaUnreconciledOrders = "unreconciled_orders"

// Event types sent to the Broadcaster.
const (
	EventTradeRecorded = "trade_recorded"
	EventTradeResolved = "trade_resolved"
)

// CandleSource supplies market data for the signal engine.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]marketdata.Candle, error)
}

// Books supplies live orderbooks.
type Books interface {
	GetOrderbook(ctx context.Context, tokenID string) (model.Orderbook, error)
}

// Buyer places verified buy orders. *executor.Executor satisfies it.
type Buyer interface {
	Buy(ctx context.Context, tokenID string, amountUSD, maxPrice decimal.Decimal) model.ExecutionResult
}

// Broadcaster publishes ledger events to viewers.
type Broadcaster interface {
	Broadcast(eventType string, payload any)
}

// Config holds the cycle parameters.
type Config struct {
	Symbol         string
	CandleInterval string
	CandleLimit    int
	Interval       time.Duration

	Strategy      string
	Bankroll      decimal.Decimal
	MaxEntryPrice decimal.Decimal

	// LogOnly logs intended trades instead of executing them.
	LogOnly       bool
	HeartbeatPath string
}

// Deps are the collaborators of a Bot. Resolver and Events may be nil.
type Deps struct {
	Store    *store.Store
	Risk     *risk.Manager
	Engine   signal.Engine
	Candles  CandleSource
	Markets  MarketSelector
	Books    Books
	Buyer    Buyer
	Resolver Resolver
	Events   Broadcaster
}

// Bot is the cycle orchestrator. It is not safe for concurrent use: one
// cycle runs to completion before the next starts.
type Bot struct {
	cfg Config
	Deps
	now func() time.Time
}

// New creates a bot.
func New(cfg Config, deps Deps) *Bot {
	return &Bot{cfg: cfg, Deps: deps, now: time.Now}
}

// Run executes cycles every interval until ctx is cancelled or the kill
// switch hard-stops. Cancellation is only observed between cycles; a
// running cycle always completes.
func (b *Bot) Run(ctx context.Context) error {
	slog.Info("starting bot loop", "interval", b.cfg.Interval.String())
	for {
		if err := b.RunOnce(context.WithoutCancel(ctx)); err != nil {
			if errors.Is(err, ErrHardStop) {
				return err
			}
			slog.Error("cycle failed", "err", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("bot stopped")
			return nil
		case <-time.After(b.cfg.Interval):
		}
	}
}

// RunOnce runs a single cycle and refreshes the heartbeat.
func (b *Bot) RunOnce(ctx context.Context) error {
	err := b.Cycle(ctx)
	b.heartbeat()
	b.refreshGauges()
	return err
}

// Cycle runs one trading cycle. A Pause skips trading but still checks
// open trades for resolution, so the positions causing it can clear.
func (b *Bot) Cycle(ctx context.Context) error {
	slog.Debug("starting cycle")

	decision := b.Risk.CheckKillSwitch()
	metrics.KillSwitchDecisions.WithLabelValues(decision.Action.String()).Inc()
	switch decision.Action {
	case risk.HardStop:
		metrics.CyclesTotal.WithLabelValues("hard_stop").Inc()
		return fmt.Errorf("%w: %s", ErrHardStop, decision.Reason)
	case risk.Pause:
		slog.Warn("kill switch paused trading, skipping entry", "reason", decision.Reason)
		metrics.CyclesTotal.WithLabelValues("paused").Inc()
		b.checkResolutions(ctx)
		return nil
	}

	outcome, err := b.trade(ctx)
	if err != nil {
		outcome = "failed"
	}
	metrics.CyclesTotal.WithLabelValues(outcome).Inc()

	b.checkResolutions(ctx)
	slog.Debug("cycle complete", "outcome", outcome)
	return err
}

// trade runs the entry half of a cycle and reports its outcome label.
func (b *Bot) trade(ctx context.Context) (string, error) {
	candles, err := b.Candles.GetCandles(ctx, b.cfg.Symbol, b.cfg.CandleInterval, b.cfg.CandleLimit)
	if err != nil {
		return "", fmt.Errorf("fetch candles: %w", err)
	}

	sig := b.Engine.Process(candles)
	b.persistSignal(ctx)
	if sig == signal.None {
		return "no_signal", nil
	}
	slog.Info("signal received", "signal", sig.String())

	target, ok, err := b.Markets.SelectMarket(ctx, sig)
	if err != nil {
		return "", fmt.Errorf("select market: %w", err)
	}
	if !ok {
		slog.Warn("no target market found")
		return "no_market", nil
	}
	if b.Store.AlreadyTradedMarket(target.ConditionID) {
		slog.Info("already traded this market, skipping", "market_id", target.ConditionID)
		return "already_traded", nil
	}

	direction := sig.Direction()
	tokenID, outcome := target.TokenFor(direction)

	if b.cfg.LogOnly {
		slog.Info("paper trade", "signal", sig.String(), "market", target.Label(), "outcome", outcome)
		return "paper", nil
	}

	book, err := b.Books.GetOrderbook(ctx, tokenID)
	if err != nil {
		return "", fmt.Errorf("fetch orderbook: %w", err)
	}
	if ok, reason := b.Risk.EntryAllowed(book); !ok {
		slog.Warn("entry blocked", "reason", reason, "token_id", tokenID)
		return "rejected", nil
	}

	amount := b.Risk.PositionSize(book.Ask, direction, b.cfg.Strategy, b.cfg.Bankroll)
	if !amount.IsPositive() {
		slog.Warn("entry blocked", "reason", "position size is zero", "token_id", tokenID)
		return "rejected", nil
	}
	res := b.Buyer.Buy(ctx, tokenID, amount, b.cfg.MaxEntryPrice)
	if !res.Success {
		slog.Error("trade failed", "err", res.Error, "token_id", tokenID, "amount_usd", amount.StringFixed(2))
		b.recordUnconfirmed(ctx, res)
		return "execution_failed", nil
	}
	b.recordUnconfirmed(ctx, res)

	t := model.NewTrade(model.Trade{
		MarketID:   target.ConditionID,
		TokenID:    tokenID,
		Direction:  direction,
		Outcome:    outcome,
		EntryPrice: res.FilledPrice,
		Size:       res.FilledSize,
		AmountUSD:  amount,
		OrderID:    res.OrderID,
		TxHash:     res.TxHash,
		Strategy:   b.cfg.Strategy,
	})
	if err := b.Store.AddTrade(ctx, t); err != nil {
		// The fill happened; make sure the order is not lost.
		slog.Error("filled order not recorded", "order_id", res.OrderID, "err", err)
		return "", fmt.Errorf("record trade: %w", err)
	}
	metrics.TradesRecorded.WithLabelValues(string(direction)).Inc()
	slog.Info("trade executed", "trade_id", t.ID, "order_id", t.OrderID,
		"entry_price", t.EntryPrice.String(), "size", t.Size.String(), "amount_usd", t.AmountUSD.StringFixed(2))
	b.publish(EventTradeRecorded, t)
	return "traded", nil
}

// persistSignal stores the gate state so a restart does not refire an
// active signal.
func (b *Bot) persistSignal(ctx context.Context) {
	g, ok := b.Engine.(interface{ Last() signal.Signal })
	if !ok {
		return
	}
	if err := b.Store.SetLastSignal(ctx, string(g.Last())); err != nil {
		slog.Warn("failed to persist last signal", "err", err)
	}
}

// recordUnconfirmed appends order ids whose verification timed out to the
// ledger metadata for manual reconciliation.
func (b *Bot) recordUnconfirmed(ctx context.Context, res model.ExecutionResult) {
	ids, _ := res.Metadata[executor.MetaUnconfirmedOrders].([]string)
	if len(ids) == 0 {
		return
	}

	existing := unreconciled(b.Store)
	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			existing = append(existing, id)
			seen[id] = true
		}
	}
	if err := b.Store.SetMetadata(ctx, MetaUnreconciledOrders, existing); err != nil {
		slog.Error("failed to record unreconciled orders", "order_ids", ids, "err", err)
		return
	}
	slog.Error("orders need manual reconciliation", "order_ids", ids)
}

// unreconciled reads the unreconciled order list, which comes back as
// []any after a reload from JSON.
func unreconciled(s *store.Store) []string {
	v, ok := s.Metadata(MetaUnreconciledOrders)
	if !ok {
		return nil
	}
	switch ids := v.(type) {
	case []string:
		return append([]string(nil), ids...)
	case []any:
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if str, ok := id.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func (b *Bot) publish(eventType string, payload any) {
	if b.Events != nil {
		b.Events.Broadcast(eventType, payload)
	}
}

func (b *Bot) heartbeat() {
	if b.cfg.HeartbeatPath == "" {
		return
	}
	stamp := b.now().UTC().Format(time.RFC3339Nano)
	if err := os.WriteFile(b.cfg.HeartbeatPath, []byte(stamp), 0o644); err != nil {
		slog.Warn("heartbeat write failed", "path", b.cfg.HeartbeatPath, "err", err)
	}
}

func (b *Bot) refreshGauges() {
	metrics.LedgerPnL.Set(b.Store.PnL().InexactFloat64())
	metrics.OpenPositions.Set(float64(b.Store.UnresolvedCount()))
}
