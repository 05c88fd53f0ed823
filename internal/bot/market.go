package bot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/baguette88/polymarket-trading-bot/internal/metrics"
	"github.com/baguette88/polymarket-trading-bot/internal/model"
	"github.com/baguette88/polymarket-trading-bot/internal/signal"
	"github.com/baguette88/polymarket-trading-bot/internal/store"
	"github.com/baguette88/polymarket-trading-bot/internal/venue"
)

// Target is a binary market the bot can enter.
type Target struct {
	ConditionID string
	Slug        string
	YesTokenID  string
	NoTokenID   string
}

// TokenFor maps a direction onto the token to buy: long buys YES, short
// buys NO.
func (t Target) TokenFor(d model.Direction) (string, model.Outcome) {
	outcome := model.OutcomeFor(d)
	if outcome == model.OutcomeYes {
		return t.YesTokenID, outcome
	}
	return t.NoTokenID, outcome
}

// Label is a human-readable market name for logs.
func (t Target) Label() string {
	if t.Slug != "" {
		return t.Slug
	}
	return t.ConditionID
}

// MarketSelector picks the market to trade on a signal.
type MarketSelector interface {
	SelectMarket(ctx context.Context, sig signal.Signal) (Target, bool, error)
}

// StaticMarket always selects the configured market.
type StaticMarket Target

func (m StaticMarket) SelectMarket(context.Context, signal.Signal) (Target, bool, error) {
	t := Target(m)
	if t.ConditionID == "" || t.YesTokenID == "" || t.NoTokenID == "" {
		return Target{}, false, nil
	}
	return t, true, nil
}

// Resolver reports the state of a market. *venue.Client satisfies it.
type Resolver interface {
	GetMarket(ctx context.Context, conditionID string) (venue.Market, error)
}

// ResolvedEvent is broadcast when a trade resolves.
type ResolvedEvent struct {
	TradeID  string        `json:"trade_id"`
	MarketID string        `json:"market_id"`
	Result   model.Result  `json:"result"`
	PnL      string        `json:"pnl"`
	Totals   model.Totals  `json:"totals"`
	Outcome  model.Outcome `json:"outcome"`
}

// Settle computes the result and pnl of a trade given the winning outcome.
// A winning position pays one dollar per share; a losing one forfeits the
// stake. A win never reports negative pnl.
func Settle(t model.Trade, winner model.Outcome) (model.Result, decimal.Decimal) {
	if t.Outcome != winner {
		return model.ResultLoss, t.AmountUSD.Neg()
	}
	pnl := t.Size.Sub(t.AmountUSD)
	if pnl.IsNegative() {
		slog.Warn("winning trade paid less than its stake", "trade_id", t.ID, "pnl", pnl.String())
		pnl = decimal.Zero
	}
	return model.ResultWin, pnl
}

// checkResolutions resolves every open trade whose market has closed.
// Failures are logged per trade and never fail the cycle.
func (b *Bot) checkResolutions(ctx context.Context) {
	if b.Resolver == nil {
		return
	}
	open := b.Store.UnresolvedTrades()
	if len(open) == 0 {
		return
	}

	markets := make(map[string]venue.Market)
	for _, t := range open {
		m, ok := markets[t.MarketID]
		if !ok {
			var err error
			m, err = b.Resolver.GetMarket(ctx, t.MarketID)
			if err != nil {
				slog.Warn("resolution check failed", "trade_id", t.ID, "market_id", t.MarketID, "err", err)
				continue
			}
			markets[t.MarketID] = m
		}

		winner, closed := m.Winner()
		if !closed {
			continue
		}

		result, pnl := Settle(t, winner)
		err := b.Store.ResolveTrade(ctx, t.ID, result, pnl)
		if errors.Is(err, store.ErrAlreadyResolved) {
			continue
		}
		if err != nil {
			slog.Error("failed to record resolution", "trade_id", t.ID, "err", err)
			continue
		}

		b.Risk.RecordResult(result)
		metrics.TradesResolved.WithLabelValues(string(result)).Inc()
		b.publish(EventTradeResolved, ResolvedEvent{
			TradeID:  t.ID,
			MarketID: t.MarketID,
			Result:   result,
			PnL:      pnl.Round(store.PnLScale).String(),
			Totals:   b.Store.Totals(),
			Outcome:  winner,
		})
	}
}
