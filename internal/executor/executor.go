// Package executor implements the Order Executor: pre-trade validation
// against a fresh orderbook, submission with exponential-backoff retry, and
// fill verification by polling order status.
//
// Only one order is ever in flight. Validation rejections are returned as
// failed results with a reason string, never as errors.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baguette88/polymarket-trading-bot/internal/metrics"
	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

// Venue is the trading-venue surface the executor needs.
type Venue interface {
	GetOrderbook(ctx context.Context, tokenID string) (model.Orderbook, error)
	CreateOrder(ctx context.Context, req model.OrderRequest) (string, error)
	GetOrder(ctx context.Context, orderID string) (model.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Config holds execution parameters.
type Config struct {
	MaxRetries    int
	RetryDelay    time.Duration
	VerifyTimeout time.Duration
	PollInterval  time.Duration

	MaxSpread     decimal.Decimal
	MaxEntryPrice decimal.Decimal
	MinExitPrice  decimal.Decimal
}

// DefaultConfig returns the stock execution parameters.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		RetryDelay:    2 * time.Second,
		VerifyTimeout: 30 * time.Second,
		PollInterval:  2 * time.Second,
		MaxSpread:     decimal.RequireFromString("0.10"),
		MaxEntryPrice: decimal.RequireFromString("0.60"),
		MinExitPrice:  decimal.RequireFromString("0.01"),
	}
}

// MetaUnconfirmedOrders is the ExecutionResult.Metadata key listing order
// ids whose verification timed out. Those orders may still fill.
const MetaUnconfirmedOrders = "unconfirmed_orders"

// Executor places and verifies orders against a Venue.
type Executor struct {
	venue Venue
	cfg   Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// New creates an Executor. Non-positive retry and polling settings fall
// back to the defaults.
func New(venue Venue, cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = def.VerifyTimeout
	}
	return &Executor{
		venue: venue,
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Buy spends amountUSD on tokenID at the current ask. A zero maxPrice uses
// the configured MaxEntryPrice.
func (e *Executor) Buy(ctx context.Context, tokenID string, amountUSD, maxPrice decimal.Decimal) model.ExecutionResult {
	if maxPrice.IsZero() {
		maxPrice = e.cfg.MaxEntryPrice
	}

	book, err := e.venue.GetOrderbook(ctx, tokenID)
	if err != nil {
		return failed(fmt.Sprintf("orderbook fetch failed: %v", err))
	}

	if book.Spread.GreaterThan(e.cfg.MaxSpread) {
		return failed(fmt.Sprintf("spread too wide: %s > %s", book.Spread.StringFixed(4), e.cfg.MaxSpread.StringFixed(4)))
	}
	if book.Ask.GreaterThan(maxPrice) {
		return failed(fmt.Sprintf("ask %s exceeds max %s", book.Ask.StringFixed(2), maxPrice.StringFixed(2)))
	}
	if !book.Ask.IsPositive() {
		return failed(fmt.Sprintf("ask %s is not a valid price", book.Ask))
	}

	size := amountUSD.Div(book.Ask).Round(2)
	slog.Info("executing buy",
		"token_id", tokenID,
		"size", size.StringFixed(2),
		"price", book.Ask.StringFixed(3),
		"amount_usd", amountUSD.StringFixed(2),
	)

	return e.submitAndVerify(ctx, model.OrderRequest{
		TokenID: tokenID,
		Price:   book.Ask,
		Size:    size,
		Side:    model.SideBuy,
	})
}

// Sell sells size shares of tokenID at the current bid. A zero minPrice uses
// the configured MinExitPrice.
func (e *Executor) Sell(ctx context.Context, tokenID string, size, minPrice decimal.Decimal) model.ExecutionResult {
	if minPrice.IsZero() {
		minPrice = e.cfg.MinExitPrice
	}

	book, err := e.venue.GetOrderbook(ctx, tokenID)
	if err != nil {
		return failed(fmt.Sprintf("orderbook fetch failed: %v", err))
	}

	if book.Bid.LessThan(minPrice) {
		return failed(fmt.Sprintf("bid %s below min %s", book.Bid.StringFixed(2), minPrice.StringFixed(2)))
	}

	slog.Info("executing sell",
		"token_id", tokenID,
		"size", size.StringFixed(2),
		"price", book.Bid.StringFixed(3),
	)

	return e.submitAndVerify(ctx, model.OrderRequest{
		TokenID: tokenID,
		Price:   book.Bid,
		Size:    size,
		Side:    model.SideSell,
	})
}

// submitAndVerify runs up to MaxRetries submit-then-verify attempts, waiting
// RetryDelay * 2^attempt between attempts. An attempt fails when submission
// errors, returns no order id, ends in a failure status, or verification
// times out. A timed-out order is cancelled best-effort and reported in the
// result metadata because it may still fill.
func (e *Executor) submitAndVerify(ctx context.Context, req model.OrderRequest) model.ExecutionResult {
	side := string(req.Side)
	var lastErr string
	var unconfirmed []string

	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		metrics.OrderAttempts.WithLabelValues(side).Inc()

		orderID, err := e.venue.CreateOrder(ctx, req)
		switch {
		case err != nil:
			lastErr = fmt.Sprintf("submit failed: %v", err)
			metrics.OrderOutcomes.WithLabelValues(side, "submit_error").Inc()
			slog.Warn("order attempt failed", "attempt", attempt+1, "err", err)

		case orderID == "":
			lastErr = "no order id in response"
			metrics.OrderOutcomes.WithLabelValues(side, "submit_error").Inc()
			slog.Warn("order attempt failed", "attempt", attempt+1, "err", lastErr)

		default:
			res := e.verifyFill(ctx, orderID, side)
			if res.Success {
				return withUnconfirmed(res, unconfirmed)
			}
			lastErr = res.Error
			if res.Unconfirmed {
				unconfirmed = append(unconfirmed, orderID)
				e.cancelUnconfirmed(ctx, orderID)
			}
		}

		if attempt < e.cfg.MaxRetries-1 {
			wait := e.cfg.RetryDelay * time.Duration(1<<attempt)
			slog.Info("retrying order", "attempt", attempt+1, "wait", wait.String())
			e.sleep(ctx, wait)
		}
	}

	res := failed(fmt.Sprintf("all %d attempts failed, last error: %s", e.cfg.MaxRetries, lastErr))
	return withUnconfirmed(res, unconfirmed)
}

// verifyFill polls the order every PollInterval until it reaches a terminal
// status or VerifyTimeout elapses.
func (e *Executor) verifyFill(ctx context.Context, orderID, side string) model.ExecutionResult {
	start := e.now()

	for e.now().Sub(start) < e.cfg.VerifyTimeout {
		order, err := e.venue.GetOrder(ctx, orderID)
		if err != nil {
			slog.Warn("order status check failed", "order_id", orderID, "err", err)
		} else {
			switch {
			case order.Status == model.OrderMatched:
				metrics.FillLatency.WithLabelValues(side).Observe(e.now().Sub(start).Seconds())
				metrics.OrderOutcomes.WithLabelValues(side, "filled").Inc()
				slog.Info("order filled",
					"order_id", orderID,
					"filled_size", order.FilledSize.String(),
					"filled_price", order.FilledPrice.String(),
				)
				return model.ExecutionResult{
					Success:     true,
					OrderID:     orderID,
					TxHash:      order.SettlementRef,
					FilledSize:  order.FilledSize,
					FilledPrice: order.FilledPrice,
					Metadata:    order.Raw,
				}

			case order.Status.Failed():
				metrics.FillLatency.WithLabelValues(side).Observe(e.now().Sub(start).Seconds())
				metrics.OrderOutcomes.WithLabelValues(side, "rejected").Inc()
				slog.Warn("order ended without fill", "order_id", orderID, "status", order.Status)
				return model.ExecutionResult{
					OrderID: orderID,
					Error:   fmt.Sprintf("order %s", order.Status),
				}
			}
		}

		e.sleep(ctx, e.cfg.PollInterval)
	}

	metrics.OrderOutcomes.WithLabelValues(side, "timeout").Inc()
	slog.Error("order verification timed out, fate unknown; reconcile manually",
		"order_id", orderID,
		"timeout", e.cfg.VerifyTimeout.String(),
	)
	return model.ExecutionResult{
		OrderID:     orderID,
		Error:       fmt.Sprintf("verification timeout after %s", e.cfg.VerifyTimeout),
		Unconfirmed: true,
	}
}

func (e *Executor) cancelUnconfirmed(ctx context.Context, orderID string) {
	if err := e.venue.CancelOrder(ctx, orderID); err != nil {
		slog.Error("cancel after verification timeout failed", "order_id", orderID, "err", err)
		return
	}
	slog.Warn("cancel requested for unconfirmed order", "order_id", orderID)
}

func failed(reason string) model.ExecutionResult {
	return model.ExecutionResult{Error: reason}
}

// withUnconfirmed records timed-out order ids on res.
func withUnconfirmed(res model.ExecutionResult, ids []string) model.ExecutionResult {
	if len(ids) == 0 {
		return res
	}
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
	res.Metadata[MetaUnconfirmedOrders] = ids
	if !res.Success {
		res.Unconfirmed = true
	}
	return res
}
