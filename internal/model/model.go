// Package model defines the core domain types shared across the trader.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the signal direction a trade was entered on.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Outcome is the binary outcome token bought.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// OutcomeFor maps a signal direction to the token side it buys:
// long buys YES, short buys NO.
func OutcomeFor(d Direction) Outcome {
	if d == DirectionShort {
		return OutcomeNo
	}
	return OutcomeYes
}

// Result is the settled result of a trade.
type Result string

const (
	ResultWin  Result = "win"
	ResultLoss Result = "loss"
)

// Valid reports whether r is a known result.
func (r Result) Valid() bool {
	return r == ResultWin || r == ResultLoss
}

// ConsistentWith reports whether pnl has the sign the result implies:
// a win carries pnl >= 0, a loss carries pnl < 0.
func (r Result) ConsistentWith(pnl decimal.Decimal) bool {
	switch r {
	case ResultWin:
		return !pnl.IsNegative()
	case ResultLoss:
		return pnl.IsNegative()
	}
	return false
}

// Side is the order side sent to the venue.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

var (
	ErrUnresolvedHasResolution = errors.New("model: unresolved trade carries resolution fields")
	ErrResolvedIncomplete      = errors.New("model: resolved trade is missing resolution fields")
	ErrResultMismatch          = errors.New("model: pnl sign disagrees with result")
	ErrTotalsMismatch          = errors.New("model: ledger totals disagree with trades")
)

// Trade is a single executed entry. Everything up to Strategy is fixed at
// creation; the resolution tail is written exactly once by the store.
type Trade struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	MarketID   string          `json:"market_id"`
	TokenID    string          `json:"token_id"`
	Direction  Direction       `json:"direction"`
	Outcome    Outcome         `json:"outcome"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Size       decimal.Decimal `json:"size"`       // shares
	AmountUSD  decimal.Decimal `json:"amount_usd"` // cost
	OrderID    string          `json:"order_id,omitempty"`
	TxHash     string          `json:"tx_hash,omitempty"`
	Strategy   string          `json:"strategy"`

	Resolved       bool             `json:"resolved"`
	Result         Result           `json:"result,omitempty"`
	PnL            *decimal.Decimal `json:"pnl,omitempty"`
	ResolutionTime *time.Time       `json:"resolution_time,omitempty"`
}

// NewTrade stamps t with a fresh id and the current UTC time and clears any
// resolution fields.
func NewTrade(t Trade) Trade {
	t.ID = uuid.New().String()
	t.Timestamp = time.Now().UTC()
	if t.Strategy == "" {
		t.Strategy = "default"
	}
	t.Resolved = false
	t.Result = ""
	t.PnL = nil
	t.ResolutionTime = nil
	return t
}

// Validate checks the resolved/unresolved invariant and pnl sign agreement.
func (t *Trade) Validate() error {
	if !t.Resolved {
		if t.Result != "" || t.PnL != nil || t.ResolutionTime != nil {
			return fmt.Errorf("%w: %s", ErrUnresolvedHasResolution, t.ID)
		}
		return nil
	}
	if !t.Result.Valid() || t.PnL == nil || t.ResolutionTime == nil {
		return fmt.Errorf("%w: %s", ErrResolvedIncomplete, t.ID)
	}
	if !t.Result.ConsistentWith(*t.PnL) {
		return fmt.Errorf("%w: %s result=%s pnl=%s", ErrResultMismatch, t.ID, t.Result, t.PnL)
	}
	return nil
}

// Clone returns a copy that shares no pointers with t.
func (t Trade) Clone() Trade {
	if t.PnL != nil {
		pnl := *t.PnL
		t.PnL = &pnl
	}
	if t.ResolutionTime != nil {
		rt := *t.ResolutionTime
		t.ResolutionTime = &rt
	}
	return t
}

// Totals are the running aggregates over the trade list.
type Totals struct {
	PnL         decimal.Decimal `json:"pnl"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	TotalTrades int             `json:"total_trades"`
}

// Tracking holds de-duplication and signal-reset bookkeeping.
type Tracking struct {
	LastSignal    string     `json:"last_signal,omitempty"`
	LastMarketID  string     `json:"last_market_id,omitempty"`
	LastTradeTime *time.Time `json:"last_trade_time,omitempty"`
}

// LedgerVersion is the document version written by this build.
const LedgerVersion = 1

// Ledger is the durable aggregate of all trades and running totals.
// Trades are kept in append order, which is chronological.
type Ledger struct {
	Version   int            `json:"version"`
	Created   time.Time      `json:"created"`
	LastSaved *time.Time     `json:"last_saved,omitempty"`
	Trades    []Trade        `json:"trades"`
	Totals    Totals         `json:"totals"`
	Tracking  Tracking       `json:"tracking"`
	Metadata  map[string]any `json:"metadata"`
}

// NewLedger returns the default empty skeleton.
func NewLedger(now time.Time) *Ledger {
	return &Ledger{
		Version:  LedgerVersion,
		Created:  now.UTC(),
		Trades:   []Trade{},
		Totals:   Totals{PnL: decimal.Zero},
		Metadata: map[string]any{},
	}
}

// Clone returns a deep copy. Readers outside the store only ever see clones.
func (l *Ledger) Clone() *Ledger {
	c := *l
	if l.LastSaved != nil {
		ls := *l.LastSaved
		c.LastSaved = &ls
	}
	if l.Tracking.LastTradeTime != nil {
		lt := *l.Tracking.LastTradeTime
		c.Tracking.LastTradeTime = &lt
	}
	c.Trades = make([]Trade, len(l.Trades))
	for i, t := range l.Trades {
		c.Trades[i] = t.Clone()
	}
	c.Metadata = maps.Clone(l.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	return &c
}

// CheckInvariants verifies every trade and that the totals agree with the
// trade list: total_trades == len(trades), wins+losses == resolved count,
// pnl == sum of resolved pnl.
func (l *Ledger) CheckInvariants() error {
	if l.Totals.TotalTrades != len(l.Trades) {
		return fmt.Errorf("%w: total_trades=%d trades=%d", ErrTotalsMismatch, l.Totals.TotalTrades, len(l.Trades))
	}
	resolved := 0
	sum := decimal.Zero
	for i := range l.Trades {
		t := &l.Trades[i]
		if err := t.Validate(); err != nil {
			return err
		}
		if t.Resolved {
			resolved++
			sum = sum.Add(*t.PnL)
		}
	}
	if l.Totals.Wins+l.Totals.Losses != resolved {
		return fmt.Errorf("%w: wins+losses=%d resolved=%d", ErrTotalsMismatch, l.Totals.Wins+l.Totals.Losses, resolved)
	}
	if !l.Totals.PnL.Equal(sum) {
		return fmt.Errorf("%w: pnl=%s sum=%s", ErrTotalsMismatch, l.Totals.PnL, sum)
	}
	return nil
}

// Level is one price level of an orderbook side.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// DepthLevels is how many levels per side count towards depth.
const DepthLevels = 5

// Orderbook is a transient top-of-book snapshot. It is fetched fresh for
// every check and never cached across cycles.
type Orderbook struct {
	TokenID  string          `json:"token_id"`
	Bid      decimal.Decimal `json:"bid"`
	Ask      decimal.Decimal `json:"ask"`
	Spread   decimal.Decimal `json:"spread"` // ask - bid
	Mid      decimal.Decimal `json:"mid"`    // (bid + ask) / 2
	BidDepth decimal.Decimal `json:"bid_depth"`
	AskDepth decimal.Decimal `json:"ask_depth"`
}

// NewOrderbook derives the snapshot from raw levels. Levels may arrive in any
// order. An empty bid side reads as bid 0 and an empty ask side as ask 1.
func NewOrderbook(tokenID string, bids, asks []Level) Orderbook {
	bids = sortLevels(bids, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
	asks = sortLevels(asks, func(a, b decimal.Decimal) bool { return a.LessThan(b) })

	bid := decimal.Zero
	if len(bids) > 0 {
		bid = bids[0].Price
	}
	ask := decimal.NewFromInt(1)
	if len(asks) > 0 {
		ask = asks[0].Price
	}

	return Orderbook{
		TokenID:  tokenID,
		Bid:      bid,
		Ask:      ask,
		Spread:   ask.Sub(bid).Round(4),
		Mid:      bid.Add(ask).Div(decimal.NewFromInt(2)).Round(4),
		BidDepth: depth(bids),
		AskDepth: depth(asks),
	}
}

func sortLevels(levels []Level, better func(a, b decimal.Decimal) bool) []Level {
	out := make([]Level, len(levels))
	copy(out, levels)
	// Insertion sort: books are short and usually already ordered.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && better(out[j].Price, out[j-1].Price); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func depth(levels []Level) decimal.Decimal {
	total := decimal.Zero
	for i, l := range levels {
		if i == DepthLevels {
			break
		}
		total = total.Add(l.Size)
	}
	return total
}

// OrderStatus is the venue-reported state of a submitted order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderMatched   OrderStatus = "matched"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
	OrderFailed    OrderStatus = "failed"
)

// Failed reports whether s is a terminal failure status.
func (s OrderStatus) Failed() bool {
	return s == OrderCancelled || s == OrderExpired || s == OrderFailed
}

// OrderRequest is a limit order to submit to the venue.
type OrderRequest struct {
	TokenID string          `json:"token_id"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Side    Side            `json:"side"`
}

// Order is the venue's view of a submitted order.
type Order struct {
	ID            string          `json:"id"`
	Status        OrderStatus     `json:"status"`
	FilledSize    decimal.Decimal `json:"filled_size"`
	FilledPrice   decimal.Decimal `json:"filled_price"`
	SettlementRef string          `json:"settlement_ref,omitempty"`
	Raw           map[string]any  `json:"raw,omitempty"`
}

// ExecutionResult is the outcome of one executor call. It is consumed once
// by the orchestrator to build a Trade.
type ExecutionResult struct {
	Success     bool            `json:"success"`
	OrderID     string          `json:"order_id,omitempty"`
	TxHash      string          `json:"tx_hash,omitempty"`
	FilledSize  decimal.Decimal `json:"filled_size"`
	FilledPrice decimal.Decimal `json:"filled_price"`
	Error       string          `json:"error,omitempty"`
	// Unconfirmed is set when verification timed out: the order may still
	// fill on the venue and needs manual reconciliation.
	Unconfirmed bool           `json:"unconfirmed,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
