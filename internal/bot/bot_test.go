package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baguette88/polymarket-trading-bot/internal/executor"
	"github.com/baguette88/polymarket-trading-bot/internal/marketdata"
	"github.com/baguette88/polymarket-trading-bot/internal/model"
	"github.com/baguette88/polymarket-trading-bot/internal/risk"
	"github.com/baguette88/polymarket-trading-bot/internal/signal"
	"github.com/baguette88/polymarket-trading-bot/internal/store"
	"github.com/baguette88/polymarket-trading-bot/internal/venue"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fakeCandles struct{ calls int }

func (f *fakeCandles) GetCandles(context.Context, string, string, int) ([]marketdata.Candle, error) {
	f.calls++
	return nil, nil
}

type fakeEngine struct{ sig signal.Signal }

func (f *fakeEngine) Process([]marketdata.Candle) signal.Signal { return f.sig }
func (f *fakeEngine) Last() signal.Signal                       { return f.sig }

type fakeBooks struct {
	book  model.Orderbook
	calls int
}

func (f *fakeBooks) GetOrderbook(_ context.Context, tokenID string) (model.Orderbook, error) {
	f.calls++
	ob := f.book
	ob.TokenID = tokenID
	return ob, nil
}

type fakeBuyer struct {
	res    model.ExecutionResult
	calls  int
	token  string
	amount decimal.Decimal
}

func (f *fakeBuyer) Buy(_ context.Context, tokenID string, amountUSD, _ decimal.Decimal) model.ExecutionResult {
	f.calls++
	f.token = tokenID
	f.amount = amountUSD
	return f.res
}

type fakeResolver struct{ markets map[string]venue.Market }

func (f *fakeResolver) GetMarket(_ context.Context, id string) (venue.Market, error) {
	m, ok := f.markets[id]
	if !ok {
		return venue.Market{}, errors.New("not found")
	}
	return m, nil
}

type recorder struct{ events []string }

func (r *recorder) Broadcast(eventType string, _ any) { r.events = append(r.events, eventType) }

var market = Target{ConditionID: "0xmarket", Slug: "btc-up", YesTokenID: "tok-yes", NoTokenID: "tok-no"}

type harness struct {
	bot      *Bot
	store    *store.Store
	candles  *fakeCandles
	engine   *fakeEngine
	books    *fakeBooks
	buyer    *fakeBuyer
	resolver *fakeResolver
	events   *recorder
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(context.Background(), store.NewMemoryBackend())
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		store:   st,
		candles: &fakeCandles{},
		engine:  &fakeEngine{sig: signal.Long},
		books: &fakeBooks{book: model.NewOrderbook("",
			[]model.Level{{Price: d(0.45), Size: d(100)}},
			[]model.Level{{Price: d(0.50), Size: d(100)}})},
		buyer: &fakeBuyer{res: model.ExecutionResult{
			Success: true, OrderID: "o1", TxHash: "0xtx",
			FilledSize: d(7.5), FilledPrice: d(0.5),
		}},
		resolver: &fakeResolver{markets: map[string]venue.Market{}},
		events:   &recorder{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.bot = New(Config{
		Symbol:         "BTCUSDT",
		CandleInterval: "15m",
		CandleLimit:    100,
		Interval:       time.Hour,
		Strategy:       "mean_reversion",
		MaxEntryPrice:  d(0.60),
		HeartbeatPath:  filepath.Join(t.TempDir(), ".heartbeat"),
	}, Deps{
		Store:    st,
		Risk:     risk.NewManager(risk.DefaultConfig(), st),
		Engine:   h.engine,
		Candles:  h.candles,
		Markets:  StaticMarket(market),
		Books:    h.books,
		Buyer:    h.buyer,
		Resolver: h.resolver,
		Events:   h.events,
	})
	h.bot.now = func() time.Time { return h.now }
	return h
}

func (h *harness) openTrade(t *testing.T, marketID string, outcome model.Outcome, amount, size float64) model.Trade {
	t.Helper()
	tr := model.NewTrade(model.Trade{
		MarketID: marketID, TokenID: "tok", Direction: model.DirectionLong, Outcome: outcome,
		EntryPrice: d(0.5), Size: d(size), AmountUSD: d(amount),
	})
	if err := h.store.AddTrade(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestCycle_RecordsFilledTrade(t *testing.T) {
	h := newHarness(t)

	if err := h.bot.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Ask 0.50 sits in the 0.75x tier of the 5 USD base bet.
	if h.buyer.calls != 1 || h.buyer.token != "tok-yes" || !h.buyer.amount.Equal(d(3.75)) {
		t.Fatalf("unexpected buy: calls=%d token=%s amount=%s", h.buyer.calls, h.buyer.token, h.buyer.amount)
	}

	trades := h.store.RecentTrades(10)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.MarketID != "0xmarket" || tr.Outcome != model.OutcomeYes || tr.OrderID != "o1" || tr.TxHash != "0xtx" {
		t.Errorf("unexpected trade %+v", tr)
	}
	if !tr.AmountUSD.Equal(d(3.75)) || !tr.Size.Equal(d(7.5)) || !tr.EntryPrice.Equal(d(0.5)) {
		t.Errorf("trade must record stake, filled size and filled price: %+v", tr)
	}
	if tr.Strategy != "mean_reversion" {
		t.Errorf("expected strategy recorded, got %q", tr.Strategy)
	}
	if !h.store.AlreadyTradedMarket("0xmarket") {
		t.Error("market not marked as traded")
	}
	if h.store.LastSignal() != "long" {
		t.Errorf("expected last signal persisted, got %q", h.store.LastSignal())
	}
	if !reflect.DeepEqual(h.events.events, []string{EventTradeRecorded}) {
		t.Errorf("unexpected events %v", h.events.events)
	}

	beat, err := os.ReadFile(h.bot.cfg.HeartbeatPath)
	if err != nil || string(beat) != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected heartbeat %q %v", beat, err)
	}
}

func TestCycle_ShortBuysNo(t *testing.T) {
	h := newHarness(t)
	h.engine.sig = signal.Short

	if err := h.bot.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.buyer.token != "tok-no" {
		t.Fatalf("short must buy the NO token, bought %q", h.buyer.token)
	}
	if tr := h.store.RecentTrades(1)[0]; tr.Outcome != model.OutcomeNo || tr.Direction != model.DirectionShort {
		t.Errorf("unexpected trade %+v", tr)
	}
}

func TestCycle_SkipsWithoutExecuting(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		books int
	}{
		{"no signal", func(h *harness) { h.engine.sig = signal.None }, 0},
		{"no market", func(h *harness) { h.bot.Markets = StaticMarket{} }, 0},
		{"already traded", func(h *harness) {}, 0},
		{"log only", func(h *harness) { h.bot.cfg.LogOnly = true }, 0},
		{"entry blocked", func(h *harness) {
			h.books.book = model.NewOrderbook("",
				[]model.Level{{Price: d(0.65), Size: d(10)}},
				[]model.Level{{Price: d(0.70), Size: d(10)}})
		}, 1},
		{"zero stake", func(h *harness) {
			cfg := risk.DefaultConfig()
			cfg.MaxConsecutiveLosses = 20
			h.bot.Risk = risk.NewManager(cfg, h.store)
			for i := 0; i < 12; i++ {
				h.bot.Risk.RecordResult(model.ResultLoss)
			}
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			if tt.name == "already traded" {
				h.openTrade(t, "0xmarket", model.OutcomeYes, 5, 10)
			}
			before := len(h.store.RecentTrades(100))

			if err := h.bot.Cycle(context.Background()); err != nil {
				t.Fatal(err)
			}
			if h.buyer.calls != 0 {
				t.Error("expected no order")
			}
			if h.books.calls != tt.books {
				t.Errorf("expected %d book fetches, got %d", tt.books, h.books.calls)
			}
			if got := len(h.store.RecentTrades(100)); got != before {
				t.Errorf("expected no new trade, %d -> %d", before, got)
			}
		})
	}
}

func TestCycle_HardStop(t *testing.T) {
	h := newHarness(t)
	tr := h.openTrade(t, "0xold", model.OutcomeYes, 600, 1000)
	if err := h.store.ResolveTrade(context.Background(), tr.ID, model.ResultLoss, d(-600)); err != nil {
		t.Fatal(err)
	}

	err := h.bot.Cycle(context.Background())
	if !errors.Is(err, ErrHardStop) {
		t.Fatalf("expected ErrHardStop, got %v", err)
	}
	if h.candles.calls != 0 || h.buyer.calls != 0 {
		t.Error("hard stop must skip the whole cycle")
	}
}

func TestCycle_PauseStillResolves(t *testing.T) {
	h := newHarness(t)
	win := h.openTrade(t, "m1", model.OutcomeYes, 5, 10)
	loss := h.openTrade(t, "m2", model.OutcomeYes, 4, 8)
	h.openTrade(t, "m3", model.OutcomeNo, 3, 6)

	h.resolver.markets["m1"] = venue.Market{ConditionID: "m1", Closed: true, Tokens: []venue.Token{
		{TokenID: "y", Outcome: "Yes", Winner: true}, {TokenID: "n", Outcome: "No"},
	}}
	h.resolver.markets["m2"] = venue.Market{ConditionID: "m2", Closed: true, Tokens: []venue.Token{
		{TokenID: "y", Outcome: "Yes"}, {TokenID: "n", Outcome: "No", Winner: true},
	}}
	h.resolver.markets["m3"] = venue.Market{ConditionID: "m3", Closed: false}

	if err := h.bot.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.candles.calls != 0 {
		t.Error("paused cycle must not look for entries")
	}

	totals := h.store.Totals()
	if totals.Wins != 1 || totals.Losses != 1 || !totals.PnL.Equal(d(1)) {
		t.Errorf("unexpected totals %+v", totals)
	}
	if h.store.UnresolvedCount() != 1 {
		t.Errorf("expected 1 open trade, got %d", h.store.UnresolvedCount())
	}
	for _, tr := range h.store.RecentTrades(10) {
		switch tr.ID {
		case win.ID:
			if tr.Result != model.ResultWin || !tr.PnL.Equal(d(5)) {
				t.Errorf("win settled as %s %s", tr.Result, tr.PnL)
			}
		case loss.ID:
			if tr.Result != model.ResultLoss || !tr.PnL.Equal(d(-4)) {
				t.Errorf("loss settled as %s %s", tr.Result, tr.PnL)
			}
		}
	}
	if h.bot.Risk.ConsecutiveLosses() != 1 {
		t.Errorf("expected loss streak 1 after win then loss, got %d", h.bot.Risk.ConsecutiveLosses())
	}
	if len(h.events.events) != 2 || h.events.events[0] != EventTradeResolved {
		t.Errorf("unexpected events %v", h.events.events)
	}

	// With a slot free the next cycle trades again.
	if err := h.bot.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.buyer.calls != 1 {
		t.Errorf("expected trading to resume, buys=%d", h.buyer.calls)
	}
}

func TestCycle_RecordsUnconfirmedOrders(t *testing.T) {
	h := newHarness(t)
	h.buyer.res = model.ExecutionResult{
		Error:       "verification timeout after 30s",
		Unconfirmed: true,
		Metadata:    map[string]any{executor.MetaUnconfirmedOrders: []string{"o1"}},
	}

	if err := h.bot.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.buyer.res.Metadata = map[string]any{executor.MetaUnconfirmedOrders: []string{"o1", "o2"}}
	h.engine.sig = signal.Short
	if err := h.bot.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := unreconciled(h.store); !reflect.DeepEqual(got, []string{"o1", "o2"}) {
		t.Errorf("unexpected unreconciled orders %v", got)
	}
	if len(h.store.RecentTrades(10)) != 0 {
		t.Error("failed execution must not record a trade")
	}
}

func TestSettle(t *testing.T) {
	tr := model.Trade{ID: "t", Outcome: model.OutcomeYes, Size: d(10), AmountUSD: d(4.5)}

	if r, pnl := Settle(tr, model.OutcomeYes); r != model.ResultWin || !pnl.Equal(d(5.5)) {
		t.Errorf("win: %s %s", r, pnl)
	}
	if r, pnl := Settle(tr, model.OutcomeNo); r != model.ResultLoss || !pnl.Equal(d(-4.5)) {
		t.Errorf("loss: %s %s", r, pnl)
	}

	tr.Size = d(4)
	if r, pnl := Settle(tr, model.OutcomeYes); r != model.ResultWin || !pnl.IsZero() {
		t.Errorf("short-paid win: %s %s", r, pnl)
	}
}

func TestRun_ReturnsOnCancelAfterCycle(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.bot.Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	// The in-flight cycle ran to completion despite the cancelled context.
	if h.buyer.calls != 1 || len(h.store.RecentTrades(10)) != 1 {
		t.Errorf("expected one complete cycle, buys=%d", h.buyer.calls)
	}
}

func TestRun_StopsOnHardStop(t *testing.T) {
	h := newHarness(t)
	tr := h.openTrade(t, "0xold", model.OutcomeYes, 600, 1000)
	if err := h.store.ResolveTrade(context.Background(), tr.ID, model.ResultLoss, d(-600)); err != nil {
		t.Fatal(err)
	}

	if err := h.bot.Run(context.Background()); !errors.Is(err, ErrHardStop) {
		t.Fatalf("expected ErrHardStop, got %v", err)
	}
}
