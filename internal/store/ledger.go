package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

var errUnknownTrade = errors.New("store: unknown trade")

// PnLScale is the number of decimal places a resolved pnl is stored with.
const PnLScale int32 = 4

// Store is the State Store. Every mutation is persisted before it returns;
// if persisting fails the in-memory ledger is rolled back so memory and the
// backend never diverge.
//
// Trading is single-threaded, but the viewer API reads snapshots from
// another goroutine, hence the lock.
type Store struct {
	backend Backend
	now     func() time.Time

	mu     sync.RWMutex
	ledger *model.Ledger
}

// Open loads the persisted ledger from backend. A missing or structurally
// invalid document yields a fresh default ledger; an invalid one is moved
// aside first when the backend supports it. Other backend errors are
// returned so an unreadable disk never gets silently overwritten.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	return openWithClock(ctx, backend, time.Now)
}

func openWithClock(ctx context.Context, backend Backend, now func() time.Time) (*Store, error) {
	s := &Store{backend: backend, now: now}

	l, err := backend.Load(ctx)
	switch {
	case err == nil:
		if ierr := l.CheckInvariants(); ierr != nil {
			slog.Warn("ledger invariants drifted, keeping loaded history", "err", ierr)
		}
		slog.Info("loaded ledger", "total_trades", l.Totals.TotalTrades, "pnl", l.Totals.PnL.String())
	case errors.Is(err, ErrNotFound):
		slog.Info("no persisted ledger, starting fresh")
		l = model.NewLedger(now())
	case errors.Is(err, ErrCorrupt):
		slog.Warn("ledger corrupted, starting fresh", "err", err)
		if q, ok := backend.(Quarantiner); ok {
			if moved, qerr := q.Quarantine(ctx); qerr != nil {
				slog.Error("failed to quarantine corrupt ledger", "err", qerr)
			} else {
				slog.Warn("corrupt ledger moved aside", "path", moved)
			}
		}
		l = model.NewLedger(now())
	default:
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	s.ledger = l
	return s, nil
}

// Save persists the current ledger.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Store) saveLocked(ctx context.Context) error {
	now := s.now().UTC()
	prev := s.ledger.LastSaved
	s.ledger.LastSaved = &now
	if err := s.backend.Save(ctx, s.ledger); err != nil {
		s.ledger.LastSaved = prev
		return fmt.Errorf("save ledger: %w", err)
	}
	slog.Debug("ledger saved")
	return nil
}

// mutate applies fn and persists, restoring the prior ledger on failure.
// An error from fn aborts the mutation before anything is persisted.
func (s *Store) mutate(ctx context.Context, fn func(l *model.Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior := s.ledger.Clone()
	if err := fn(s.ledger); err != nil {
		s.ledger = prior
		return err
	}
	if err := s.saveLocked(ctx); err != nil {
		s.ledger = prior
		return err
	}
	return nil
}

// Backup writes a timestamped, reason-tagged copy of the current ledger.
// It is independent of Save and never required for correctness.
func (s *Store) Backup(ctx context.Context, reason string) error {
	snap := s.Snapshot()
	if err := s.backend.Backup(ctx, snap, reason); err != nil {
		return fmt.Errorf("backup ledger: %w", err)
	}
	slog.Info("ledger backup created", "reason", reason)
	return nil
}

// AddTrade appends a new trade, bumps total_trades and the tracking fields,
// and persists.
func (s *Store) AddTrade(ctx context.Context, t model.Trade) error {
	if t.Resolved {
		return fmt.Errorf("add trade %s: %w", t.ID, model.ErrUnresolvedHasResolution)
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("add trade: %w", err)
	}
	return s.mutate(ctx, func(l *model.Ledger) error {
		l.Trades = append(l.Trades, t.Clone())
		l.Totals.TotalTrades++
		ts := t.Timestamp
		l.Tracking.LastTradeTime = &ts
		l.Tracking.LastMarketID = t.MarketID
		return nil
	})
}

// ResolveTrade writes the resolution tail of trade id and updates totals
// exactly once. An unknown id is logged and ignored. A second resolve of
// the same id returns ErrAlreadyResolved without touching totals.
func (s *Store) ResolveTrade(ctx context.Context, id string, result model.Result, pnl decimal.Decimal) error {
	if !result.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidResult, result)
	}
	pnl = pnl.Round(PnLScale)
	if !result.ConsistentWith(pnl) {
		return fmt.Errorf("%w: result=%s pnl=%s", ErrInconsistentResult, result, pnl)
	}

	err := s.mutate(ctx, func(l *model.Ledger) error {
		idx := indexOf(l, id)
		if idx < 0 {
			return errUnknownTrade
		}
		t := &l.Trades[idx]
		if t.Resolved {
			return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
		}

		now := s.now().UTC()
		p := pnl
		t.Resolved = true
		t.Result = result
		t.PnL = &p
		t.ResolutionTime = &now

		l.Totals.PnL = l.Totals.PnL.Add(pnl)
		if result == model.ResultWin {
			l.Totals.Wins++
		} else {
			l.Totals.Losses++
		}
		return nil
	})
	switch {
	case errors.Is(err, errUnknownTrade):
		slog.Warn("trade not found for resolution", "trade_id", id)
		return nil
	case errors.Is(err, ErrAlreadyResolved):
		slog.Warn("trade already resolved, ignoring", "trade_id", id)
		return err
	case err != nil:
		return err
	}

	slog.Info("trade resolved", "trade_id", id, "result", result, "pnl", pnl.StringFixed(2))
	return nil
}

func indexOf(l *model.Ledger, id string) int {
	for i := range l.Trades {
		if l.Trades[i].ID == id {
			return i
		}
	}
	return -1
}

// UnresolvedTrades returns copies of all unresolved trades in ledger order.
func (s *Store) UnresolvedTrades() []model.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.ledger.Trades {
		if !t.Resolved {
			out = append(out, t.Clone())
		}
	}
	return out
}

// UnresolvedCount returns the number of open positions.
func (s *Store) UnresolvedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, t := range s.ledger.Trades {
		if !t.Resolved {
			n++
		}
	}
	return n
}

// RecentTrades returns up to limit most recent trades, oldest first.
func (s *Store) RecentTrades(limit int) []model.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.ledger.Trades
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	out := make([]model.Trade, len(trades))
	for i, t := range trades {
		out[i] = t.Clone()
	}
	return out
}

// AlreadyTradedMarket reports whether marketID is the last market traded.
// This is a single-slot guard, not a set of every traded market.
func (s *Store) AlreadyTradedMarket(marketID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Tracking.LastMarketID == marketID
}

// SetLastSignal records the last signal seen, for reset detection.
func (s *Store) SetLastSignal(ctx context.Context, signal string) error {
	s.mu.RLock()
	same := s.ledger.Tracking.LastSignal == signal
	s.mu.RUnlock()
	if same {
		return nil
	}
	return s.mutate(ctx, func(l *model.Ledger) error {
		l.Tracking.LastSignal = signal
		return nil
	})
}

// LastSignal returns the last recorded signal.
func (s *Store) LastSignal() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Tracking.LastSignal
}

// SetMetadata stores an arbitrary metadata value and persists.
func (s *Store) SetMetadata(ctx context.Context, key string, value any) error {
	return s.mutate(ctx, func(l *model.Ledger) error {
		l.Metadata[key] = value
		return nil
	})
}

// Metadata returns a metadata value.
func (s *Store) Metadata(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.ledger.Metadata[key]
	return v, ok
}

// Totals returns the running aggregates.
func (s *Store) Totals() model.Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Totals
}

// PnL returns cumulative realized pnl.
func (s *Store) PnL() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Totals.PnL
}

// DailyPnL sums realized pnl of trades resolved on day's UTC calendar date.
func (s *Store) DailyPnL(day time.Time) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	y, m, dd := day.UTC().Date()
	total := decimal.Zero
	for _, t := range s.ledger.Trades {
		if !t.Resolved || t.ResolutionTime == nil || t.PnL == nil {
			continue
		}
		ty, tm, td := t.ResolutionTime.UTC().Date()
		if ty == y && tm == m && td == dd {
			total = total.Add(*t.PnL)
		}
	}
	return total
}

// WinRate returns wins / (wins + losses), or 0 before any resolution.
func (s *Store) WinRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.ledger.Totals.Wins + s.ledger.Totals.Losses
	if total == 0 {
		return 0
	}
	return float64(s.ledger.Totals.Wins) / float64(total)
}

// Snapshot returns a deep copy of the whole ledger for readers.
func (s *Store) Snapshot() *model.Ledger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Clone()
}
