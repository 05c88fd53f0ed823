// Package api serves the read-only ledger viewer: JSON endpoints over the
// State Store and a WebSocket feed of trade events.
//
// All monetary values use shopspring/decimal, never float64 for money.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 1000
)

// Ledger is the read side of the State Store. *store.Store satisfies it.
type Ledger interface {
	Snapshot() *model.Ledger
	RecentTrades(limit int) []model.Trade
	UnresolvedTrades() []model.Trade
	Totals() model.Totals
	WinRate() float64
	DailyPnL(day time.Time) decimal.Decimal
}

// Service handles the viewer endpoints. It never mutates the ledger.
type Service struct {
	ledger Ledger
	now    func() time.Time
}

// NewService creates a viewer over ledger.
func NewService(ledger Ledger) *Service {
	return &Service{ledger: ledger, now: time.Now}
}

// TotalsResponse is the JSON body for GET /api/v1/totals.
type TotalsResponse struct {
	model.Totals
	Unresolved int             `json:"unresolved"`
	WinRate    float64         `json:"win_rate"`
	DailyPnL   decimal.Decimal `json:"daily_pnl"`
	Day        string          `json:"day"`
}

// GetLedger handles GET /api/v1/ledger and returns the full document.
func (s *Service) GetLedger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Snapshot())
}

// ListTrades handles GET /api/v1/trades?limit=N, newest last.
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxTradeLimit)
	}
	writeJSON(w, http.StatusOK, nonNil(s.ledger.RecentTrades(limit)))
}

// ListUnresolved handles GET /api/v1/trades/unresolved.
func (s *Service) ListUnresolved(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.ledger.UnresolvedTrades()))
}

// GetTrade handles GET /api/v1/trades/{tradeID}.
func (s *Service) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tradeID")
	for _, t := range s.ledger.Snapshot().Trades {
		if t.ID == id {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	writeError(w, "trade not found", http.StatusNotFound)
}

// GetTotals handles GET /api/v1/totals: aggregates plus today's pnl.
func (s *Service) GetTotals(w http.ResponseWriter, r *http.Request) {
	today := s.now().UTC()
	writeJSON(w, http.StatusOK, TotalsResponse{
		Totals:     s.ledger.Totals(),
		Unresolved: len(s.ledger.UnresolvedTrades()),
		WinRate:    s.ledger.WinRate(),
		DailyPnL:   s.ledger.DailyPnL(today),
		Day:        today.Format(time.DateOnly),
	})
}

func nonNil(trades []model.Trade) []model.Trade {
	if trades == nil {
		return []model.Trade{}
	}
	return trades
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
