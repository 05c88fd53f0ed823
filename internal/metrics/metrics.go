// Package metrics provides Prometheus instrumentation for the trader.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesTotal counts trading cycles by outcome (traded, no_signal,
	// paused, rejected, failed, hard_stop, ...).
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_cycles_total",
		Help: "Total trading cycles by outcome",
	}, []string{"outcome"})

	// KillSwitchDecisions counts kill switch verdicts by action.
	KillSwitchDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_kill_switch_decisions_total",
		Help: "Kill switch verdicts by action",
	}, []string{"action"})

	// OrderAttempts counts order submissions, partitioned by side.
	OrderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_order_attempts_total",
		Help: "Order submission attempts",
	}, []string{"side"})

	// OrderOutcomes counts verified order outcomes (filled, rejected,
	// timeout, submit_error).
	OrderOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_order_outcomes_total",
		Help: "Order outcomes after fill verification",
	}, []string{"side", "outcome"})

	// FillLatency tracks time from submission to a terminal order status.
	FillLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trader_fill_verification_seconds",
		Help:    "Time from order submission to terminal status in seconds",
		Buckets: []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
	}, []string{"side"})

	// TradesRecorded counts trades added to the ledger, by direction.
	TradesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_trades_recorded_total",
		Help: "Trades recorded in the ledger",
	}, []string{"direction"})

	// TradesResolved counts resolved trades, by result.
	TradesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_trades_resolved_total",
		Help: "Trades resolved",
	}, []string{"result"})

	// LedgerPnL tracks cumulative realized pnl in USD.
	LedgerPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_ledger_pnl_usd",
		Help: "Cumulative realized pnl in USD",
	})

	// OpenPositions tracks the number of unresolved trades.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_open_positions",
		Help: "Number of unresolved trades",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trader_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(duration)
	})
}

// routePattern returns the chi route pattern when one matched, so ids in
// paths do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
