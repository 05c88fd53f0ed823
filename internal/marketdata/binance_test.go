package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestBinance_GetCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/klines" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "15m" || q.Get("limit") != "2" {
			http.Error(w, "bad query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		w.Write([]byte(`[
			[1767225600000,"100.0","110.5","95.25","105.0","12.5",1767226499999,"0",10,"0","0","0"],
			[1767226500000,"105.0","106.0","101.0","102.75","8",1767227399999,"0",7,"0","0","0"]
		]`))
	}))
	defer srv.Close()

	candles, err := NewBinance(srv.URL).GetCandles(context.Background(), "BTCUSDT", "15m", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}

	c := candles[0]
	if !c.OpenTime.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected open time %v", c.OpenTime)
	}
	if !c.High.Equal(decimal.RequireFromString("110.5")) || !c.Low.Equal(decimal.RequireFromString("95.25")) {
		t.Errorf("unexpected high/low %s/%s", c.High, c.Low)
	}
	if closes := Closes(candles); closes[1] != 102.75 {
		t.Errorf("expected last close 102.75, got %v", closes[1])
	}
}

func TestBinance_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	if _, err := NewBinance(srv.URL).GetCandles(context.Background(), "NOPE", "15m", 2); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseKlines_ShortRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1767225600000,"1","2"]]`))
	}))
	defer srv.Close()

	if _, err := NewBinance(srv.URL).GetCandles(context.Background(), "BTCUSDT", "15m", 1); err == nil {
		t.Fatal("expected error for truncated row")
	}
}
