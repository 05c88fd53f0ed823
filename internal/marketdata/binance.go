// Package marketdata fetches OHLCV candles for the signal engine.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBinanceURL is the public Binance REST API root.
const DefaultBinanceURL = "https://api.binance.com/api/v3"

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time       `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// Closes returns the close prices as floats, oldest first.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close.InexactFloat64()
	}
	return out
}

// Binance reads klines from the Binance REST API.
type Binance struct {
	baseURL    string
	httpClient *http.Client
}

// NewBinance creates a klines client. An empty baseURL uses the public API.
func NewBinance(baseURL string) *Binance {
	if baseURL == "" {
		baseURL = DefaultBinanceURL
	}
	return &Binance{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetCandles returns up to limit candles for symbol at interval, oldest first.
func (b *Binance) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch klines: %s: %s", resp.Status, body)
	}

	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	return parseKlines(rows)
}

// parseKlines maps Binance's positional rows
// [openTime, open, high, low, close, volume, ...] onto candles.
func parseKlines(rows [][]json.RawMessage) ([]Candle, error) {
	candles := make([]Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline %d: expected at least 6 fields, got %d", i, len(row))
		}
		var ms int64
		if err := json.Unmarshal(row[0], &ms); err != nil {
			return nil, fmt.Errorf("kline %d open time: %w", i, err)
		}
		c := Candle{OpenTime: time.UnixMilli(ms).UTC()}
		for j, dst := range []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume} {
			if err := dst.UnmarshalJSON(row[j+1]); err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
		}
		candles = append(candles, c)
	}
	return candles, nil
}
