// Package venue is the trading-venue boundary: a JSON REST client for a
// CLOB-style prediction market, market metadata for resolution, and a paper
// venue that fills every order immediately.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

// DefaultTimeout bounds every venue request. A timeout fails the attempt;
// retrying is the executor's job.
const DefaultTimeout = 10 * time.Second

// APIKeyHeader carries the API key on every request.
const APIKeyHeader = "X-API-Key"

// ErrNoOrderID is returned when a submission is accepted without an id.
var ErrNoOrderID = errors.New("venue: order response carried no order id")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("venue: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client talks to the order book API and the market metadata API.
type Client struct {
	host       string
	marketHost string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a client. marketHost serves /markets/{condition_id};
// when empty the order book host is used for both.
func NewClient(host, marketHost, apiKey string) *Client {
	host = strings.TrimRight(host, "/")
	if marketHost == "" {
		marketHost = host
	}
	return &Client{
		host:       host,
		marketHost: strings.TrimRight(marketHost, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

type bookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type bookResponse struct {
	AssetID string      `json:"asset_id"`
	Bids    []bookLevel `json:"bids"`
	Asks    []bookLevel `json:"asks"`
}

// GetOrderbook fetches a fresh book for tokenID.
func (c *Client) GetOrderbook(ctx context.Context, tokenID string) (model.Orderbook, error) {
	var resp bookResponse
	path := "/book?token_id=" + url.QueryEscape(tokenID)
	if err := c.doJSON(ctx, c.host, http.MethodGet, path, nil, &resp); err != nil {
		return model.Orderbook{}, err
	}
	return model.NewOrderbook(tokenID, levels(resp.Bids), levels(resp.Asks)), nil
}

func levels(in []bookLevel) []model.Level {
	out := make([]model.Level, len(in))
	for i, l := range in {
		out[i] = model.Level{Price: l.Price, Size: l.Size}
	}
	return out
}

type orderBody struct {
	TokenID string          `json:"token_id"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Side    string          `json:"side"`
}

type orderResponse struct {
	Success  *bool  `json:"success"`
	OrderID  string `json:"orderID"`
	ID       string `json:"id"`
	ErrorMsg string `json:"errorMsg"`
}

// CreateOrder submits a limit order and returns its id.
func (c *Client) CreateOrder(ctx context.Context, req model.OrderRequest) (string, error) {
	body := orderBody{
		TokenID: req.TokenID,
		Price:   req.Price,
		Size:    req.Size,
		Side:    strings.ToUpper(string(req.Side)),
	}
	var resp orderResponse
	if err := c.doJSON(ctx, c.host, http.MethodPost, "/order", body, &resp); err != nil {
		return "", err
	}
	if resp.Success != nil && !*resp.Success {
		return "", fmt.Errorf("venue: order rejected: %s", resp.ErrorMsg)
	}
	id := resp.OrderID
	if id == "" {
		id = resp.ID
	}
	if id == "" {
		return "", ErrNoOrderID
	}
	return id, nil
}

type orderStatusResponse struct {
	ID              string          `json:"id"`
	Status          string          `json:"status"`
	SizeMatched     decimal.Decimal `json:"size_matched"`
	Price           decimal.Decimal `json:"price"`
	TransactionHash string          `json:"transactionHash"`
}

// GetOrder fetches an order's current status. Venue statuses are
// normalized to lower case; unknown ones pass through as non-terminal.
func (c *Client) GetOrder(ctx context.Context, orderID string) (model.Order, error) {
	var raw map[string]any
	path := "/data/order/" + url.PathEscape(orderID)
	payload, err := c.do(ctx, c.host, http.MethodGet, path, nil)
	if err != nil {
		return model.Order{}, err
	}
	var resp orderStatusResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return model.Order{}, fmt.Errorf("venue: decode order %s: %w", orderID, err)
	}
	_ = json.Unmarshal(payload, &raw)

	id := resp.ID
	if id == "" {
		id = orderID
	}
	return model.Order{
		ID:            id,
		Status:        model.OrderStatus(strings.ToLower(resp.Status)),
		FilledSize:    resp.SizeMatched,
		FilledPrice:   resp.Price,
		SettlementRef: resp.TransactionHash,
		Raw:           raw,
	}, nil
}

// CancelOrder asks the venue to cancel orderID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]string{"orderID": orderID}
	_, err := c.do(ctx, c.host, http.MethodDelete, "/order", body)
	return err
}

// Market is the metadata needed to pick tokens and settle trades.
type Market struct {
	ConditionID string  `json:"condition_id"`
	Slug        string  `json:"slug"`
	Question    string  `json:"question,omitempty"`
	Closed      bool    `json:"closed"`
	Tokens      []Token `json:"tokens"`
}

// Token is one outcome token of a market.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// TokenFor returns the token id for outcome (case-insensitive).
func (m Market) TokenFor(outcome model.Outcome) (string, bool) {
	for _, t := range m.Tokens {
		if strings.EqualFold(t.Outcome, string(outcome)) {
			return t.TokenID, true
		}
	}
	return "", false
}

// Winner returns the winning outcome once the market has closed.
func (m Market) Winner() (model.Outcome, bool) {
	if !m.Closed {
		return "", false
	}
	for _, t := range m.Tokens {
		if t.Winner {
			return model.Outcome(strings.ToUpper(t.Outcome)), true
		}
	}
	return "", false
}

// GetMarket fetches market metadata by condition id.
func (c *Client) GetMarket(ctx context.Context, conditionID string) (Market, error) {
	var m Market
	path := "/markets/" + url.PathEscape(conditionID)
	if err := c.doJSON(ctx, c.marketHost, http.MethodGet, path, nil, &m); err != nil {
		return Market{}, err
	}
	if m.ConditionID == "" {
		m.ConditionID = conditionID
	}
	return m, nil
}

func (c *Client) doJSON(ctx context.Context, host, method, path string, body, out any) error {
	payload, err := c.do(ctx, host, method, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("venue: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, host, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, host+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: truncate(string(payload), 200)}
	}
	return payload, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
