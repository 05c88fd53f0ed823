package venue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

// BookSource supplies live orderbooks to the paper venue.
type BookSource interface {
	GetOrderbook(ctx context.Context, tokenID string) (model.Orderbook, error)
}

// PaperVenue reads real books from an upstream source but never sends an
// order anywhere: every order is matched immediately, in full, at its limit
// price. Not suitable for anything but dry runs.
type PaperVenue struct {
	books BookSource

	mu     sync.Mutex
	orders map[string]model.Order
}

// NewPaperVenue creates a paper venue over books.
func NewPaperVenue(books BookSource) *PaperVenue {
	return &PaperVenue{books: books, orders: make(map[string]model.Order)}
}

func (p *PaperVenue) GetOrderbook(ctx context.Context, tokenID string) (model.Orderbook, error) {
	return p.books.GetOrderbook(ctx, tokenID)
}

func (p *PaperVenue) CreateOrder(_ context.Context, req model.OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := "paper-" + uuid.New().String()
	p.orders[id] = model.Order{
		ID:            id,
		Status:        model.OrderMatched,
		FilledSize:    req.Size,
		FilledPrice:   req.Price,
		SettlementRef: "paper",
		Raw: map[string]any{
			"paper":    true,
			"token_id": req.TokenID,
			"side":     string(req.Side),
		},
	}
	return id, nil
}

func (p *PaperVenue) GetOrder(_ context.Context, orderID string) (model.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("venue: unknown paper order %s", orderID)
	}
	return o, nil
}

func (p *PaperVenue) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("venue: unknown paper order %s", orderID)
	}
	if o.Status == model.OrderOpen {
		o.Status = model.OrderCancelled
		p.orders[orderID] = o
	}
	return nil
}

// Orders returns the number of paper orders placed.
func (p *PaperVenue) Orders() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}
