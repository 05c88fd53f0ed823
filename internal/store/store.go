// Package store is the durable trade ledger. Store owns the single Ledger and
// is the only writer of Trade objects; persistence is delegated to a Backend.
// Implementations include a JSON file (default), PostgreSQL, a Redis
// read-through cache, and in-memory (for testing).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

var (
	// ErrNotFound is returned by Backend.Load when nothing has been persisted.
	ErrNotFound = errors.New("store: no persisted ledger")

	// ErrCorrupt is returned by Backend.Load when the persisted document is
	// unreadable or misses required aggregate fields.
	ErrCorrupt = errors.New("store: persisted ledger failed validation")

	// ErrAlreadyResolved is returned when resolving a trade twice.
	ErrAlreadyResolved = errors.New("store: trade already resolved")

	// ErrInvalidResult is returned for a result other than win or loss.
	ErrInvalidResult = errors.New("store: result must be win or loss")

	// ErrInconsistentResult is returned when pnl sign disagrees with result.
	ErrInconsistentResult = errors.New("store: pnl sign disagrees with result")
)

// Backend persists whole Ledger documents.
type Backend interface {
	// Load returns the persisted ledger, ErrNotFound, or an error wrapping
	// ErrCorrupt.
	Load(ctx context.Context) (*model.Ledger, error)

	// Save durably replaces the persisted ledger. Readers never observe a
	// partially written document.
	Save(ctx context.Context, ledger *model.Ledger) error

	// Backup writes a reason-tagged copy kept apart from the canonical one.
	Backup(ctx context.Context, ledger *model.Ledger, reason string) error
}

// Quarantiner is implemented by backends that can move an unreadable
// document aside before it is overwritten by a fresh ledger.
type Quarantiner interface {
	Quarantine(ctx context.Context) (string, error)
}

// requiredFields are the aggregate keys a persisted ledger must carry.
var requiredFields = []string{"version", "created", "trades", "totals"}

var requiredTotals = []string{"pnl", "wins", "losses", "total_trades"}

// DecodeLedger parses a persisted document, checking that the required
// aggregate fields are present. Structural failures wrap ErrCorrupt.
func DecodeLedger(data []byte) (*model.Ledger, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for _, key := range requiredFields {
		if _, ok := raw[key]; !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrCorrupt, key)
		}
	}

	var totals map[string]json.RawMessage
	if err := json.Unmarshal(raw["totals"], &totals); err != nil {
		return nil, fmt.Errorf("%w: totals: %v", ErrCorrupt, err)
	}
	for _, key := range requiredTotals {
		if _, ok := totals[key]; !ok {
			return nil, fmt.Errorf("%w: missing \"totals.%s\"", ErrCorrupt, key)
		}
	}

	var l model.Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if l.Version < 1 || l.Created.IsZero() {
		return nil, fmt.Errorf("%w: version=%d created=%v", ErrCorrupt, l.Version, l.Created)
	}
	if l.Trades == nil {
		l.Trades = []model.Trade{}
	}
	if l.Metadata == nil {
		l.Metadata = map[string]any{}
	}
	return &l, nil
}

// EncodeLedger renders the persisted form.
func EncodeLedger(l *model.Ledger) ([]byte, error) {
	return json.MarshalIndent(l, "", "  ")
}
