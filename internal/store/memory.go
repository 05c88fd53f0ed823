package store

import (
	"context"
	"sync"

	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

// MemoryBackend implements Backend with in-process byte copies. Used for
// testing and paper runs. Not suitable for production (no persistence).
type MemoryBackend struct {
	mu      sync.Mutex
	doc     []byte
	backups map[string][]byte
	saves   int

	// SaveErr, when set, makes every Save fail with it.
	SaveErr error
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{backups: make(map[string][]byte)}
}

// NewMemoryBackendWithDocument seeds the backend with a raw document, which
// lets tests exercise the load path against arbitrary input.
func NewMemoryBackendWithDocument(doc []byte) *MemoryBackend {
	b := NewMemoryBackend()
	b.doc = append([]byte(nil), doc...)
	return b
}

func (b *MemoryBackend) Load(_ context.Context) (*model.Ledger, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.doc == nil {
		return nil, ErrNotFound
	}
	return DecodeLedger(b.doc)
}

func (b *MemoryBackend) Save(_ context.Context, l *model.Ledger) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.SaveErr != nil {
		return b.SaveErr
	}
	data, err := EncodeLedger(l)
	if err != nil {
		return err
	}
	b.doc = data
	b.saves++
	return nil
}

func (b *MemoryBackend) Backup(_ context.Context, l *model.Ledger, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := EncodeLedger(l)
	if err != nil {
		return err
	}
	b.backups[reason] = data
	return nil
}

// Document returns the last saved document.
func (b *MemoryBackend) Document() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.doc...)
}

// Saves returns how many saves succeeded.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// Backups returns the reasons of all backups taken.
func (b *MemoryBackend) Backups() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	reasons := make([]string, 0, len(b.backups))
	for r := range b.backups {
		reasons = append(reasons, r)
	}
	return reasons
}
