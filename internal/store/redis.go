package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

// DefaultSnapshotKey is the Redis key holding the latest ledger document.
const DefaultSnapshotKey = "trader:ledger"

// CachedBackend wraps a primary Backend with a Redis snapshot of the latest
// ledger for read-only viewers. The primary is the only authority: Load
// always reads it, and Save writes it before refreshing the snapshot. A
// snapshot that cannot be refreshed is dropped so Redis never serves a
// ledger older than the primary's.
type CachedBackend struct {
	primary Backend
	rdb     *redis.Client
	key     string
	ttl     time.Duration
}

// NewCachedBackend creates a cached wrapper around a primary backend. A zero
// ttl keeps the snapshot until the next save.
func NewCachedBackend(primary Backend, rdb *redis.Client, key string, ttl time.Duration) *CachedBackend {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &CachedBackend{
		primary: primary,
		rdb:     rdb,
		key:     key,
		ttl:     ttl,
	}
}

// --- Load from the primary, then refresh the snapshot ---

func (b *CachedBackend) Load(ctx context.Context) (*model.Ledger, error) {
	l, err := b.primary.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		b.drop(ctx)
	}
	if err != nil {
		return nil, err
	}
	b.cache(ctx, l)
	return l, nil
}

// --- Write-through (primary first, then refresh the snapshot) ---

func (b *CachedBackend) Save(ctx context.Context, l *model.Ledger) error {
	if err := b.primary.Save(ctx, l); err != nil {
		return err
	}
	b.cache(ctx, l)
	return nil
}

// --- Passthrough ---

func (b *CachedBackend) Backup(ctx context.Context, l *model.Ledger, reason string) error {
	return b.primary.Backup(ctx, l, reason)
}

func (b *CachedBackend) Quarantine(ctx context.Context) (string, error) {
	b.drop(ctx)
	if q, ok := b.primary.(Quarantiner); ok {
		return q.Quarantine(ctx)
	}
	return "", nil
}

// --- Cache helpers ---

func (b *CachedBackend) cache(ctx context.Context, l *model.Ledger) {
	data, err := EncodeLedger(l)
	if err == nil {
		err = b.rdb.Set(ctx, b.key, data, b.ttl).Err()
	}
	if err == nil {
		return
	}
	slog.Warn("ledger snapshot cache refresh failed", "key", b.key, "err", err)
	b.drop(ctx)
}

func (b *CachedBackend) drop(ctx context.Context) {
	if err := b.rdb.Del(ctx, b.key).Err(); err != nil {
		slog.Warn("stale ledger snapshot not dropped", "key", b.key, "err", err)
	}
}
