package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestCachedBackend_SnapshotFollowsSaves(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	primary := NewMemoryBackend()

	s, err := Open(ctx, NewCachedBackend(primary, rdb, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddTrade(ctx, newTrade("redis", 5)); err != nil {
		t.Fatal(err)
	}

	cached, err := mr.Get(DefaultSnapshotKey)
	if err != nil {
		t.Fatalf("expected snapshot in redis: %v", err)
	}
	if cached != string(primary.Document()) {
		t.Error("snapshot and primary disagree")
	}
}

func TestCachedBackend_LoadIgnoresSnapshot(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)

	// A snapshot with a trade the primary never saw.
	other := NewMemoryBackend()
	s, err := Open(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddTrade(ctx, newTrade("ghost", 5)); err != nil {
		t.Fatal(err)
	}
	mr.Set(DefaultSnapshotKey, string(other.Document()))

	fresh, err := Open(ctx, NewCachedBackend(NewMemoryBackend(), rdb, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Totals().TotalTrades != 0 || fresh.AlreadyTradedMarket("ghost") {
		t.Errorf("expected the primary's empty ledger, got %+v", fresh.Totals())
	}
	if mr.Exists(DefaultSnapshotKey) {
		t.Error("snapshot of a ledger the primary does not hold was kept")
	}
}

func TestCachedBackend_FailedRefreshNeverReloads(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	primary := NewMemoryBackend()

	s, err := Open(ctx, NewCachedBackend(primary, rdb, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	tr := newTrade("outage", 4)
	if err := s.AddTrade(ctx, tr); err != nil {
		t.Fatal(err)
	}

	mr.SetError("LOADING redis is down")
	if err := s.ResolveTrade(ctx, tr.ID, model.ResultLoss, d(-4)); err != nil {
		t.Fatalf("a cache outage must not fail the write: %v", err)
	}
	mr.SetError("")

	restarted, err := Open(ctx, NewCachedBackend(primary, rdb, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	got := restarted.Totals()
	if got.Losses != 1 || !got.PnL.Equal(d(-4)) || restarted.UnresolvedCount() != 0 {
		t.Errorf("restart lost the resolution: %+v unresolved=%d", got, restarted.UnresolvedCount())
	}

	cached, err := mr.Get(DefaultSnapshotKey)
	if err != nil {
		t.Fatalf("expected snapshot after restart: %v", err)
	}
	if cached != string(primary.Document()) {
		t.Error("snapshot not refreshed from the primary on load")
	}
}
