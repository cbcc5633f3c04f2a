package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"spinmill/backend/internal/domain"
)

var (
	_ InwardCache = NoopInwardCache{}
	_ InwardCache = (*RedisInwardCache)(nil)
)

func TestNoopCacheAlwaysMisses(t *testing.T) {
	var c NoopInwardCache
	if err := c.SetInwardEntries(context.Background(), []domain.InwardEntry{{ID: "x"}}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, hit, err := c.GetInwardEntries(context.Background()); hit || err != nil {
		t.Fatalf("expected miss, got hit=%v err=%v", hit, err)
	}
}

func TestRedisInwardCacheRoundTripAndInvalidate(t *testing.T) {
	addr := os.Getenv("MILL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set MILL_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	c := NewRedisInwardCache(addr, "", 0)
	t.Cleanup(func() {
		_ = c.Invalidate(ctx)
		_ = c.Close()
	})
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	entries := []domain.InwardEntry{{ID: "inward-1", InwardNo: "IN-0001", BalesQty: 10, AvailableBales: 4}}
	if err := c.SetInwardEntries(ctx, entries, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, hit, err := c.GetInwardEntries(ctx)
	if err != nil || !hit || len(got) != 1 || got[0].AvailableBales != 4 {
		t.Fatalf("unexpected cached entries: %+v hit=%v err=%v", got, hit, err)
	}

	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, hit, _ := c.GetInwardEntries(ctx); hit {
		t.Fatalf("expected miss after invalidate")
	}
}
