package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spinmill/backend/internal/logging"
	"spinmill/backend/internal/lotwizard"
	"spinmill/backend/internal/store"
)

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDrafts(t *testing.T) (*Drafts, *steppingClock) {
	t.Helper()
	svc, _, _ := newTestService()
	clock := &steppingClock{now: testClock()}
	d := NewDrafts(svc, 10*time.Minute, logging.Discard(), lotwizard.WithClock(clock.Now))
	d.now = clock.Now
	return d, clock
}

func TestDraftsStartAndDiscard(t *testing.T) {
	d, _ := newTestDrafts(t)

	id, snap, err := d.Start(context.Background(), "inward-seed-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap.State != lotwizard.EditLotDetails || snap.Draft == nil || snap.Draft.LotNo != "UC/26-27/0001" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if _, err := d.Get(id); err != nil {
		t.Fatalf("get: %v", err)
	}

	if err := d.Discard(id); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := d.Get(id); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected draft gone, got %v", err)
	}
	if err := d.Discard(id); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected second discard not found, got %v", err)
	}
}

func TestDraftsStartUnknownInwardKeepsNothing(t *testing.T) {
	d, _ := newTestDrafts(t)
	if _, _, err := d.Start(context.Background(), "inward-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if d.Len() != 0 {
		t.Fatalf("expected no drafts kept, got %d", d.Len())
	}
}

func TestDraftsPruneIdle(t *testing.T) {
	d, clock := newTestDrafts(t)
	ctx := context.Background()

	stale, _, err := d.Start(ctx, "inward-seed-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(8 * time.Minute)
	fresh, _, err := d.Start(ctx, "inward-seed-2")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(5 * time.Minute)

	if n := d.PruneIdle(); n != 1 {
		t.Fatalf("expected one draft pruned, got %d", n)
	}
	if _, err := d.Get(stale); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected stale draft pruned, got %v", err)
	}
	w, err := d.Get(fresh)
	if err != nil {
		t.Fatalf("expected fresh draft kept: %v", err)
	}

	// activity keeps a draft alive
	clock.Advance(9 * time.Minute)
	if _, err := w.UpdateDetails(lotwizard.DetailsPatch{}); err != nil {
		t.Fatalf("update: %v", err)
	}
	clock.Advance(9 * time.Minute)
	if n := d.PruneIdle(); n != 0 {
		t.Fatalf("expected touched draft to survive, pruned %d", n)
	}
}
