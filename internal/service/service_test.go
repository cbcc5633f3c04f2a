package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spinmill/backend/internal/domain"
	"spinmill/backend/internal/lock"
	"spinmill/backend/internal/logging"
	"spinmill/backend/internal/lotwizard"
	"spinmill/backend/internal/store"
	"spinmill/backend/internal/store/memory"
	"spinmill/backend/internal/weighment"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Publish(event domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

type recordingCache struct {
	entries       []domain.InwardEntry
	sets          int
	invalidations int
}

func (c *recordingCache) GetInwardEntries(context.Context) ([]domain.InwardEntry, bool, error) {
	if c.entries == nil {
		return nil, false, nil
	}
	return c.entries, true, nil
}

func (c *recordingCache) SetInwardEntries(_ context.Context, entries []domain.InwardEntry, _ time.Duration) error {
	c.sets++
	c.entries = entries
	return nil
}

func (c *recordingCache) Invalidate(context.Context) error {
	c.invalidations++
	c.entries = nil
	return nil
}

func testClock() time.Time {
	return time.Date(2026, time.October, 18, 9, 30, 0, 0, time.UTC)
}

func newTestService() (*Service, *recordingNotifier, *recordingCache) {
	notifier := &recordingNotifier{}
	c := &recordingCache{}
	svc := New(memory.NewSeeded(), Options{
		Cache:    c,
		Notifier: notifier,
		Logger:   logging.Discard(),
		Clock:    testClock,
	})
	return svc, notifier, c
}

func lotRequest(inwardID string, lotNo string) domain.LotCreateRequest {
	return domain.LotCreateRequest{
		InwardID:    inwardID,
		LotNo:       lotNo,
		BalesQty:    5,
		GrossWeight: 500,
		TareWeight:  50,
		CandyRate:   56000,
		QuintalRate: 8000,
	}
}

func evenRows(n int, gross, tare float64) []domain.WeightmentCreateRequest {
	rows := make([]domain.WeightmentCreateRequest, n)
	for i := range rows {
		rows[i] = domain.WeightmentCreateRequest{GrossWeight: gross, TareWeight: tare}
	}
	return rows
}

func TestNextLotNumberFollowsSeasonSequence(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	next, err := svc.NextLotNumber(ctx)
	if err != nil || next != "UC/26-27/0001" {
		t.Fatalf("expected first lot of the season, got %q, %v", next, err)
	}

	for _, no := range []string{"UC/26-27/0005", "UC/25-26/0042", "UC/26-27/manual"} {
		req := lotRequest("inward-seed-1", no)
		req.BalesQty = 1
		req.GrossWeight, req.TareWeight = 170, 2
		if _, err := svc.CreateLot(ctx, req); err != nil {
			t.Fatalf("create %s: %v", no, err)
		}
	}
	next, _ = svc.NextLotNumber(ctx)
	if next != "UC/26-27/0006" {
		t.Fatalf("expected 0006 after 0005, got %s", next)
	}
}

func TestNextLotNumberUsesConfiguredSeason(t *testing.T) {
	svc := New(memory.NewSeeded(), Options{
		Logger:           logging.Discard(),
		Clock:            func() time.Time { return time.Date(2027, time.March, 2, 0, 0, 0, 0, time.UTC) },
		LotPrefix:        "KP",
		SeasonStartMonth: time.April,
	})
	next, err := svc.NextLotNumber(context.Background())
	if err != nil || next != "KP/26-27/0001" {
		t.Fatalf("expected KP/26-27/0001, got %q, %v", next, err)
	}
}

func TestCreateLotAssignsNumberAndRecomputesTotals(t *testing.T) {
	svc, notifier, c := newTestService()
	ctx := context.Background()

	req := lotRequest("inward-seed-1", "")
	req.NettWeight, req.RatePerKg, req.InvoiceValue = 1, 2, 3
	lot, err := svc.CreateLot(ctx, req)
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}
	if lot.LotNo != "UC/26-27/0001" {
		t.Fatalf("expected assigned lot number, got %s", lot.LotNo)
	}
	if lot.NettWeight != 450 || lot.RatePerKg != 80 || lot.InvoiceValue != 36000 {
		t.Fatalf("expected server-side totals, got %+v", lot)
	}
	if c.invalidations != 1 {
		t.Fatalf("expected inward cache invalidation, got %d", c.invalidations)
	}
	if types := notifier.types(); len(types) != 1 || types[0] != domain.EventLotCreated {
		t.Fatalf("expected lot_created event, got %v", types)
	}

	logs, _ := svc.ListAuditLogs(ctx, "lot", 10)
	if len(logs) != 1 || logs[0].Action != domain.AuditLotCreate || logs[0].EntityID != lot.LotNo {
		t.Fatalf("expected lot audit entry, got %+v", logs)
	}

	entry, _ := svc.GetInwardEntry(ctx, "inward-seed-1")
	if entry.AvailableBales != 95 {
		t.Fatalf("expected 95 bales left, got %d", entry.AvailableBales)
	}
}

func TestCreateLotValidation(t *testing.T) {
	svc, _, _ := newTestService()

	req := lotRequest("", "UC/26-27/0001")
	req.GrossWeight, req.TareWeight = 40, 50
	_, err := svc.CreateLot(context.Background(), req)

	var ve *ValidationError
	if !errors.As(err, &ve) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ve.Fields["inwardId"] != "required" || ve.Fields["grossWeight"] != "gtfield" {
		t.Fatalf("unexpected fields: %v", ve.Fields)
	}
}

func TestCreateLotRejectsOverflowingNumbers(t *testing.T) {
	svc, notifier, _ := newTestService()

	req := lotRequest("inward-seed-1", "UC/26-27/0001")
	req.GrossWeight, req.TareWeight, req.QuintalRate = 1e308, 1, 1e308
	_, err := svc.CreateLot(context.Background(), req)

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ve.Fields["grossWeight"] != "lte" || ve.Fields["quintalRate"] != "lte" {
		t.Fatalf("unexpected fields: %v", ve.Fields)
	}
	if len(notifier.types()) != 0 {
		t.Fatalf("expected nothing published, got %v", notifier.types())
	}

	req = lotRequest("inward-seed-1", "UC/26-27/0001")
	req.GrossWeight, req.TareWeight, req.QuintalRate = weighment.MaxWeight, 0, weighment.MaxRate
	req.BalesQty = 1
	lot, err := svc.CreateLot(context.Background(), req)
	if err != nil {
		t.Fatalf("expected the largest accepted lot to be stored, got %v", err)
	}
	if lot.InvoiceValue != 1e11 {
		t.Fatalf("unexpected invoice value %v", lot.InvoiceValue)
	}
}

// lockCheckingNotifier tries to take the inward lock while an event is
// published, recording whether it was free.
type lockCheckingNotifier struct {
	locker lock.Locker
	mu     sync.Mutex
	errs   []error
}

func (n *lockCheckingNotifier) Publish(event domain.Event) {
	if event.InwardID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	release, err := n.locker.Lock(ctx, "inward:"+event.InwardID)
	if err == nil {
		release()
	}
	n.mu.Lock()
	n.errs = append(n.errs, err)
	n.mu.Unlock()
}

func TestCreateLotPublishesAfterReleasingInwardLock(t *testing.T) {
	locker := lock.NewLocal()
	notifier := &lockCheckingNotifier{locker: locker}
	svc := New(memory.NewSeeded(), Options{
		Locker:   locker,
		Notifier: notifier,
		Logger:   logging.Discard(),
		Clock:    testClock,
	})

	if _, err := svc.CreateLot(context.Background(), lotRequest("inward-seed-1", "")); err != nil {
		t.Fatalf("create: %v", err)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.errs) != 1 || notifier.errs[0] != nil {
		t.Fatalf("expected the inward lock to be free while publishing, got %v", notifier.errs)
	}
}

func TestCreateLotRejectsDuplicateAndOverAllocation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateLot(ctx, lotRequest("inward-seed-3", "UC/26-27/0001")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateLot(ctx, lotRequest("inward-seed-3", "UC/26-27/0001")); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	req := lotRequest("inward-seed-3", "UC/26-27/0002")
	req.BalesQty = 36
	if _, err := svc.CreateLot(ctx, req); !errors.Is(err, store.ErrInvalidLot) {
		t.Fatalf("expected over-allocation error, got %v", err)
	}
}

func TestConcurrentLotsNeverOverAllocate(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CreateLot(ctx, lotRequest("inward-seed-3", "")); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 8 {
		t.Fatalf("expected 8 lots of 5 bales from 40, got %d", created)
	}
	entry, _ := svc.GetInwardEntry(ctx, "inward-seed-3")
	if entry.AvailableBales != 0 {
		t.Fatalf("expected all bales allocated, got %d", entry.AvailableBales)
	}
}

func TestCreateWeightmentsEnforcesCountAndReconciliation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	lot, err := svc.CreateLot(ctx, lotRequest("inward-seed-1", ""))
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}

	_, err = svc.CreateWeightments(ctx, lot.LotNo, evenRows(4, 125, 12.5))
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Fields["weightments"] != "len=5" {
		t.Fatalf("expected row count error, got %v", err)
	}

	rows := evenRows(5, 100, 10)
	rows[2].GrossWeight = 105
	var mismatch *weighment.MismatchError
	if _, err := svc.CreateWeightments(ctx, lot.LotNo, rows); !errors.As(err, &mismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	rows[4].GrossWeight = 95
	saved, err := svc.CreateWeightments(ctx, lot.LotNo, rows)
	if err != nil {
		t.Fatalf("create weightments: %v", err)
	}
	if saved[2].BaleWeight != 95 || saved[2].BaleValue != 8400 || saved[4].BaleNo != 5 {
		t.Fatalf("unexpected rows: %+v", saved)
	}

	if _, err := svc.CreateWeightments(ctx, lot.LotNo, rows); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected second post to conflict, got %v", err)
	}
}

func TestCreateWeightmentsValidatesRows(t *testing.T) {
	svc, _, _ := newTestService()
	rows := evenRows(5, 100, 10)
	rows[1].TareWeight = 120

	_, err := svc.CreateWeightments(context.Background(), "UC/26-27/0001", rows)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Fields["weightments[1].tareWeight"] != "ltfield" {
		t.Fatalf("expected row validation error, got %v", err)
	}
}

func TestDeleteLotReleasesBales(t *testing.T) {
	svc, notifier, _ := newTestService()
	ctx := context.Background()

	lot, _ := svc.CreateLot(ctx, lotRequest("inward-seed-2", ""))
	if err := svc.DeleteLot(ctx, lot.LotNo); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteLot(ctx, lot.LotNo); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	entry, _ := svc.GetInwardEntry(ctx, "inward-seed-2")
	if entry.AvailableBales != 60 {
		t.Fatalf("expected bales released, got %d", entry.AvailableBales)
	}
	types := notifier.types()
	if len(types) != 2 || types[1] != domain.EventLotDeleted {
		t.Fatalf("expected lot_deleted event, got %v", types)
	}
}

func TestListInwardEntriesUsesCache(t *testing.T) {
	svc, _, c := newTestService()
	ctx := context.Background()

	first, err := svc.ListInwardEntries(ctx)
	if err != nil || len(first) != 3 {
		t.Fatalf("list: %v, %v", first, err)
	}
	if first[0].InwardNo != "IN-0003" {
		t.Fatalf("expected newest inward first, got %s", first[0].InwardNo)
	}
	if c.sets != 1 {
		t.Fatalf("expected cache fill, got %d sets", c.sets)
	}

	if _, err := svc.ListInwardEntries(ctx); err != nil || c.sets != 1 {
		t.Fatalf("expected cache hit on second read, got sets=%d err=%v", c.sets, err)
	}
}

func TestCreateInwardEntry(t *testing.T) {
	svc, notifier, c := newTestService()
	ctx := context.Background()

	entry, err := svc.CreateInwardEntry(ctx, domain.InwardEntryCreateRequest{
		InwardNo:      " IN-0004 ",
		InwardDate:    "2026-10-17",
		PurchaseOrder: domain.PurchaseTerms{OrderNo: "PO-0104", Supplier: "Guntur Agro", QuintalRate: 8100},
		LorryNo:       "ap16xy4321",
		BalesQty:      25,
	})
	if err != nil {
		t.Fatalf("create inward: %v", err)
	}
	if entry.InwardNo != "IN-0004" || entry.LorryNo != "AP16XY4321" || entry.AvailableBales != 25 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if c.invalidations != 1 || notifier.types()[0] != domain.EventInwardEntriesChanged {
		t.Fatalf("expected cache invalidation and event")
	}

	_, err = svc.CreateInwardEntry(ctx, domain.InwardEntryCreateRequest{InwardNo: "IN-0005", InwardDate: "17/10/2026", BalesQty: 0})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Fields["inwardDate"] != "datetime" || ve.Fields["balesQty"] != "gt" {
		t.Fatalf("expected validation errors, got %v", err)
	}
}

type failingWeightments struct {
	*Service
	err error
}

func (f failingWeightments) CreateWeightments(context.Context, string, []domain.WeightmentCreateRequest) ([]domain.Weightment, error) {
	return nil, f.err
}

func TestWizardCompensatesThroughService(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	gateway := failingWeightments{Service: svc, err: errors.New("weighbridge export rejected")}

	w := lotwizard.New(gateway, lotwizard.WithLogger(logging.Discard()), lotwizard.WithClock(testClock))
	if err := w.SelectSource(ctx, "inward-seed-2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	bales, gross, tare := 5, 500.0, 50.0
	if _, err := w.UpdateDetails(lotwizard.DetailsPatch{BalesQty: &bales, GrossWeight: &gross, TareWeight: &tare}); err != nil {
		t.Fatalf("details: %v", err)
	}
	if err := w.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := w.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}

	if _, err := w.Submit(ctx); !errors.Is(err, gateway.err) {
		t.Fatalf("expected weightment error, got %v", err)
	}
	lots, _ := svc.ListLots(ctx, "inward-seed-2", 10)
	if len(lots) != 0 {
		t.Fatalf("expected compensating delete to remove the header, got %+v", lots)
	}
	logs, _ := svc.ListAuditLogs(ctx, "lot", 10)
	if len(logs) != 2 || logs[0].Action != domain.AuditLotDelete {
		t.Fatalf("expected create then delete in audit trail, got %+v", logs)
	}
}
