package memory

import (
	"context"
	"errors"
	"testing"

	"spinmill/backend/internal/domain"
	"spinmill/backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

func TestCreateLotTracksAvailableBales(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	entry, err := s.GetInwardEntry(ctx, "inward-seed-3")
	if err != nil {
		t.Fatalf("get inward: %v", err)
	}
	if entry.AvailableBales != 40 || entry.LotBales != 0 {
		t.Fatalf("unexpected allocation: %+v", entry)
	}

	if _, err := s.CreateLot(ctx, domain.Lot{InwardID: entry.ID, LotNo: "UC/26-27/0001", BalesQty: 30}); err != nil {
		t.Fatalf("create lot: %v", err)
	}
	entry, _ = s.GetInwardEntry(ctx, "inward-seed-3")
	if entry.AvailableBales != 10 || entry.LotBales != 30 {
		t.Fatalf("expected 10 bales left, got %+v", entry)
	}

	_, err = s.CreateLot(ctx, domain.Lot{InwardID: entry.ID, LotNo: "UC/26-27/0002", BalesQty: 11})
	if !errors.Is(err, store.ErrInvalidLot) {
		t.Fatalf("expected over-allocation to be rejected, got %v", err)
	}
}

func TestCreateLotRejectsDuplicateAndUnknownInward(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	if _, err := s.CreateLot(ctx, domain.Lot{InwardID: "inward-seed-1", LotNo: "UC/26-27/0001", BalesQty: 5}); err != nil {
		t.Fatalf("create lot: %v", err)
	}
	if _, err := s.CreateLot(ctx, domain.Lot{InwardID: "inward-seed-2", LotNo: "UC/26-27/0001", BalesQty: 5}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := s.CreateLot(ctx, domain.Lot{InwardID: "missing", LotNo: "UC/26-27/0002", BalesQty: 5}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWeightmentsAreWrittenOnceAndDeletedWithLot(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	if _, err := s.CreateLot(ctx, domain.Lot{InwardID: "inward-seed-1", LotNo: "UC/26-27/0003", BalesQty: 2}); err != nil {
		t.Fatalf("create lot: %v", err)
	}
	rows := []domain.Weightment{{GrossWeight: 170, TareWeight: 2}, {GrossWeight: 171, TareWeight: 2}}
	saved, err := s.CreateWeightments(ctx, "UC/26-27/0003", rows)
	if err != nil {
		t.Fatalf("create weightments: %v", err)
	}
	if saved[1].BaleNo != 2 || saved[1].LotNo != "UC/26-27/0003" || saved[1].ID == "" {
		t.Fatalf("unexpected saved row: %+v", saved[1])
	}
	if _, err := s.CreateWeightments(ctx, "UC/26-27/0003", rows); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected second write to conflict, got %v", err)
	}

	lot, err := s.GetLot(ctx, "UC/26-27/0003")
	if err != nil || len(lot.Weightments) != 2 {
		t.Fatalf("expected lot with weightments, got %+v, %v", lot, err)
	}

	deleted, err := s.DeleteLot(ctx, "UC/26-27/0003")
	if err != nil || len(deleted.Weightments) != 2 {
		t.Fatalf("delete lot: %+v, %v", deleted, err)
	}
	if _, err := s.ListWeightments(ctx, "UC/26-27/0003"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected weightments gone with lot, got %v", err)
	}
	if _, err := s.DeleteLot(ctx, "UC/26-27/0003"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected second delete to be not found, got %v", err)
	}
	entry, _ := s.GetInwardEntry(ctx, "inward-seed-1")
	if entry.AvailableBales != 100 {
		t.Fatalf("expected bales released, got %d", entry.AvailableBales)
	}
}

func TestListLotNumbersFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	for _, no := range []string{"UC/26-27/0002", "UC/25-26/0009", "UC/26-27/0001"} {
		if _, err := s.CreateLot(ctx, domain.Lot{InwardID: "inward-seed-1", LotNo: no, BalesQty: 1}); err != nil {
			t.Fatalf("create lot %s: %v", no, err)
		}
	}
	got, err := s.ListLotNumbers(ctx, "UC/26-27/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0] != "UC/26-27/0001" || got[1] != "UC/26-27/0002" {
		t.Fatalf("unexpected lot numbers: %v", got)
	}
}

func TestAuditLogsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, action := range []string{domain.AuditLotCreate, domain.AuditWeightmentCreate, domain.AuditLotDelete} {
		if err := s.CreateAuditLog(ctx, domain.AuditLog{Action: action, EntityType: "lot"}); err != nil {
			t.Fatalf("audit: %v", err)
		}
	}
	logs, _ := s.ListAuditLogs(ctx, "lot", 2)
	if len(logs) != 2 || logs[0].Action != domain.AuditLotDelete {
		t.Fatalf("unexpected audit order: %+v", logs)
	}
}
