// Package storetest holds the behaviour every store.Repository must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"spinmill/backend/internal/domain"
	"spinmill/backend/internal/store"
)

// Run exercises repo against a database that may already hold data; every
// record it writes carries a unique suffix.
func Run(t *testing.T, repo store.Repository) {
	t.Helper()
	ctx := context.Background()
	stamp := time.Now().UnixNano()

	entry, err := repo.CreateInwardEntry(ctx, domain.InwardEntry{
		InwardNo:   fmt.Sprintf("IN-IT-%d", stamp),
		InwardDate: time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC),
		PurchaseOrder: domain.PurchaseTerms{
			OrderNo: "PO-IT", Supplier: "Integration Ginning", CandyRate: 56000, QuintalRate: 8000,
		},
		BalesQty: 10,
	})
	if err != nil {
		t.Fatalf("create inward: %v", err)
	}
	if entry.AvailableBales != 10 {
		t.Fatalf("expected all bales available, got %+v", entry)
	}
	if _, err := repo.CreateInwardEntry(ctx, domain.InwardEntry{InwardNo: entry.InwardNo, InwardDate: entry.InwardDate, BalesQty: 1}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate inward number, got %v", err)
	}

	prefix := fmt.Sprintf("IT%d/26-27/", stamp)
	lotNo := prefix + "0001"
	lot, err := repo.CreateLot(ctx, domain.Lot{
		InwardID: entry.ID, LotNo: lotNo, BalesQty: 4,
		GrossWeight: 400, TareWeight: 8, NettWeight: 392, QuintalRate: 8000, RatePerKg: 80, InvoiceValue: 31360,
	})
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}
	if lot.ID == "" || lot.LotNo != lotNo {
		t.Fatalf("unexpected lot: %+v", lot)
	}

	if _, err := repo.CreateLot(ctx, domain.Lot{InwardID: entry.ID, LotNo: lotNo, BalesQty: 1, GrossWeight: 10}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate lot number, got %v", err)
	}
	if _, err := repo.CreateLot(ctx, domain.Lot{InwardID: entry.ID, LotNo: prefix + "0002", BalesQty: 7, GrossWeight: 10}); !errors.Is(err, store.ErrInvalidLot) {
		t.Fatalf("expected over-allocation error, got %v", err)
	}
	if _, err := repo.CreateLot(ctx, domain.Lot{InwardID: "inward-missing", LotNo: prefix + "0003", BalesQty: 1, GrossWeight: 10}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected unknown inward error, got %v", err)
	}

	got, err := repo.GetInwardEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get inward: %v", err)
	}
	if got.LotBales != 4 || got.AvailableBales != 6 {
		t.Fatalf("expected 4 allocated and 6 available, got %+v", got)
	}
	if !got.InwardDate.Equal(entry.InwardDate) {
		t.Fatalf("inward date changed on round trip: %s vs %s", got.InwardDate, entry.InwardDate)
	}

	rows := make([]domain.Weightment, 4)
	for i := range rows {
		rows[i] = domain.Weightment{GrossWeight: 100, TareWeight: 2, BaleWeight: 98, BaleValue: 8000}
	}
	saved, err := repo.CreateWeightments(ctx, lotNo, rows)
	if err != nil {
		t.Fatalf("create weightments: %v", err)
	}
	if len(saved) != 4 || saved[3].BaleNo != 4 {
		t.Fatalf("unexpected weightments: %+v", saved)
	}
	if _, err := repo.CreateWeightments(ctx, lotNo, rows); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected second weightment write to conflict, got %v", err)
	}
	if _, err := repo.CreateWeightments(ctx, prefix+"9999", rows); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected unknown lot error, got %v", err)
	}

	full, err := repo.GetLot(ctx, lotNo)
	if err != nil {
		t.Fatalf("get lot: %v", err)
	}
	if len(full.Weightments) != 4 || full.Weightments[0].BaleNo != 1 || full.NettWeight != 392 {
		t.Fatalf("unexpected lot read back: %+v", full)
	}

	lots, err := repo.ListLots(ctx, entry.ID, 10)
	if err != nil || len(lots) != 1 {
		t.Fatalf("list lots: %v, %v", lots, err)
	}
	lotNos, err := repo.ListLotNumbers(ctx, prefix)
	if err != nil || len(lotNos) != 1 || lotNos[0] != lotNo {
		t.Fatalf("list lot numbers: %v, %v", lotNos, err)
	}

	deleted, err := repo.DeleteLot(ctx, lotNo)
	if err != nil {
		t.Fatalf("delete lot: %v", err)
	}
	if len(deleted.Weightments) != 4 {
		t.Fatalf("expected deleted lot to report its weightments, got %+v", deleted)
	}
	if _, err := repo.GetLot(ctx, lotNo); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected lot gone, got %v", err)
	}
	if _, err := repo.DeleteLot(ctx, lotNo); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected second delete not found, got %v", err)
	}
	got, _ = repo.GetInwardEntry(ctx, entry.ID)
	if got.AvailableBales != 10 {
		t.Fatalf("expected bales released after delete, got %+v", got)
	}

	if err := repo.CreateAuditLog(ctx, domain.AuditLog{Action: domain.AuditLotDelete, EntityType: "lot", EntityID: lotNo}); err != nil {
		t.Fatalf("audit: %v", err)
	}
	logs, err := repo.ListAuditLogs(ctx, "lot", 5)
	if err != nil || len(logs) == 0 {
		t.Fatalf("list audit: %v, %v", logs, err)
	}
}
