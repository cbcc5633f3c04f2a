package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"spinmill/backend/internal/domain"
	"spinmill/backend/internal/store"
	"spinmill/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	inwardByID       map[string]domain.InwardEntry
	lotsByNo         map[string]domain.Lot
	weightmentsByLot map[string][]domain.Weightment
	auditLogs        []domain.AuditLog
}

func New() *Store {
	return &Store{
		inwardByID:       make(map[string]domain.InwardEntry),
		lotsByNo:         make(map[string]domain.Lot),
		weightmentsByLot: make(map[string][]domain.Weightment),
		auditLogs:        make([]domain.AuditLog, 0, 128),
	}
}

// NewSeeded returns a store with a few inward entries for dev/demo mode.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	day := func(offset int) time.Time {
		d := now.AddDate(0, 0, -offset)
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	}
	seed := []domain.InwardEntry{
		{
			ID: "inward-seed-1", InwardNo: "IN-0001", InwardDate: day(6),
			PurchaseOrder: domain.PurchaseTerms{OrderNo: "PO-0101", Supplier: "Sri Ganesh Ginning", Broker: "K. Ramesh", Variety: "Shankar-6", Station: "Rajkot", CandyRate: 56200, QuintalRate: 8000},
			Godown: "G1", LorryNo: "GJ03AB1234", BillNo: "SGG/221", BalesQty: 100, GSTPercent: 5, GSTAmount: 18250,
		},
		{
			ID: "inward-seed-2", InwardNo: "IN-0002", InwardDate: day(3),
			PurchaseOrder: domain.PurchaseTerms{OrderNo: "PO-0102", Supplier: "Vidarbha Cotton Co", Broker: "Direct", Variety: "MCU-5", Station: "Akola", CandyRate: 58400, QuintalRate: 8350},
			Godown: "G2", LorryNo: "MH30CD5678", BillNo: "VCC/1045", BalesQty: 60, GSTPercent: 5, GSTAmount: 11420,
		},
		{
			ID: "inward-seed-3", InwardNo: "IN-0003", InwardDate: day(1),
			PurchaseOrder: domain.PurchaseTerms{OrderNo: "PO-0103", Supplier: "Adoni Traders", Broker: "S. Prakash", Variety: "DCH-32", Station: "Adoni", CandyRate: 61000, QuintalRate: 8700},
			Godown: "G1", LorryNo: "AP21EF9012", BillNo: "AT/77", BalesQty: 40, GSTPercent: 5, GSTAmount: 7980,
		},
	}
	for i, entry := range seed {
		entry.CreatedAt = now.Add(time.Duration(i) * time.Second)
		s.inwardByID[entry.ID] = entry
	}
	return s
}

func (s *Store) ListInwardEntries(_ context.Context) ([]domain.InwardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InwardEntry, 0, len(s.inwardByID))
	for _, entry := range s.inwardByID {
		result = append(result, s.withAllocation(entry))
	}
	slices.SortFunc(result, func(a, b domain.InwardEntry) int {
		if a.InwardDate.Equal(b.InwardDate) {
			return strings.Compare(b.InwardNo, a.InwardNo)
		}
		if a.InwardDate.After(b.InwardDate) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) GetInwardEntry(_ context.Context, id string) (*domain.InwardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.inwardByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	entry = s.withAllocation(entry)
	return &entry, nil
}

func (s *Store) CreateInwardEntry(_ context.Context, entry domain.InwardEntry) (*domain.InwardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.InwardNo = strings.TrimSpace(entry.InwardNo)
	for _, existing := range s.inwardByID {
		if strings.EqualFold(existing.InwardNo, entry.InwardNo) {
			return nil, fmt.Errorf("%w: inward %s", store.ErrDuplicate, entry.InwardNo)
		}
	}
	if entry.ID == "" {
		entry.ID = xid.New("inward")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.inwardByID[entry.ID] = entry
	saved := s.withAllocation(entry)
	return &saved, nil
}

// withAllocation fills the lot and available bale counts. Callers hold s.mu.
func (s *Store) withAllocation(entry domain.InwardEntry) domain.InwardEntry {
	allocated := 0
	for _, lot := range s.lotsByNo {
		if lot.InwardID == entry.ID {
			allocated += lot.BalesQty
		}
	}
	entry.LotBales = allocated
	entry.AvailableBales = max(entry.BalesQty-allocated, 0)
	return entry
}

func (s *Store) CreateLot(_ context.Context, lot domain.Lot) (*domain.Lot, error) {
	lot.LotNo = strings.TrimSpace(lot.LotNo)
	if lot.LotNo == "" || lot.BalesQty < 1 {
		return nil, store.ErrInvalidLot
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.inwardByID[lot.InwardID]
	if !ok {
		return nil, fmt.Errorf("%w: inward entry %s", store.ErrNotFound, lot.InwardID)
	}
	if _, taken := s.lotsByNo[lot.LotNo]; taken {
		return nil, fmt.Errorf("%w: lot %s", store.ErrDuplicate, lot.LotNo)
	}
	if available := s.withAllocation(entry).AvailableBales; lot.BalesQty > available {
		return nil, fmt.Errorf("%w: %d bales requested, %d available on %s", store.ErrInvalidLot, lot.BalesQty, available, entry.InwardNo)
	}

	if lot.ID == "" {
		lot.ID = xid.New("lot")
	}
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = time.Now().UTC()
	}
	lot.Weightments = nil
	s.lotsByNo[lot.LotNo] = lot
	saved := lot
	return &saved, nil
}

func (s *Store) GetLot(_ context.Context, lotNo string) (*domain.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lot, ok := s.lotsByNo[lotNo]
	if !ok {
		return nil, store.ErrNotFound
	}
	lot.Weightments = slices.Clone(s.weightmentsByLot[lotNo])
	return &lot, nil
}

func (s *Store) ListLots(_ context.Context, inwardID string, limit int) ([]domain.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Lot, 0, 64)
	for _, lot := range s.lotsByNo {
		if inwardID != "" && lot.InwardID != inwardID {
			continue
		}
		result = append(result, lot)
	}
	slices.SortFunc(result, func(a, b domain.Lot) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.LotNo, a.LotNo)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) DeleteLot(_ context.Context, lotNo string) (*domain.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lot, ok := s.lotsByNo[lotNo]
	if !ok {
		return nil, store.ErrNotFound
	}
	lot.Weightments = s.weightmentsByLot[lotNo]
	delete(s.lotsByNo, lotNo)
	delete(s.weightmentsByLot, lotNo)
	return &lot, nil
}

func (s *Store) ListLotNumbers(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, 0, 32)
	for lotNo := range s.lotsByNo {
		if strings.HasPrefix(lotNo, prefix) {
			result = append(result, lotNo)
		}
	}
	slices.Sort(result)
	return result, nil
}

func (s *Store) CreateWeightments(_ context.Context, lotNo string, rows []domain.Weightment) ([]domain.Weightment, error) {
	if len(rows) == 0 {
		return nil, store.ErrInvalidLot
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lotsByNo[lotNo]; !ok {
		return nil, fmt.Errorf("%w: lot %s", store.ErrNotFound, lotNo)
	}
	if len(s.weightmentsByLot[lotNo]) > 0 {
		return nil, fmt.Errorf("%w: lot %s already has weightments", store.ErrConflict, lotNo)
	}

	now := time.Now().UTC()
	saved := make([]domain.Weightment, len(rows))
	for i, row := range rows {
		if row.ID == "" {
			row.ID = xid.New("wgt")
		}
		row.LotNo = lotNo
		row.BaleNo = i + 1
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		saved[i] = row
	}
	s.weightmentsByLot[lotNo] = saved
	return slices.Clone(saved), nil
}

func (s *Store) ListWeightments(_ context.Context, lotNo string) ([]domain.Weightment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.lotsByNo[lotNo]; !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(s.weightmentsByLot[lotNo]), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, entityType string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entityType != "" && entry.EntityType != entityType {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}
