package store

import (
	"context"
	"errors"

	"spinmill/backend/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidLot = errors.New("invalid lot")
	ErrDuplicate  = errors.New("already exists")
	ErrConflict   = errors.New("conflict")
)

type Repository interface {
	ListInwardEntries(ctx context.Context) ([]domain.InwardEntry, error)
	GetInwardEntry(ctx context.Context, id string) (*domain.InwardEntry, error)
	CreateInwardEntry(ctx context.Context, entry domain.InwardEntry) (*domain.InwardEntry, error)

	// CreateLot inserts a lot header. It returns ErrNotFound for an unknown
	// inward entry, ErrDuplicate for a taken lot number and ErrInvalidLot when
	// the bales exceed what is still available on the inward entry.
	CreateLot(ctx context.Context, lot domain.Lot) (*domain.Lot, error)
	GetLot(ctx context.Context, lotNo string) (*domain.Lot, error)
	ListLots(ctx context.Context, inwardID string, limit int) ([]domain.Lot, error)
	// DeleteLot removes a lot and its weightments.
	DeleteLot(ctx context.Context, lotNo string) (*domain.Lot, error)
	// ListLotNumbers returns every lot number starting with prefix.
	ListLotNumbers(ctx context.Context, prefix string) ([]string, error)

	// CreateWeightments stores the bale rows of a lot. A lot takes its
	// weightments once; a second call returns ErrConflict.
	CreateWeightments(ctx context.Context, lotNo string, rows []domain.Weightment) ([]domain.Weightment, error)
	ListWeightments(ctx context.Context, lotNo string) ([]domain.Weightment, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, entityType string, limit int) ([]domain.AuditLog, error)
}
