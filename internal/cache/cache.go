package cache

import (
	"context"
	"time"

	"spinmill/backend/internal/domain"
)

// InwardCache holds the inward entry list, the read the lot wizard repeats
// most. Any lot or inward write must Invalidate it.
type InwardCache interface {
	GetInwardEntries(ctx context.Context) ([]domain.InwardEntry, bool, error)
	SetInwardEntries(ctx context.Context, entries []domain.InwardEntry, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopInwardCache struct{}

func (NoopInwardCache) GetInwardEntries(_ context.Context) ([]domain.InwardEntry, bool, error) {
	return nil, false, nil
}

func (NoopInwardCache) SetInwardEntries(_ context.Context, _ []domain.InwardEntry, _ time.Duration) error {
	return nil
}

func (NoopInwardCache) Invalidate(_ context.Context) error {
	return nil
}
