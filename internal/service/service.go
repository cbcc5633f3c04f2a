package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"spinmill/backend/internal/cache"
	"spinmill/backend/internal/domain"
	"spinmill/backend/internal/lock"
	"spinmill/backend/internal/lotwizard"
	"spinmill/backend/internal/store"
	"spinmill/backend/internal/weighment"
	"spinmill/backend/internal/xid"
)

const (
	defaultInwardCacheTTL = 30 * time.Second
	// attempts for a server-assigned lot number that races another writer
	lotNumberAttempts = 3
)

// Notifier receives change events for connected clients.
type Notifier interface {
	Publish(event domain.Event)
}

type noopNotifier struct{}

func (noopNotifier) Publish(domain.Event) {}

type Options struct {
	Cache            cache.InwardCache
	Locker           lock.Locker
	Notifier         Notifier
	Logger           logrus.FieldLogger
	LotPrefix        string
	SeasonStartMonth time.Month
	InwardCacheTTL   time.Duration
	Clock            func() time.Time
}

// Service owns the lot and inward entry rules. It also satisfies
// lotwizard.Gateway so server-hosted drafts submit in-process.
type Service struct {
	repo             store.Repository
	cache            cache.InwardCache
	locker           lock.Locker
	notifier         Notifier
	logger           logrus.FieldLogger
	validate         *requestValidator
	lotPrefix        string
	seasonStartMonth time.Month
	inwardCacheTTL   time.Duration
	now              func() time.Time
}

var _ lotwizard.Gateway = (*Service)(nil)

func New(repo store.Repository, opts Options) *Service {
	s := &Service{
		repo:             repo,
		cache:            opts.Cache,
		locker:           opts.Locker,
		notifier:         opts.Notifier,
		logger:           opts.Logger,
		validate:         newRequestValidator(),
		lotPrefix:        strings.TrimSpace(opts.LotPrefix),
		seasonStartMonth: opts.SeasonStartMonth,
		inwardCacheTTL:   opts.InwardCacheTTL,
		now:              opts.Clock,
	}
	if s.cache == nil {
		s.cache = cache.NoopInwardCache{}
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.lotPrefix == "" {
		s.lotPrefix = lotwizard.DefaultLotPrefix
	}
	if s.seasonStartMonth < time.January || s.seasonStartMonth > time.December {
		s.seasonStartMonth = time.January
	}
	if s.inwardCacheTTL <= 0 {
		s.inwardCacheTTL = defaultInwardCacheTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) ListInwardEntries(ctx context.Context) ([]domain.InwardEntry, error) {
	cached, hit, err := s.cache.GetInwardEntries(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("inward cache read failed")
	} else if hit {
		return cached, nil
	}

	entries, err := s.repo.ListInwardEntries(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetInwardEntries(ctx, entries, s.inwardCacheTTL); err != nil {
		s.logger.WithError(err).Warn("inward cache write failed")
	}
	return entries, nil
}

func (s *Service) GetInwardEntry(ctx context.Context, id string) (domain.InwardEntry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.InwardEntry{}, store.ErrNotFound
	}
	entry, err := s.repo.GetInwardEntry(ctx, id)
	if err != nil {
		return domain.InwardEntry{}, err
	}
	return *entry, nil
}

func (s *Service) CreateInwardEntry(ctx context.Context, req domain.InwardEntryCreateRequest) (domain.InwardEntry, error) {
	req.InwardNo = strings.TrimSpace(req.InwardNo)
	if err := s.validate.Struct(req); err != nil {
		return domain.InwardEntry{}, err
	}
	inwardDate, err := time.Parse(time.DateOnly, req.InwardDate)
	if err != nil {
		return domain.InwardEntry{}, newValidationError("inwardDate", "datetime")
	}

	created, err := s.repo.CreateInwardEntry(ctx, domain.InwardEntry{
		InwardNo:      req.InwardNo,
		InwardDate:    inwardDate,
		PurchaseOrder: trimTerms(req.PurchaseOrder),
		Godown:        strings.TrimSpace(req.Godown),
		LorryNo:       strings.ToUpper(strings.TrimSpace(req.LorryNo)),
		BillNo:        strings.TrimSpace(req.BillNo),
		BalesQty:      req.BalesQty,
		GSTPercent:    req.GSTPercent,
		GSTAmount:     req.GSTAmount,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		return domain.InwardEntry{}, err
	}

	s.inwardChanged(ctx)
	s.logAudit(ctx, domain.AuditInwardCreate, "inward_entry", created.ID, fmt.Sprintf("inward_no=%s,bales=%d", created.InwardNo, created.BalesQty))
	s.notifier.Publish(domain.Event{Type: domain.EventInwardEntriesChanged, InwardID: created.ID, At: s.now().UTC()})
	return *created, nil
}

// NextLotNumber peeks at the next free number of the current season. It
// does not reserve it; CreateLot rejects a number taken in the meantime.
func (s *Service) NextLotNumber(ctx context.Context) (string, error) {
	season := lotwizard.SeasonCode(s.now(), s.seasonStartMonth)
	lotNos, err := s.repo.ListLotNumbers(ctx, lotwizard.SeasonPrefix(s.lotPrefix, season))
	if err != nil {
		return "", err
	}
	highest := 0
	for _, lotNo := range lotNos {
		if seq, ok := lotwizard.ParseLotSequence(lotNo, s.lotPrefix, season); ok && seq > highest {
			highest = seq
		}
	}
	return lotwizard.FormatLotNo(s.lotPrefix, season, highest+1), nil
}

// CreateLot stores a lot header. Derived values are recomputed from the
// weights and rates; a blank lot number is assigned here. The returned lot
// carries the canonical lot number.
func (s *Service) CreateLot(ctx context.Context, req domain.LotCreateRequest) (domain.Lot, error) {
	req.InwardID = strings.TrimSpace(req.InwardID)
	req.LotNo = strings.TrimSpace(req.LotNo)
	if err := s.validate.Struct(req); err != nil {
		return domain.Lot{}, err
	}

	release, err := s.locker.Lock(ctx, "inward:"+req.InwardID)
	if err != nil {
		return domain.Lot{}, err
	}
	// Released as soon as the lot is stored; the side effects below run
	// without it.
	defer release()

	totals := weighment.ComputeLotTotals(req.GrossWeight, req.TareWeight, req.QuintalRate).Rounded()
	lot := domain.Lot{
		InwardID:       req.InwardID,
		LotNo:          req.LotNo,
		SetNo:          strings.TrimSpace(req.SetNo),
		BalesQty:       req.BalesQty,
		CessPaidAmount: req.CessPaidAmount,
		GrossWeight:    req.GrossWeight,
		TareWeight:     req.TareWeight,
		NettWeight:     totals.NettWeight,
		CandyRate:      req.CandyRate,
		QuintalRate:    req.QuintalRate,
		RatePerKg:      totals.RatePerKg,
		InvoiceValue:   totals.InvoiceValue,
		Remarks:        strings.TrimSpace(req.Remarks),
	}

	assign := lot.LotNo == ""
	var created *domain.Lot
	for attempt := 1; ; attempt++ {
		if assign {
			if lot.LotNo, err = s.NextLotNumber(ctx); err != nil {
				return domain.Lot{}, err
			}
		}
		lot.ID = xid.New("lot")
		lot.CreatedAt = s.now().UTC()
		created, err = s.repo.CreateLot(ctx, lot)
		if err == nil {
			break
		}
		if !assign || !errors.Is(err, store.ErrDuplicate) || attempt == lotNumberAttempts {
			return domain.Lot{}, err
		}
	}
	release()

	s.inwardChanged(ctx)
	s.logAudit(ctx, domain.AuditLotCreate, "lot", created.LotNo, fmt.Sprintf("inward_id=%s,bales=%d,nett=%.2f", created.InwardID, created.BalesQty, created.NettWeight))
	s.notifier.Publish(domain.Event{Type: domain.EventLotCreated, InwardID: created.InwardID, LotNo: created.LotNo, At: s.now().UTC()})
	s.logger.WithFields(logrus.Fields{"lot_no": created.LotNo, "inward_id": created.InwardID}).Info("lot created")
	return *created, nil
}

func (s *Service) GetLot(ctx context.Context, lotNo string) (domain.Lot, error) {
	lot, err := s.repo.GetLot(ctx, strings.TrimSpace(lotNo))
	if err != nil {
		return domain.Lot{}, err
	}
	return *lot, nil
}

func (s *Service) ListLots(ctx context.Context, inwardID string, limit int) ([]domain.Lot, error) {
	return s.repo.ListLots(ctx, strings.TrimSpace(inwardID), limit)
}

// DeleteLot removes a lot with its weightments. It is also the compensation
// for a lot whose weightments were rejected.
func (s *Service) DeleteLot(ctx context.Context, lotNo string) error {
	deleted, err := s.repo.DeleteLot(ctx, strings.TrimSpace(lotNo))
	if err != nil {
		return err
	}

	s.inwardChanged(ctx)
	s.logAudit(ctx, domain.AuditLotDelete, "lot", deleted.LotNo, fmt.Sprintf("inward_id=%s,bales=%d,weightments=%d", deleted.InwardID, deleted.BalesQty, len(deleted.Weightments)))
	s.notifier.Publish(domain.Event{Type: domain.EventLotDeleted, InwardID: deleted.InwardID, LotNo: deleted.LotNo, At: s.now().UTC()})
	s.logger.WithField("lot_no", deleted.LotNo).Info("lot deleted")
	return nil
}

// CreateWeightments stores one row per bale. The rows must cover every bale
// of the lot and reconcile with the lot's gross and tare weights.
func (s *Service) CreateWeightments(ctx context.Context, lotNo string, reqs []domain.WeightmentCreateRequest) ([]domain.Weightment, error) {
	lotNo = strings.TrimSpace(lotNo)
	for i, req := range reqs {
		if err := s.validate.Struct(req); err != nil {
			return nil, prefixFields(err, fmt.Sprintf("weightments[%d].", i))
		}
	}

	lot, err := s.repo.GetLot(ctx, lotNo)
	if err != nil {
		return nil, err
	}
	if len(reqs) != lot.BalesQty {
		return nil, newValidationError("weightments", fmt.Sprintf("len=%d", lot.BalesQty))
	}

	rows := make([]weighment.Row, len(reqs))
	for i, req := range reqs {
		rows[i] = weighment.RecomputeRow(weighment.Row{
			BaleNo:      i + 1,
			GrossWeight: req.GrossWeight,
			TareWeight:  req.TareWeight,
		}, lot.RatePerKg)
	}
	if err := weighment.CheckReconciliation(rows, lot.GrossWeight, lot.TareWeight); err != nil {
		return nil, err
	}

	weightments := make([]domain.Weightment, len(rows))
	for i, row := range rows {
		weightments[i] = domain.Weightment{
			GrossWeight: row.GrossWeight,
			TareWeight:  row.TareWeight,
			BaleWeight:  row.BaleWeight,
			BaleValue:   row.BaleValue,
			CreatedAt:   s.now().UTC(),
		}
	}
	saved, err := s.repo.CreateWeightments(ctx, lot.LotNo, weightments)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, domain.AuditWeightmentCreate, "lot", lot.LotNo, fmt.Sprintf("bales=%d", len(saved)))
	return saved, nil
}

func (s *Service) ListWeightments(ctx context.Context, lotNo string) ([]domain.Weightment, error) {
	return s.repo.ListWeightments(ctx, strings.TrimSpace(lotNo))
}

func (s *Service) ListAuditLogs(ctx context.Context, entityType string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, strings.TrimSpace(entityType), limit)
}

func (s *Service) inwardChanged(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WithError(err).Warn("inward cache invalidation failed")
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now().UTC(),
	}); err != nil {
		s.logger.WithFields(logrus.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).WithError(err).Warn("failed to write audit log")
	}
}

func trimTerms(t domain.PurchaseTerms) domain.PurchaseTerms {
	t.OrderNo = strings.TrimSpace(t.OrderNo)
	t.Supplier = strings.TrimSpace(t.Supplier)
	t.Broker = strings.TrimSpace(t.Broker)
	t.Variety = strings.TrimSpace(t.Variety)
	t.Station = strings.TrimSpace(t.Station)
	return t
}
