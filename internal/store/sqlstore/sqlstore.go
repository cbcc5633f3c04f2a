// Package sqlstore implements store.Repository on database/sql. The postgres
// and sqlite packages provide the driver, the schema and the error mapping.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"spinmill/backend/internal/domain"
	"spinmill/backend/internal/store"
	"spinmill/backend/internal/xid"
)

type Dialect struct {
	Name string
	// NumberedPlaceholders rewrites ? to $1, $2, ...
	NumberedPlaceholders bool
	// Isolation is used for the check-then-insert transactions.
	Isolation         sql.IsolationLevel
	Schema            []string
	IsUniqueViolation func(error) bool
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New applies the dialect's schema and returns the store. The store owns db.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("%s migrate: %w", dialect.Name, err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for integration test cleanup.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) rebind(query string) string {
	if !s.dialect.NumberedPlaceholders {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) isUniqueViolation(err error) bool {
	return s.dialect.IsUniqueViolation != nil && s.dialect.IsUniqueViolation(err)
}

type scanner interface {
	Scan(dest ...any) error
}

const inwardColumns = `
	i.id, i.inward_no, i.inward_date, i.order_no, i.supplier, i.broker, i.variety, i.station,
	i.candy_rate, i.quintal_rate, i.godown, i.lorry_no, i.bill_no, i.bales_qty,
	i.gst_percent, i.gst_amount, i.created_at,
	(SELECT COALESCE(SUM(l.bales_qty), 0) FROM lots l WHERE l.inward_id = i.id)`

func scanInward(row scanner) (domain.InwardEntry, error) {
	var e domain.InwardEntry
	po := &e.PurchaseOrder
	err := row.Scan(
		&e.ID, &e.InwardNo, &e.InwardDate, &po.OrderNo, &po.Supplier, &po.Broker, &po.Variety, &po.Station,
		&po.CandyRate, &po.QuintalRate, &e.Godown, &e.LorryNo, &e.BillNo, &e.BalesQty,
		&e.GSTPercent, &e.GSTAmount, &e.CreatedAt, &e.LotBales,
	)
	if err != nil {
		return e, err
	}
	e.InwardDate = e.InwardDate.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.AvailableBales = max(e.BalesQty-e.LotBales, 0)
	return e, nil
}

func (s *Store) ListInwardEntries(ctx context.Context) ([]domain.InwardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+inwardColumns+`
		FROM inward_entries i
		ORDER BY i.inward_date DESC, i.inward_no DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.InwardEntry, 0, 64)
	for rows.Next() {
		entry, err := scanInward(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetInwardEntry(ctx context.Context, id string) (*domain.InwardEntry, error) {
	entry, err := scanInward(s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+inwardColumns+`
		FROM inward_entries i
		WHERE i.id = ?
	`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Store) CreateInwardEntry(ctx context.Context, entry domain.InwardEntry) (*domain.InwardEntry, error) {
	if entry.ID == "" {
		entry.ID = xid.New("inward")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	po := entry.PurchaseOrder
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO inward_entries (
			id, inward_no, inward_date, order_no, supplier, broker, variety, station,
			candy_rate, quintal_rate, godown, lorry_no, bill_no, bales_qty,
			gst_percent, gst_amount, created_at
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`), entry.ID, entry.InwardNo, entry.InwardDate, po.OrderNo, po.Supplier, po.Broker, po.Variety, po.Station,
		po.CandyRate, po.QuintalRate, entry.Godown, entry.LorryNo, entry.BillNo, entry.BalesQty,
		entry.GSTPercent, entry.GSTAmount, entry.CreatedAt)
	if err != nil {
		if s.isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: inward %s", store.ErrDuplicate, entry.InwardNo)
		}
		return nil, err
	}
	entry.LotBales = 0
	entry.AvailableBales = entry.BalesQty
	return &entry, nil
}

const lotColumns = `
	id, inward_id, lot_no, set_no, bales_qty, cess_paid_amount, gross_weight, tare_weight,
	nett_weight, candy_rate, quintal_rate, rate_per_kg, invoice_value, remarks, created_at`

func scanLot(row scanner) (domain.Lot, error) {
	var l domain.Lot
	err := row.Scan(
		&l.ID, &l.InwardID, &l.LotNo, &l.SetNo, &l.BalesQty, &l.CessPaidAmount, &l.GrossWeight, &l.TareWeight,
		&l.NettWeight, &l.CandyRate, &l.QuintalRate, &l.RatePerKg, &l.InvoiceValue, &l.Remarks, &l.CreatedAt,
	)
	l.CreatedAt = l.CreatedAt.UTC()
	return l, err
}

func (s *Store) CreateLot(ctx context.Context, lot domain.Lot) (*domain.Lot, error) {
	lot.LotNo = strings.TrimSpace(lot.LotNo)
	if lot.LotNo == "" || lot.BalesQty < 1 {
		return nil, store.ErrInvalidLot
	}
	if lot.ID == "" {
		lot.ID = xid.New("lot")
	}
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.dialect.Isolation})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var inwardNo string
	var balesQty, allocated int
	err = tx.QueryRowContext(ctx, s.rebind(`
		SELECT inward_no, bales_qty,
			(SELECT COALESCE(SUM(bales_qty), 0) FROM lots WHERE inward_id = ?)
		FROM inward_entries
		WHERE id = ?
	`), lot.InwardID, lot.InwardID).Scan(&inwardNo, &balesQty, &allocated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: inward entry %s", store.ErrNotFound, lot.InwardID)
		}
		return nil, err
	}
	if available := balesQty - allocated; lot.BalesQty > available {
		return nil, fmt.Errorf("%w: %d bales requested, %d available on %s", store.ErrInvalidLot, lot.BalesQty, max(available, 0), inwardNo)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO lots (`+lotColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`), lot.ID, lot.InwardID, lot.LotNo, lot.SetNo, lot.BalesQty, lot.CessPaidAmount, lot.GrossWeight, lot.TareWeight,
		lot.NettWeight, lot.CandyRate, lot.QuintalRate, lot.RatePerKg, lot.InvoiceValue, lot.Remarks, lot.CreatedAt)
	if err != nil {
		if s.isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: lot %s", store.ErrDuplicate, lot.LotNo)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	lot.Weightments = nil
	return &lot, nil
}

func (s *Store) GetLot(ctx context.Context, lotNo string) (*domain.Lot, error) {
	lot, err := scanLot(s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+lotColumns+`
		FROM lots
		WHERE lot_no = ?
	`), lotNo))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	weightments, err := s.listWeightments(ctx, s.db, lot.ID)
	if err != nil {
		return nil, err
	}
	lot.Weightments = weightments
	return &lot, nil
}

func (s *Store) ListLots(ctx context.Context, inwardID string, limit int) ([]domain.Lot, error) {
	if limit < 1 {
		limit = 100
	}

	query := `SELECT ` + lotColumns + ` FROM lots`
	args := make([]any, 0, 2)
	if inwardID != "" {
		query += ` WHERE inward_id = ?`
		args = append(args, inwardID)
	}
	query += ` ORDER BY created_at DESC, lot_no DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots := make([]domain.Lot, 0, limit)
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lots, nil
}

func (s *Store) DeleteLot(ctx context.Context, lotNo string) (*domain.Lot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.dialect.Isolation})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	lot, err := scanLot(tx.QueryRowContext(ctx, s.rebind(`
		SELECT `+lotColumns+`
		FROM lots
		WHERE lot_no = ?
	`), lotNo))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	weightments, err := s.listWeightments(ctx, tx, lot.ID)
	if err != nil {
		return nil, err
	}
	lot.Weightments = weightments

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM weightments WHERE lot_id = ?`), lot.ID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM lots WHERE id = ?`), lot.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &lot, nil
}

func (s *Store) ListLotNumbers(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT lot_no
		FROM lots
		WHERE lot_no LIKE ? ESCAPE '\'
		ORDER BY lot_no
	`), escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lotNos := make([]string, 0, 32)
	for rows.Next() {
		var lotNo string
		if err := rows.Scan(&lotNo); err != nil {
			return nil, err
		}
		lotNos = append(lotNos, lotNo)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lotNos, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *Store) CreateWeightments(ctx context.Context, lotNo string, rows []domain.Weightment) ([]domain.Weightment, error) {
	if len(rows) == 0 {
		return nil, store.ErrInvalidLot
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.dialect.Isolation})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var lotID string
	var existing int
	err = tx.QueryRowContext(ctx, s.rebind(`
		SELECT l.id, (SELECT COUNT(*) FROM weightments w WHERE w.lot_id = l.id)
		FROM lots l
		WHERE l.lot_no = ?
	`), lotNo).Scan(&lotID, &existing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: lot %s", store.ErrNotFound, lotNo)
		}
		return nil, err
	}
	if existing > 0 {
		return nil, fmt.Errorf("%w: lot %s already has weightments", store.ErrConflict, lotNo)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO weightments (
			id, lot_id, lot_no, bale_no, gross_weight, tare_weight, bale_weight, bale_value, created_at
		)
		VALUES (?,?,?,?,?,?,?,?,?)
	`))
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

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
		if _, err := stmt.ExecContext(ctx, row.ID, lotID, row.LotNo, row.BaleNo, row.GrossWeight, row.TareWeight, row.BaleWeight, row.BaleValue, row.CreatedAt); err != nil {
			if s.isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: lot %s bale %d", store.ErrConflict, lotNo, row.BaleNo)
			}
			return nil, err
		}
		saved[i] = row
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Store) ListWeightments(ctx context.Context, lotNo string) ([]domain.Weightment, error) {
	var lotID string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id FROM lots WHERE lot_no = ?`), lotNo).Scan(&lotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s.listWeightments(ctx, s.db, lotID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) listWeightments(ctx context.Context, q querier, lotID string) ([]domain.Weightment, error) {
	rows, err := q.QueryContext(ctx, s.rebind(`
		SELECT id, lot_no, bale_no, gross_weight, tare_weight, bale_weight, bale_value, created_at
		FROM weightments
		WHERE lot_id = ?
		ORDER BY bale_no
	`), lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Weightment, 0, 64)
	for rows.Next() {
		var w domain.Weightment
		if err := rows.Scan(&w.ID, &w.LotNo, &w.BaleNo, &w.GrossWeight, &w.TareWeight, &w.BaleWeight, &w.BaleValue, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.CreatedAt = w.CreatedAt.UTC()
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO audit_logs (id, action, entity_type, entity_id, detail, created_at)
		VALUES (?,?,?,?,?,?)
	`), entry.ID, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, entityType string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	query := `SELECT id, action, entity_type, entity_id, detail, created_at FROM audit_logs`
	args := make([]any, 0, 2)
	if entityType != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
