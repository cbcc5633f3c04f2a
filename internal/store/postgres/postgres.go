package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"spinmill/backend/internal/store/sqlstore"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS inward_entries (
		id TEXT PRIMARY KEY,
		inward_no TEXT NOT NULL UNIQUE,
		inward_date DATE NOT NULL,
		order_no TEXT NOT NULL DEFAULT '',
		supplier TEXT NOT NULL DEFAULT '',
		broker TEXT NOT NULL DEFAULT '',
		variety TEXT NOT NULL DEFAULT '',
		station TEXT NOT NULL DEFAULT '',
		candy_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		quintal_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		godown TEXT NOT NULL DEFAULT '',
		lorry_no TEXT NOT NULL DEFAULT '',
		bill_no TEXT NOT NULL DEFAULT '',
		bales_qty INTEGER NOT NULL CHECK (bales_qty > 0),
		gst_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		gst_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS lots (
		id TEXT PRIMARY KEY,
		inward_id TEXT NOT NULL REFERENCES inward_entries(id),
		lot_no TEXT NOT NULL UNIQUE,
		set_no TEXT NOT NULL DEFAULT '',
		bales_qty INTEGER NOT NULL CHECK (bales_qty > 0),
		cess_paid_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		gross_weight DOUBLE PRECISION NOT NULL,
		tare_weight DOUBLE PRECISION NOT NULL,
		nett_weight DOUBLE PRECISION NOT NULL,
		candy_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		quintal_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		rate_per_kg DOUBLE PRECISION NOT NULL DEFAULT 0,
		invoice_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		remarks TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lots_inward_id ON lots (inward_id)`,
	`CREATE TABLE IF NOT EXISTS weightments (
		id TEXT PRIMARY KEY,
		lot_id TEXT NOT NULL REFERENCES lots(id) ON DELETE CASCADE,
		lot_no TEXT NOT NULL,
		bale_no INTEGER NOT NULL,
		gross_weight DOUBLE PRECISION NOT NULL,
		tare_weight DOUBLE PRECISION NOT NULL,
		bale_weight DOUBLE PRECISION NOT NULL,
		bale_value DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (lot_id, bale_no)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs (created_at DESC)`,
}

func New(ctx context.Context, databaseURL string) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s, err := sqlstore.New(ctx, db, Dialect())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:                 "postgres",
		NumberedPlaceholders: true,
		Isolation:            sql.LevelSerializable,
		Schema:               schema,
		IsUniqueViolation:    isUniqueViolation,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
