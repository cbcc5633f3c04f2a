// Package sqlite is the single-site store: one database file, no server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

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
		candy_rate REAL NOT NULL DEFAULT 0,
		quintal_rate REAL NOT NULL DEFAULT 0,
		godown TEXT NOT NULL DEFAULT '',
		lorry_no TEXT NOT NULL DEFAULT '',
		bill_no TEXT NOT NULL DEFAULT '',
		bales_qty INTEGER NOT NULL CHECK (bales_qty > 0),
		gst_percent REAL NOT NULL DEFAULT 0,
		gst_amount REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS lots (
		id TEXT PRIMARY KEY,
		inward_id TEXT NOT NULL REFERENCES inward_entries(id),
		lot_no TEXT NOT NULL UNIQUE,
		set_no TEXT NOT NULL DEFAULT '',
		bales_qty INTEGER NOT NULL CHECK (bales_qty > 0),
		cess_paid_amount REAL NOT NULL DEFAULT 0,
		gross_weight REAL NOT NULL,
		tare_weight REAL NOT NULL,
		nett_weight REAL NOT NULL,
		candy_rate REAL NOT NULL DEFAULT 0,
		quintal_rate REAL NOT NULL DEFAULT 0,
		rate_per_kg REAL NOT NULL DEFAULT 0,
		invoice_value REAL NOT NULL DEFAULT 0,
		remarks TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lots_inward_id ON lots (inward_id)`,
	`CREATE TABLE IF NOT EXISTS weightments (
		id TEXT PRIMARY KEY,
		lot_id TEXT NOT NULL REFERENCES lots(id) ON DELETE CASCADE,
		lot_no TEXT NOT NULL,
		bale_no INTEGER NOT NULL,
		gross_weight REAL NOT NULL,
		tare_weight REAL NOT NULL,
		bale_weight REAL NOT NULL,
		bale_value REAL NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (lot_id, bale_no)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
}

// Open opens (creating if needed) the database file at path.
func Open(ctx context.Context, path string) (*sqlstore.Store, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}

	// one writer at a time; WAL keeps readers unblocked
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
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
		Name:              "sqlite",
		Isolation:         sql.LevelDefault,
		Schema:            schema,
		IsUniqueViolation: isUniqueViolation,
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
