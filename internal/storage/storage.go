// Package storage provides the durable SQLite store for sessions, reflexes,
// goals, artifacts, events, budgets, beliefs, and rollup logs. One DB per
// kernel; writes use a transaction per operation, reads may be concurrent.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/empirica-ai/empirica/internal/model"
)

// DB wraps the SQLite connection.
type DB struct {
	*sqlx.DB
	path   string
	logger *slog.Logger
}

// Open opens (or creates) the database at path and runs migrations.
// An in-memory database is produced by path ":memory:".
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("storage: create db directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	// modernc/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent observers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}

	d := &DB{DB: db, path: path, logger: logger}
	if err := d.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return d, nil
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

func (d *DB) migrate(ctx context.Context) error {
	for i, m := range migrations {
		if _, err := d.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}

// persistErr wraps a failed write so callers can match model.ErrPersistFailed
// while keeping the driver error in the chain.
func persistErr(op string, err error) error {
	return fmt.Errorf("storage: %s: %w", op, errors.Join(model.ErrPersistFailed, err))
}

// inTx runs fn inside a transaction, rolling back on error.
func (d *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
