package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteDirPermissions = 0o750

// SQLiteLedger keeps usage counters in a SQLite table, one row per bucket key.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (or creates) the database at dbPath and migrates it.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	err := os.MkdirAll(filepath.Dir(dbPath), sqliteDirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	ledger := &SQLiteLedger{db: db}

	err = ledger.migrate()
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return ledger, nil
}

func (l *SQLiteLedger) migrate() error {
	migrations := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS usage_counters (
			bucket_key TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		_, err := l.db.Exec(m)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Get returns the counter for bucketKey, 0 when absent.
func (l *SQLiteLedger) Get(ctx context.Context, bucketKey string) (int64, error) {
	var count int64

	err := l.db.QueryRowContext(ctx,
		`SELECT count FROM usage_counters WHERE bucket_key = ?`, bucketKey).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to read usage counter '%s': %w", bucketKey, err)
	}

	return count, nil
}

// Increment adds one to the counter for bucketKey in a single upsert.
func (l *SQLiteLedger) Increment(ctx context.Context, bucketKey string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO usage_counters (bucket_key, count, updated_at)
		VALUES (?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(bucket_key) DO UPDATE SET
			count = count + 1,
			updated_at = CURRENT_TIMESTAMP`, bucketKey)
	if err != nil {
		return fmt.Errorf("failed to increment usage counter '%s': %w", bucketKey, err)
	}

	return nil
}

// Close closes the database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
