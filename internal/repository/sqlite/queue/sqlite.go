package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"thread-erp-go/internal/offline"
)

const queueSchemaVersion = 1

var queueMigrations = []string{
	`CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		synced_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_operations_status ON operations (status)`,
	`CREATE INDEX IF NOT EXISTS idx_operations_type ON operations (type)`,
	`CREATE INDEX IF NOT EXISTS idx_operations_created_at ON operations (created_at)`,
}

// SQLiteRepository persists the offline queue in a local SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLite prepares the operations table and records the schema version
// in PRAGMA user_version.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLiteRepository, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}

	if version < queueSchemaVersion {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin schema migration: %w", err)
		}
		for _, statement := range queueMigrations {
			if _, err := tx.ExecContext(ctx, statement); err != nil {
				_ = tx.Rollback()
				return nil, fmt.Errorf("migrate queue schema: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", queueSchemaVersion)); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("set schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit schema migration: %w", err)
		}
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]offline.QueuedOperation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, payload, created_at, status, retry_count, error, synced_at
		FROM operations
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []offline.QueuedOperation
	for rows.Next() {
		var (
			op        offline.QueuedOperation
			payload   []byte
			createdAt int64
			errorText sql.NullString
			syncedAt  sql.NullInt64
		)
		if err := rows.Scan(&op.ID, &op.Type, &payload, &createdAt, &op.Status, &op.RetryCount, &errorText, &syncedAt); err != nil {
			return nil, err
		}
		op.Payload = payload
		op.CreatedAt = time.UnixMilli(createdAt).UTC()
		op.Error = errorText.String
		if syncedAt.Valid {
			value := time.UnixMilli(syncedAt.Int64).UTC()
			op.SyncedAt = &value
		}
		result = append(result, op)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) Add(ctx context.Context, op offline.QueuedOperation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO operations (id, type, payload, created_at, status, retry_count, error, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, string(op.Type), []byte(op.Payload), op.CreatedAt.UnixMilli(), string(op.Status),
		op.RetryCount, nullString(op.Error), nullTime(op.SyncedAt),
	)
	if err != nil && isUniqueViolation(err) {
		return offline.ErrDuplicateKey
	}
	return err
}

func (r *SQLiteRepository) Put(ctx context.Context, op offline.QueuedOperation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO operations (id, type, payload, created_at, status, retry_count, error, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			payload = excluded.payload,
			created_at = excluded.created_at,
			status = excluded.status,
			retry_count = excluded.retry_count,
			error = excluded.error,
			synced_at = excluded.synced_at`,
		op.ID, string(op.Type), []byte(op.Payload), op.CreatedAt.UnixMilli(), string(op.Status),
		op.RetryCount, nullString(op.Error), nullTime(op.SyncedAt),
	)
	return err
}

func (r *SQLiteRepository) DeleteByKey(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM operations WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) DeleteByIndex(ctx context.Context, status offline.Status) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM operations WHERE status = ?", string(status))
	return err
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM operations")
	return err
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: value.UnixMilli(), Valid: true}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
