// repository/sqlite/migration_store.go
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mwhitfield/lockstep/api"
	"github.com/mwhitfield/lockstep/internal/data/repository"

	_ "modernc.org/sqlite"
)

type MigrationStore struct {
	db    *sql.DB
	table string
}

func NewMigrationStore(dsn, table string) (*MigrationStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", repository.ErrStoreUnavailable, err)
	}

	// One session for the whole run; also keeps :memory: databases
	// coherent across statements.
	db.SetMaxOpenConns(1)

	return &MigrationStore{db: db, table: table}, nil
}

func (s *MigrationStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %q (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            filename TEXT NOT NULL UNIQUE,
            applied_at INTEGER NOT NULL
        )`, s.table)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("%w: ensure tracking table: %w", repository.ErrStoreUnavailable, err)
	}

	return nil
}

func (s *MigrationStore) SchemaExists(ctx context.Context) (bool, error) {
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`

	var count int
	if err := s.db.QueryRowContext(ctx, query, s.table).Scan(&count); err != nil {
		return false, fmt.Errorf("%w: check tracking table: %w", repository.ErrStoreUnavailable, err)
	}

	return count > 0, nil
}

func (s *MigrationStore) ListApplied(ctx context.Context) ([]api.MigrationRecord, error) {
	query := fmt.Sprintf(`
        SELECT filename, applied_at
        FROM %q
        ORDER BY id`, s.table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: read tracking table: %w", repository.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var records []api.MigrationRecord
	for rows.Next() {
		var (
			r      api.MigrationRecord
			millis int64
		)
		if err := rows.Scan(&r.Filename, &millis); err != nil {
			return nil, fmt.Errorf("%w: scan tracking row: %w", repository.ErrStoreUnavailable, err)
		}
		r.AppliedAt = time.UnixMilli(millis).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read tracking table: %w", repository.ErrStoreUnavailable, err)
	}

	return records, nil
}

func (s *MigrationStore) BeginMigration(ctx context.Context) (repository.MigrationTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin migration transaction: %w", err)
	}

	return &migrationTx{tx: tx, table: s.table}, nil
}

func (s *MigrationStore) Close() {
	_ = s.db.Close()
}

type migrationTx struct {
	tx    *sql.Tx
	table string
}

func (t *migrationTx) Exec(ctx context.Context, sqlText string) error {
	_, err := t.tx.ExecContext(ctx, sqlText)
	return err
}

func (t *migrationTx) RecordApplied(ctx context.Context, filename string) error {
	query := fmt.Sprintf(`
        INSERT INTO %q (filename, applied_at)
        VALUES (?, ?)`, t.table)

	if _, err := t.tx.ExecContext(ctx, query, filename, time.Now().UTC().UnixMilli()); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", repository.ErrDuplicateRecord, filename)
		}
		return fmt.Errorf("record applied migration %s: %w", filename, err)
	}

	return nil
}

func (t *migrationTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *migrationTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback()
}
