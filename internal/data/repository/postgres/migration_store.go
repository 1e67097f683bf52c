// repository/postgres/migration_store.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwhitfield/lockstep/api"
	"github.com/mwhitfield/lockstep/internal/data/repository"
)

const uniqueViolation = "23505"

type MigrationStore struct {
	pool  *pgxpool.Pool
	table string
}

func NewMigrationStore(ctx context.Context, connString, table string) (*MigrationStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: create connection pool: %w", repository.ErrStoreUnavailable, err)
	}

	return &MigrationStore{pool: pool, table: table}, nil
}

func (s *MigrationStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            id SERIAL PRIMARY KEY,
            filename TEXT NOT NULL UNIQUE,
            applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`, pgx.Identifier{s.table}.Sanitize())

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("%w: ensure tracking table: %w", repository.ErrStoreUnavailable, err)
	}

	return nil
}

func (s *MigrationStore) SchemaExists(ctx context.Context) (bool, error) {
	query := `SELECT EXISTS(
        SELECT 1 FROM information_schema.tables
        WHERE table_schema = current_schema() AND table_name = $1
    )`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, s.table).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: check tracking table: %w", repository.ErrStoreUnavailable, err)
	}

	return exists, nil
}

func (s *MigrationStore) ListApplied(ctx context.Context) ([]api.MigrationRecord, error) {
	query := fmt.Sprintf(`
        SELECT filename, applied_at
        FROM %s
        ORDER BY id`, pgx.Identifier{s.table}.Sanitize())

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: read tracking table: %w", repository.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var records []api.MigrationRecord
	for rows.Next() {
		var r api.MigrationRecord
		if err := rows.Scan(&r.Filename, &r.AppliedAt); err != nil {
			return nil, fmt.Errorf("%w: scan tracking row: %w", repository.ErrStoreUnavailable, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read tracking table: %w", repository.ErrStoreUnavailable, err)
	}

	return records, nil
}

func (s *MigrationStore) BeginMigration(ctx context.Context) (repository.MigrationTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin migration transaction: %w", err)
	}

	return &migrationTx{tx: tx, table: s.table}, nil
}

func (s *MigrationStore) Close() {
	s.pool.Close()
}

type migrationTx struct {
	tx    pgx.Tx
	table string
}

func (t *migrationTx) Exec(ctx context.Context, sql string) error {
	_, err := t.tx.Exec(ctx, sql)
	return err
}

func (t *migrationTx) RecordApplied(ctx context.Context, filename string) error {
	query := fmt.Sprintf(`
        INSERT INTO %s (filename)
        VALUES ($1)`, pgx.Identifier{t.table}.Sanitize())

	if _, err := t.tx.Exec(ctx, query, filename); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", repository.ErrDuplicateRecord, filename)
		}
		return fmt.Errorf("record applied migration %s: %w", filename, err)
	}

	return nil
}

func (t *migrationTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *migrationTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
