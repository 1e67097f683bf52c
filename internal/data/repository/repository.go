package repository

import (
	"context"
	"errors"

	"github.com/mwhitfield/lockstep/api"
)

var (
	// ErrStoreUnavailable indicates the tracking table could not be
	// created or read.
	ErrStoreUnavailable = errors.New("migration store unavailable")

	// ErrDuplicateRecord indicates an applied-migration record already
	// exists for a filename. The pending-set computation makes this
	// unreachable in normal operation; it guards against races.
	ErrDuplicateRecord = errors.New("duplicate migration record")
)

// MigrationStore is the durable bookkeeping of applied migrations, kept
// inside the target database so runner state and schema state cannot
// diverge.
type MigrationStore interface {
	// EnsureSchema creates the tracking table if absent. Safe to call on
	// every run.
	EnsureSchema(ctx context.Context) error

	// SchemaExists reports whether the tracking table is present, without
	// creating it. Read-only status queries use this so they never issue
	// DDL against the target database.
	SchemaExists(ctx context.Context) (bool, error)

	// ListApplied returns every recorded migration. Callers needing only
	// set membership ignore the timestamps.
	ListApplied(ctx context.Context) ([]api.MigrationRecord, error)

	// BeginMigration opens a transaction scoped to exactly one migration.
	BeginMigration(ctx context.Context) (MigrationTx, error)

	Close()
}

// MigrationTx is the capability set the runner needs from the database:
// execute statements, record the applied marker, commit or roll back.
// The migration body and its record always share one transaction.
type MigrationTx interface {
	Exec(ctx context.Context, sql string) error
	RecordApplied(ctx context.Context, filename string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
