package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mwhitfield/lockstep/api"
	"github.com/mwhitfield/lockstep/internal/data/repository"
	"github.com/rs/zerolog"
)

// Source enumerates candidate migrations. Satisfied by source.Source.
type Source interface {
	List() ([]string, error)
	ReadBody(filename string) (string, error)
}

// ApplyError reports which migration failed and why. Everything committed
// before the failing migration stays applied.
type ApplyError struct {
	Filename string
	Err      error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("migration %s failed: %v", e.Filename, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// Runner applies pending migrations in ascending filename order, one
// transaction per migration, and stops at the first failure.
type Runner struct {
	store  repository.MigrationStore
	source Source
	logger zerolog.Logger
}

func New(store repository.MigrationStore, source Source, logger zerolog.Logger) *Runner {
	return &Runner{
		store:  store,
		source: source,
		logger: logger,
	}
}

// Run executes all pending migrations. The returned summary reflects
// whatever was committed before any failure, so callers can report
// partial progress alongside the error.
func (r *Runner) Run(ctx context.Context) (api.Summary, error) {
	summary := api.Summary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	logger := r.logger.With().Str("runId", summary.RunID).Logger()

	finish := func(err error) (api.Summary, error) {
		summary.FinishedAt = time.Now().UTC()
		return summary, err
	}

	if err := r.store.EnsureSchema(ctx); err != nil {
		return finish(fmt.Errorf("ensure tracking schema: %w", err))
	}

	applied, err := r.store.ListApplied(ctx)
	if err != nil {
		return finish(fmt.Errorf("list applied migrations: %w", err))
	}
	appliedSet := make(map[string]struct{}, len(applied))
	for _, record := range applied {
		appliedSet[record.Filename] = struct{}{}
	}

	candidates, err := r.source.List()
	if err != nil {
		return finish(fmt.Errorf("list candidate migrations: %w", err))
	}

	pending := make([]string, 0, len(candidates))
	for _, name := range candidates {
		if _, ok := appliedSet[name]; ok {
			continue
		}
		pending = append(pending, name)
	}

	summary.TotalCandidates = len(candidates)
	summary.AlreadyApplied = len(candidates) - len(pending)

	logger.Info().
		Int("candidates", summary.TotalCandidates).
		Int("pending", len(pending)).
		Msg("computed pending migrations")

	for _, name := range pending {
		if err := r.applyOne(ctx, name); err != nil {
			logger.Error().Err(err).Str("migration", name).Msg("migration failed, aborting run")
			return finish(&ApplyError{Filename: name, Err: err})
		}

		summary.NewlyApplied++
		summary.Applied = append(summary.Applied, name)
		logger.Info().Str("migration", name).Msg("migration applied")
	}

	return finish(nil)
}

// applyOne executes one migration body and its tracking record inside a
// single transaction. The transaction is closed on every return path.
func (r *Runner) applyOne(ctx context.Context, filename string) error {
	body, err := r.source.ReadBody(filename)
	if err != nil {
		return err
	}

	tx, err := r.store.BeginMigration(ctx)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := tx.Exec(ctx, body); err != nil {
		return fmt.Errorf("execute body: %w", err)
	}
	if err := tx.RecordApplied(ctx, filename); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true

	return nil
}

// Status reports applied and pending migrations. It is strictly read-only:
// a missing tracking table means nothing has been applied, and no DDL is
// issued against the target database.
func (r *Runner) Status(ctx context.Context) (api.Status, error) {
	exists, err := r.store.SchemaExists(ctx)
	if err != nil {
		return api.Status{}, fmt.Errorf("check tracking schema: %w", err)
	}

	var applied []api.MigrationRecord
	if exists {
		applied, err = r.store.ListApplied(ctx)
		if err != nil {
			return api.Status{}, fmt.Errorf("list applied migrations: %w", err)
		}
	}
	appliedSet := make(map[string]struct{}, len(applied))
	for _, record := range applied {
		appliedSet[record.Filename] = struct{}{}
	}

	candidates, err := r.source.List()
	if err != nil {
		return api.Status{}, fmt.Errorf("list candidate migrations: %w", err)
	}

	status := api.Status{Applied: applied}
	for _, name := range candidates {
		if _, ok := appliedSet[name]; !ok {
			status.Pending = append(status.Pending, name)
		}
	}

	return status, nil
}
