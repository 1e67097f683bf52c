package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	mjolnirUtils "github.com/dfryer1193/mjolnir/utils"
	"github.com/mwhitfield/lockstep/api"
	"github.com/mwhitfield/lockstep/internal/runner"
)

// MigrationRunner is the slice of runner behavior the HTTP surface needs.
type MigrationRunner interface {
	Run(ctx context.Context) (api.Summary, error)
	Status(ctx context.Context) (api.Status, error)
}

type MigrationHandler struct {
	runner MigrationRunner
}

func NewMigrationHandler(r MigrationRunner) *MigrationHandler {
	return &MigrationHandler{runner: r}
}

type runResponse struct {
	Summary api.Summary `json:"summary"`
}

func (h *MigrationHandler) GetStatus(w http.ResponseWriter, r *http.Request) *mjolnirUtils.ApiError {
	status, err := h.runner.Status(r.Context())
	if err != nil {
		return mjolnirUtils.InternalServerErr(fmt.Errorf("error fetching migration status: %w", err))
	}

	mjolnirUtils.RespondJSON(w, r, http.StatusOK, status)
	return nil
}

func (h *MigrationHandler) GetApplied(w http.ResponseWriter, r *http.Request) *mjolnirUtils.ApiError {
	status, err := h.runner.Status(r.Context())
	if err != nil {
		return mjolnirUtils.InternalServerErr(fmt.Errorf("error fetching applied migrations: %w", err))
	}

	applied := status.Applied
	if applied == nil {
		applied = []api.MigrationRecord{}
	}
	mjolnirUtils.RespondJSON(w, r, http.StatusOK, map[string][]api.MigrationRecord{"applied": applied})
	return nil
}

func (h *MigrationHandler) GetPending(w http.ResponseWriter, r *http.Request) *mjolnirUtils.ApiError {
	status, err := h.runner.Status(r.Context())
	if err != nil {
		return mjolnirUtils.InternalServerErr(fmt.Errorf("error fetching pending migrations: %w", err))
	}

	pending := status.Pending
	if pending == nil {
		pending = []string{}
	}
	mjolnirUtils.RespondJSON(w, r, http.StatusOK, map[string][]string{"pending": pending})
	return nil
}

// Run triggers a migration run. The error carries the failing filename so
// callers can diagnose and fix the migration file, then re-run.
func (h *MigrationHandler) Run(w http.ResponseWriter, r *http.Request) *mjolnirUtils.ApiError {
	summary, err := h.runner.Run(r.Context())
	if err != nil {
		var applyErr *runner.ApplyError
		if errors.As(err, &applyErr) {
			return mjolnirUtils.InternalServerErr(fmt.Errorf("migration %s failed: %w", applyErr.Filename, applyErr.Err))
		}
		return mjolnirUtils.InternalServerErr(fmt.Errorf("migration run failed: %w", err))
	}

	mjolnirUtils.RespondJSON(w, r, http.StatusOK, runResponse{Summary: summary})
	return nil
}
