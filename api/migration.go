package api

import "time"

// MigrationRecord is one row of the tracking table: a migration that has
// been applied, identified by filename.
type MigrationRecord struct {
	Filename  string    `json:"filename" db:"filename"`
	AppliedAt time.Time `json:"appliedAt" db:"applied_at"`
}

// Summary describes the outcome of a single runner invocation.
type Summary struct {
	RunID           string    `json:"runId"`
	TotalCandidates int       `json:"totalCandidates"`
	AlreadyApplied  int       `json:"alreadyApplied"`
	NewlyApplied    int       `json:"newlyApplied"`
	Applied         []string  `json:"applied,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
}

// Status reports the current migration state of a database without
// changing it.
type Status struct {
	Applied []MigrationRecord `json:"applied"`
	Pending []string          `json:"pending"`
}

// AppliedCount and PendingCount are derived; they exist so CLI and HTTP
// consumers don't have to count slices that may be omitted from JSON.
func (s Status) AppliedCount() int { return len(s.Applied) }
func (s Status) PendingCount() int { return len(s.Pending) }
