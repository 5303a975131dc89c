package verification

import (
	"context"

	"github.com/ignite/email-verifier/internal/domain"
)

// JobRepository defines the data access contract for verification jobs.
// Implementations must be safe for concurrent use.
type JobRepository interface {
	// Create inserts a new job row in queued status.
	Create(ctx context.Context, job *domain.EmailJob) error

	// Get returns a job. Returns ErrJobNotFound if it doesn't exist.
	Get(ctx context.Context, jobID string) (*domain.EmailJob, error)

	// ListByOwner returns jobs for an owner, newest first.
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.EmailJob, error)

	// SetStatus moves a job to status. Transitions only move forward:
	// queued -> running -> done|failed. Regressing transitions are no-ops.
	SetStatus(ctx context.Context, jobID string, status domain.JobStatus) error

	// IncrementProcessed adds delta to processed, capped at total, and
	// returns the new processed count.
	IncrementProcessed(ctx context.Context, jobID string, delta int) (int, error)
}

// ResultRepository stores per-address verification results. Rows are
// append-only per (job_id, email); a second write for the same key must
// leave the first row in place.
type ResultRepository interface {
	// Insert persists one result. Duplicate (job_id, email) pairs are
	// silently ignored.
	Insert(ctx context.Context, v *domain.Verification) error

	// Exists reports whether a result is already recorded for the pair.
	Exists(ctx context.Context, jobID, email string) (bool, error)

	// ListByJob returns results for a job ordered by id, paginated.
	ListByJob(ctx context.Context, jobID string, limit, offset int) ([]domain.Verification, error)

	// Latest returns the most recent result for an address across jobs.
	// Returns ErrResultNotFound when the address was never verified.
	Latest(ctx context.Context, email string) (*domain.Verification, error)
}

// HistoryRepository keeps the compact cross-job verification history.
type HistoryRepository interface {
	Insert(ctx context.Context, entry *domain.HistoryEntry) error
	Recent(ctx context.Context, email string, limit int) ([]domain.HistoryEntry, error)
}
