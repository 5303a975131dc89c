package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/email-verifier/internal/domain"
	"github.com/ignite/email-verifier/internal/service/verification"
)

// JobRepo implements verification.JobRepository against PostgreSQL.
type JobRepo struct{ db *sql.DB }

// NewJobRepo creates a Postgres-backed job repository.
func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{db: db} }

func (r *JobRepo) Create(ctx context.Context, job *domain.EmailJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_jobs (job_id, owner_id, job_name, status, total, processed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, NOW(), NOW())
	`, job.JobID, job.OwnerID, job.JobName, job.Status, job.Total)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *JobRepo) Get(ctx context.Context, jobID string) (*domain.EmailJob, error) {
	j := &domain.EmailJob{}
	err := r.db.QueryRowContext(ctx, `
		SELECT job_id, COALESCE(owner_id,''), COALESCE(job_name,''), status, total, processed, created_at, updated_at
		FROM email_jobs
		WHERE job_id = $1
	`, jobID).Scan(
		&j.JobID, &j.OwnerID, &j.JobName, &j.Status, &j.Total, &j.Processed,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, verification.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (r *JobRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.EmailJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, COALESCE(owner_id,''), COALESCE(job_name,''), status, total, processed, created_at, updated_at
		FROM email_jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailJob
	for rows.Next() {
		var j domain.EmailJob
		if err := rows.Scan(
			&j.JobID, &j.OwnerID, &j.JobName, &j.Status, &j.Total, &j.Processed,
			&j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// SetStatus moves a job forward through queued -> running -> done|failed.
// The CASE guard makes regressions no-ops, so late workers cannot drag a
// finished job back to running.
func (r *JobRepo) SetStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = $2, updated_at = NOW()
		WHERE job_id = $1
		  AND (CASE status
		         WHEN 'queued' THEN 0
		         WHEN 'running' THEN 1
		         ELSE 2
		       END)
		   <= (CASE $2
		         WHEN 'queued' THEN 0
		         WHEN 'running' THEN 1
		         ELSE 2
		       END)
	`, jobID, status)
	if err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Either the job is unknown or the transition would regress;
		// check which so callers get ErrJobNotFound for the former.
		var exists bool
		if qerr := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM email_jobs WHERE job_id = $1)`, jobID,
		).Scan(&exists); qerr == nil && !exists {
			return verification.ErrJobNotFound
		}
	}
	return nil
}

// IncrementProcessed atomically advances progress, capped at total.
func (r *JobRepo) IncrementProcessed(ctx context.Context, jobID string, delta int) (int, error) {
	var processed int
	err := r.db.QueryRowContext(ctx, `
		UPDATE email_jobs
		SET processed = LEAST(total, processed + $2), updated_at = NOW()
		WHERE job_id = $1
		RETURNING processed
	`, jobID, delta).Scan(&processed)
	if err == sql.ErrNoRows {
		return 0, verification.ErrJobNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment processed: %w", err)
	}
	return processed, nil
}
