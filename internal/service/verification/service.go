package verification

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/email-verifier/internal/domain"
	"github.com/ignite/email-verifier/internal/queue"
)

// MaxEmailsPerJob bounds a single submission. Larger lists should be split
// by the caller.
const MaxEmailsPerJob = 10000

// Enqueuer pushes job envelopes onto the shared work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, env queue.Envelope) error
}

// Service implements verification job business logic. All public methods
// are safe for concurrent use if the underlying repositories are.
type Service struct {
	jobs    JobRepository
	results ResultRepository
	history HistoryRepository
	enqueue Enqueuer
}

// NewService creates a verification service.
func NewService(jobs JobRepository, results ResultRepository, history HistoryRepository, enqueue Enqueuer) *Service {
	return &Service{jobs: jobs, results: results, history: history, enqueue: enqueue}
}

// CreateJob validates the submission, persists a queued job row, and
// enqueues its envelope. Addresses are trimmed and deduplicated while
// preserving order; the job total counts the deduplicated list.
func (s *Service) CreateJob(ctx context.Context, ownerID, jobName string, emails []string) (*domain.EmailJob, error) {
	cleaned := dedupe(emails)
	if len(cleaned) == 0 {
		return nil, ErrNoEmails
	}
	if len(cleaned) > MaxEmailsPerJob {
		return nil, ErrTooManyEmails
	}

	job := &domain.EmailJob{
		JobID:     uuid.New().String(),
		OwnerID:   ownerID,
		JobName:   jobName,
		Status:    domain.JobQueued,
		Total:     len(cleaned),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	env := queue.Envelope{
		JobID:   job.JobID,
		OwnerID: ownerID,
		Emails:  cleaned,
	}
	if jobName != "" {
		env.Meta = map[string]string{"job_name": jobName}
	}
	if err := s.enqueue.Enqueue(ctx, env); err != nil {
		// The row exists but nothing will process it; mark it failed so
		// the submitter sees the truth instead of a job stuck at queued.
		if serr := s.jobs.SetStatus(ctx, job.JobID, domain.JobFailed); serr != nil {
			log.Printf("[Verification] mark job %s failed after enqueue error: %v", job.JobID, serr)
		}
		return nil, fmt.Errorf("enqueue job %s: %w", job.JobID, err)
	}
	return job, nil
}

// GetJob returns a job with its progress.
func (s *Service) GetJob(ctx context.Context, jobID string) (*domain.EmailJob, error) {
	return s.jobs.Get(ctx, jobID)
}

// ListJobs returns an owner's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, ownerID string, limit, offset int) ([]domain.EmailJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.jobs.ListByOwner(ctx, ownerID, limit, offset)
}

// Results returns a job's verification rows, paginated.
func (s *Service) Results(ctx context.Context, jobID string, limit, offset int) ([]domain.Verification, error) {
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.results.ListByJob(ctx, jobID, limit, offset)
}

// LatestResult returns the most recent verification for an address.
func (s *Service) LatestResult(ctx context.Context, email string) (*domain.Verification, error) {
	return s.results.Latest(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// History returns recent cross-job history for an address.
func (s *Service) History(ctx context.Context, email string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.history.Recent(ctx, strings.ToLower(strings.TrimSpace(email)), limit)
}

// AlreadyVerified reports whether a result exists for (jobID, email).
// Workers call this before running the pipeline so redelivered envelopes
// do not probe twice.
func (s *Service) AlreadyVerified(ctx context.Context, jobID, email string) (bool, error) {
	return s.results.Exists(ctx, jobID, email)
}

// RecordResult persists one verification, appends its history entry, and
// advances job progress. Persistence errors are returned but the progress
// increment is attempted regardless: at-least-once delivery means a lost
// result must not wedge the job forever.
func (s *Service) RecordResult(ctx context.Context, v *domain.Verification) error {
	var insertErr error
	if err := s.results.Insert(ctx, v); err != nil {
		insertErr = fmt.Errorf("insert result for %s: %w", v.Email, err)
	} else if err := s.history.Insert(ctx, &domain.HistoryEntry{
		Email:     v.Email,
		Domain:    v.Domain,
		Status:    v.Status,
		Score:     v.Score,
		Reason:    v.Reason,
		CheckedAt: v.CheckedAt,
	}); err != nil {
		// History is best-effort; the canonical row landed.
		log.Printf("[Verification] history insert for %s: %v", v.Email, err)
	}

	processed, err := s.jobs.IncrementProcessed(ctx, v.JobID, 1)
	if err != nil {
		if insertErr != nil {
			return insertErr
		}
		return fmt.Errorf("advance progress for job %s: %w", v.JobID, err)
	}

	job, err := s.jobs.Get(ctx, v.JobID)
	if err == nil && processed >= job.Total {
		if err := s.jobs.SetStatus(ctx, v.JobID, domain.JobDone); err != nil {
			log.Printf("[Verification] mark job %s done: %v", v.JobID, err)
		}
	}
	return insertErr
}

// MarkRunning transitions a job to running when a worker first claims it.
func (s *Service) MarkRunning(ctx context.Context, jobID string) error {
	return s.jobs.SetStatus(ctx, jobID, domain.JobRunning)
}

func dedupe(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
