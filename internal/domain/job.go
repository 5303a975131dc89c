package domain

import (
	"time"
)

// JobStatus enumerates the lifecycle states of a verification job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// EmailJob is a batch of addresses submitted for verification. Progress is
// tracked as processed/total; results live in email_verifications rows keyed
// by (job_id, email).
type EmailJob struct {
	JobID     string    `json:"job_id" db:"job_id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	JobName   string    `json:"job_name" db:"job_name"`
	Status    JobStatus `json:"status" db:"status"`
	Total     int       `json:"total" db:"total"`
	Processed int       `json:"processed" db:"processed"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the job is in a final state.
func (j *EmailJob) IsTerminal() bool {
	return j.Status == JobDone || j.Status == JobFailed
}

// Complete reports whether every address in the job has been processed.
func (j *EmailJob) Complete() bool {
	return j.Total > 0 && j.Processed >= j.Total
}
