package verification_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/email-verifier/internal/domain"
	"github.com/ignite/email-verifier/internal/queue"
	"github.com/ignite/email-verifier/internal/service/verification"
)

// memJobs is an in-memory job repository for unit testing.
type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.EmailJob
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]*domain.EmailJob)}
}

func (m *memJobs) Create(_ context.Context, job *domain.EmailJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.JobID] = &cp
	return nil
}

func (m *memJobs) Get(_ context.Context, jobID string) (*domain.EmailJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, verification.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]domain.EmailJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.EmailJob
	for _, j := range m.jobs {
		if j.OwnerID == ownerID {
			out = append(out, *j)
		}
	}
	return out, nil
}

var statusRank = map[domain.JobStatus]int{
	domain.JobQueued:  0,
	domain.JobRunning: 1,
	domain.JobDone:    2,
	domain.JobFailed:  2,
}

func (m *memJobs) SetStatus(_ context.Context, jobID string, status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return verification.ErrJobNotFound
	}
	if statusRank[status] >= statusRank[j.Status] {
		j.Status = status
	}
	return nil
}

func (m *memJobs) IncrementProcessed(_ context.Context, jobID string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return 0, verification.ErrJobNotFound
	}
	j.Processed += delta
	if j.Processed > j.Total {
		j.Processed = j.Total
	}
	return j.Processed, nil
}

// memResults is an in-memory result repository.
type memResults struct {
	mu   sync.Mutex
	rows map[string]*domain.Verification // keyed by jobID + "|" + email
}

func newMemResults() *memResults {
	return &memResults{rows: make(map[string]*domain.Verification)}
}

func (m *memResults) Insert(_ context.Context, v *domain.Verification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := v.JobID + "|" + v.Email
	if _, ok := m.rows[key]; ok {
		return nil // duplicate ignored
	}
	cp := *v
	m.rows[key] = &cp
	return nil
}

func (m *memResults) Exists(_ context.Context, jobID, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[jobID+"|"+email]
	return ok, nil
}

func (m *memResults) ListByJob(_ context.Context, jobID string, limit, offset int) ([]domain.Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Verification
	for _, v := range m.rows {
		if v.JobID == jobID {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (m *memResults) Latest(_ context.Context, email string) (*domain.Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Verification
	for _, v := range m.rows {
		if v.Email == email && (latest == nil || v.CheckedAt.After(latest.CheckedAt)) {
			latest = v
		}
	}
	if latest == nil {
		return nil, verification.ErrResultNotFound
	}
	cp := *latest
	return &cp, nil
}

type memHistory struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
}

func (m *memHistory) Insert(_ context.Context, e *domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memHistory) Recent(_ context.Context, email string, limit int) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.HistoryEntry
	for _, e := range m.entries {
		if e.Email == email {
			out = append(out, e)
		}
	}
	return out, nil
}

type memEnqueuer struct {
	mu        sync.Mutex
	envelopes []queue.Envelope
	fail      error
}

func (m *memEnqueuer) Enqueue(_ context.Context, env queue.Envelope) error {
	if m.fail != nil {
		return m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envelopes = append(m.envelopes, env)
	return nil
}

func newTestService() (*verification.Service, *memJobs, *memResults, *memHistory, *memEnqueuer) {
	jobs := newMemJobs()
	results := newMemResults()
	history := &memHistory{}
	enq := &memEnqueuer{}
	return verification.NewService(jobs, results, history, enq), jobs, results, history, enq
}

func TestCreateJobEnqueuesDeduplicated(t *testing.T) {
	svc, _, _, _, enq := newTestService()

	job, err := svc.CreateJob(context.Background(), "owner-1", "spring list", []string{
		"Alice@Acme.IO", "bob@acme.io", "alice@acme.io", " ", "bob@acme.io",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, job.Total)
	assert.Equal(t, domain.JobQueued, job.Status)
	assert.NotEmpty(t, job.JobID)

	require.Len(t, enq.envelopes, 1)
	assert.Equal(t, []string{"alice@acme.io", "bob@acme.io"}, enq.envelopes[0].Emails)
	assert.Equal(t, "spring list", enq.envelopes[0].Meta["job_name"])
}

func TestCreateJobRejectsEmpty(t *testing.T) {
	svc, _, _, _, _ := newTestService()

	_, err := svc.CreateJob(context.Background(), "owner-1", "", nil)
	assert.ErrorIs(t, err, verification.ErrNoEmails)

	_, err = svc.CreateJob(context.Background(), "owner-1", "", []string{"  ", ""})
	assert.ErrorIs(t, err, verification.ErrNoEmails)
}

func TestCreateJobEnqueueFailureMarksFailed(t *testing.T) {
	svc, jobs, _, _, enq := newTestService()
	enq.fail = assert.AnError

	_, err := svc.CreateJob(context.Background(), "owner-1", "", []string{"a@acme.io"})
	require.Error(t, err)

	// The one job row that was created must be failed, not stuck queued.
	for id := range jobs.jobs {
		j, err := jobs.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobFailed, j.Status)
	}
}

func TestRecordResultAdvancesAndCompletes(t *testing.T) {
	svc, _, _, history, _ := newTestService()
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "owner-1", "", []string{"a@acme.io", "b@acme.io"})
	require.NoError(t, err)
	require.NoError(t, svc.MarkRunning(ctx, job.JobID))

	v := &domain.Verification{
		JobID: job.JobID, Email: "a@acme.io", Domain: "acme.io",
		Status: domain.CategoryDeliverable, Score: 95, Reason: "SMTP mailbox exists",
		CheckedAt: time.Now(),
	}
	require.NoError(t, svc.RecordResult(ctx, v))

	got, err := svc.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Processed)
	assert.Equal(t, domain.JobRunning, got.Status)

	v2 := &domain.Verification{
		JobID: job.JobID, Email: "b@acme.io", Domain: "acme.io",
		Status: domain.CategoryRisky, Score: 60, Reason: "Catch-all domain",
		CheckedAt: time.Now(),
	}
	require.NoError(t, svc.RecordResult(ctx, v2))

	got, err = svc.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Processed)
	assert.Equal(t, domain.JobDone, got.Status)

	assert.Len(t, history.entries, 2)
}

func TestRecordResultIdempotentPerAddress(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "owner-1", "", []string{"a@acme.io", "b@acme.io"})
	require.NoError(t, err)

	verified, err := svc.AlreadyVerified(ctx, job.JobID, "a@acme.io")
	require.NoError(t, err)
	assert.False(t, verified)

	v := &domain.Verification{
		JobID: job.JobID, Email: "a@acme.io", Domain: "acme.io",
		Status: domain.CategoryUnknown, Score: 25, Reason: "Insufficient data",
		CheckedAt: time.Now(),
	}
	require.NoError(t, svc.RecordResult(ctx, v))

	verified, err = svc.AlreadyVerified(ctx, job.JobID, "a@acme.io")
	require.NoError(t, err)
	assert.True(t, verified)
}

func TestProcessedNeverExceedsTotal(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "owner-1", "", []string{"a@acme.io"})
	require.NoError(t, err)

	v := &domain.Verification{
		JobID: job.JobID, Email: "a@acme.io", Domain: "acme.io",
		Status: domain.CategoryUnknown, Score: 25, CheckedAt: time.Now(),
	}
	// Redelivered envelope records twice; the counter must stay capped.
	require.NoError(t, svc.RecordResult(ctx, v))
	require.NoError(t, svc.RecordResult(ctx, v))

	got, err := svc.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Processed)
	assert.LessOrEqual(t, got.Processed, got.Total)
}
