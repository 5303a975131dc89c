package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/email-verifier/internal/domain"
	"github.com/ignite/email-verifier/internal/queue"
	"github.com/ignite/email-verifier/internal/worker"
)

type queueItem struct {
	env queue.Envelope
	raw []byte
	err error
}

type fakeSource struct {
	mu     sync.Mutex
	items  []queueItem
	sweeps int
}

func (f *fakeSource) push(items ...queueItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, items...)
}

func (f *fakeSource) Dequeue(context.Context) (queue.Envelope, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return queue.Envelope{}, nil, queue.ErrEmpty
	}
	item := f.items[0]
	f.items = f.items[1:]
	return item.env, item.raw, item.err
}

func (f *fakeSource) PromoteDueRetries(context.Context, time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0, nil
}

func (f *fakeSource) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

type fakeVerifier struct {
	mu       sync.Mutex
	seen     []string
	outcomes map[string]worker.Outcome
	errs     map[string]error
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{
		outcomes: make(map[string]worker.Outcome),
		errs:     make(map[string]error),
	}
}

func (f *fakeVerifier) Verify(_ context.Context, _ queue.Envelope, email string) (worker.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, email)
	out, ok := f.outcomes[email]
	if !ok {
		out = worker.Outcome{Status: domain.CategoryDeliverable}
	}
	return out, f.errs[email]
}

func (f *fakeVerifier) seenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

type fakeTracker struct {
	mu       sync.Mutex
	running  []string
	verified map[string]bool
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{verified: make(map[string]bool)}
}

func (f *fakeTracker) MarkRunning(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = append(f.running, jobID)
	return nil
}

func (f *fakeTracker) AlreadyVerified(_ context.Context, jobID, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verified[jobID+"/"+email], nil
}

func startPool(t *testing.T, source worker.JobSource, verifier worker.AddressVerifier, tracker worker.JobTracker) *worker.Pool {
	t.Helper()
	p := worker.New(source, verifier, tracker, worker.Config{
		Concurrency: 4,
		SleepEmpty:  5 * time.Millisecond,
	})
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return p
}

func TestPoolProcessesJob(t *testing.T) {
	source := &fakeSource{}
	verifier := newFakeVerifier()
	verifier.outcomes["bad@acme.io"] = worker.Outcome{Status: domain.CategoryUndeliverable}
	verifier.outcomes["iffy@acme.io"] = worker.Outcome{Status: domain.CategoryRisky}
	tracker := newFakeTracker()

	source.push(queueItem{env: queue.Envelope{
		JobID:  "job-1",
		Emails: []string{"ok@acme.io", "bad@acme.io", "iffy@acme.io"},
	}})

	p := startPool(t, source, verifier, tracker)

	require.Eventually(t, func() bool {
		return verifier.seenCount() == 3
	}, 2*time.Second, 10*time.Millisecond)
	p.Stop()

	stats := p.Stats()
	assert.EqualValues(t, 3, stats["total_processed"])
	assert.EqualValues(t, 1, stats["total_deliverable"])
	assert.EqualValues(t, 1, stats["total_undeliverable"])
	assert.EqualValues(t, 1, stats["total_risky"])
	assert.EqualValues(t, 0, stats["total_errors"])
	assert.Equal(t, []string{"job-1"}, tracker.running)
}

func TestPoolSkipsAlreadyVerified(t *testing.T) {
	source := &fakeSource{}
	verifier := newFakeVerifier()
	tracker := newFakeTracker()
	tracker.verified["job-1/done@acme.io"] = true

	source.push(queueItem{env: queue.Envelope{
		JobID:  "job-1",
		Emails: []string{"done@acme.io", "new@acme.io"},
	}})

	p := startPool(t, source, verifier, tracker)

	require.Eventually(t, func() bool {
		return verifier.seenCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	p.Stop()

	verifier.mu.Lock()
	defer verifier.mu.Unlock()
	assert.Equal(t, []string{"new@acme.io"}, verifier.seen)
}

func TestPoolDropsMalformedEnvelope(t *testing.T) {
	source := &fakeSource{}
	verifier := newFakeVerifier()
	tracker := newFakeTracker()

	source.push(
		queueItem{raw: []byte("{not json"), err: errors.New("malformed envelope")},
		queueItem{env: queue.Envelope{JobID: "job-2", Emails: []string{"a@acme.io"}}},
	)

	p := startPool(t, source, verifier, tracker)

	require.Eventually(t, func() bool {
		return verifier.seenCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	p.Stop()

	assert.EqualValues(t, 1, p.Stats()["total_processed"])
	assert.Equal(t, []string{"job-2"}, tracker.running)
}

func TestPoolRetryEnvelopeDoesNotRemarkRunning(t *testing.T) {
	source := &fakeSource{}
	verifier := newFakeVerifier()
	verifier.outcomes["late@grey.io"] = worker.Outcome{Status: domain.CategoryUnknown}
	tracker := newFakeTracker()

	source.push(queueItem{env: queue.Envelope{
		JobID: "job-3", Emails: []string{"late@grey.io"}, Attempt: 1,
	}})

	p := startPool(t, source, verifier, tracker)

	require.Eventually(t, func() bool {
		return verifier.seenCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	p.Stop()

	assert.Empty(t, tracker.running)
	assert.EqualValues(t, 1, p.Stats()["total_unknown"])
}

func TestPoolCountsDeferredAndErrors(t *testing.T) {
	source := &fakeSource{}
	verifier := newFakeVerifier()
	verifier.outcomes["grey@acme.io"] = worker.Outcome{Deferred: true}
	verifier.errs["broken@acme.io"] = errors.New("db down")
	tracker := newFakeTracker()

	source.push(queueItem{env: queue.Envelope{
		JobID:  "job-4",
		Emails: []string{"grey@acme.io", "broken@acme.io"},
	}})

	p := startPool(t, source, verifier, tracker)

	require.Eventually(t, func() bool {
		return verifier.seenCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
	p.Stop()

	stats := p.Stats()
	assert.EqualValues(t, 1, stats["total_deferred"])
	assert.EqualValues(t, 1, stats["total_errors"])
	// The deferred address is not processed yet; the failed one is.
	assert.EqualValues(t, 1, stats["total_processed"])
}

func TestPoolSweepsRetries(t *testing.T) {
	source := &fakeSource{}
	p := startPool(t, source, newFakeVerifier(), newFakeTracker())

	require.Eventually(t, func() bool {
		return source.sweepCount() >= 2
	}, 2*time.Second, 10*time.Millisecond)
	p.Stop()
}
