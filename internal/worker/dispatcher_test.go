package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/email-verifier/internal/ratelimit"
	"github.com/ignite/email-verifier/internal/smtpprobe"
	"github.com/ignite/email-verifier/internal/worker"
)

type fakeBatchProber struct {
	mu      sync.Mutex
	batches [][]string
	respond func(emails []string, mxHost string) []smtpprobe.Result
}

func (f *fakeBatchProber) ProbeBatch(_ context.Context, emails []string, mxHost string) []smtpprobe.Result {
	f.mu.Lock()
	f.batches = append(f.batches, emails)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(emails, mxHost)
	}
	out := make([]smtpprobe.Result, len(emails))
	for i, e := range emails {
		out[i] = smtpprobe.Result{
			Email: e, Status: smtpprobe.StatusDeliverable, Code: 250, Port: 25, MXHost: mxHost,
		}
	}
	return out
}

func (f *fakeBatchProber) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeLimiter struct {
	mu       sync.Mutex
	open     bool
	deny     bool
	failures int
	cleared  int
}

func (f *fakeLimiter) Allow(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.deny && !f.open, nil
}

func (f *fakeLimiter) IsOpen(context.Context, string) (ratelimit.BreakerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ratelimit.BreakerState{Open: f.open}, nil
}

func (f *fakeLimiter) RecordFailure(context.Context, string) (ratelimit.BreakerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
	return ratelimit.BreakerState{Count: int64(f.failures)}, nil
}

func (f *fakeLimiter) Clear(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *fakeLimiter) stats() (failures, cleared int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures, f.cleared
}

func startDispatcher(t *testing.T, prober worker.BatchProber, limiter worker.AdmissionController, cfg worker.DispatcherConfig) *worker.Dispatcher {
	t.Helper()
	d := worker.NewDispatcher(prober, limiter, cfg)
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	return d
}

func TestDispatcherBatchesSameDomain(t *testing.T) {
	prober := &fakeBatchProber{}
	limiter := &fakeLimiter{}
	d := startDispatcher(t, prober, limiter, worker.DispatcherConfig{
		BatchSize: 3, BatchMaxWait: 50 * time.Millisecond,
	})

	emails := []string{"a@acme.io", "b@acme.io", "c@acme.io"}
	results := make([]smtpprobe.Result, len(emails))
	var wg sync.WaitGroup
	for i, email := range emails {
		wg.Add(1)
		go func(i int, email string) {
			defer wg.Done()
			res, err := d.Submit(context.Background(), "acme.io", email, "mx.acme.io")
			require.NoError(t, err)
			results[i] = res
		}(i, email)
	}
	wg.Wait()

	// One session carried all three addresses, each caller got its own row.
	assert.Equal(t, 1, prober.batchCount())
	for i, email := range emails {
		assert.Equal(t, email, results[i].Email)
		assert.Equal(t, smtpprobe.StatusDeliverable, results[i].Status)
	}

	_, cleared := limiter.stats()
	assert.Equal(t, 1, cleared)
}

func TestDispatcherOpenBreakerShortCircuits(t *testing.T) {
	prober := &fakeBatchProber{}
	limiter := &fakeLimiter{open: true}
	d := startDispatcher(t, prober, limiter, worker.DispatcherConfig{
		BatchSize: 1, BatchMaxWait: 10 * time.Millisecond,
	})

	res, err := d.Submit(context.Background(), "down.io", "a@down.io", "mx.down.io")
	require.NoError(t, err)

	assert.Equal(t, smtpprobe.StatusUnknown, res.Status)
	assert.Equal(t, "circuit-open", res.Message)
	assert.Equal(t, 0, prober.batchCount())
}

func TestDispatcherTransportFailureTripsBreaker(t *testing.T) {
	prober := &fakeBatchProber{
		respond: func(emails []string, mxHost string) []smtpprobe.Result {
			out := make([]smtpprobe.Result, len(emails))
			for i, e := range emails {
				out[i] = smtpprobe.Result{
					Email: e, Status: smtpprobe.StatusUnknown, MXHost: mxHost,
					TimedOut: true, Message: "dial tcp: i/o timeout",
				}
			}
			return out
		},
	}
	limiter := &fakeLimiter{}
	d := startDispatcher(t, prober, limiter, worker.DispatcherConfig{
		BatchSize: 1, BatchMaxWait: 10 * time.Millisecond,
	})

	res, err := d.Submit(context.Background(), "slow.io", "a@slow.io", "mx.slow.io")
	require.NoError(t, err)
	assert.True(t, res.TimedOut)

	failures, cleared := limiter.stats()
	assert.Equal(t, 1, failures)
	assert.Equal(t, 0, cleared)
}

func TestDispatcherStarvedBucketGivesUp(t *testing.T) {
	prober := &fakeBatchProber{}
	limiter := &fakeLimiter{deny: true}
	d := startDispatcher(t, prober, limiter, worker.DispatcherConfig{
		BatchSize: 1, BatchMaxWait: 10 * time.Millisecond,
		AdmitWait: 50 * time.Millisecond, AdmitInterval: 10 * time.Millisecond,
	})

	res, err := d.Submit(context.Background(), "busy.io", "a@busy.io", "mx.busy.io")
	require.NoError(t, err)

	assert.Equal(t, smtpprobe.StatusUnknown, res.Status)
	assert.Equal(t, "rate limit exceeded", res.Message)
	assert.Equal(t, 0, prober.batchCount())
}

func TestDispatcherSubmitRespectsContext(t *testing.T) {
	prober := &fakeBatchProber{}
	limiter := &fakeLimiter{}
	d := startDispatcher(t, prober, limiter, worker.DispatcherConfig{
		BatchSize: 10, BatchMaxWait: 5 * time.Second, // never flushes in time
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := d.Submit(ctx, "acme.io", "a@acme.io", "mx.acme.io")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcherSubmitAfterStop(t *testing.T) {
	prober := &fakeBatchProber{}
	limiter := &fakeLimiter{}
	d := worker.NewDispatcher(prober, limiter, worker.DispatcherConfig{BatchSize: 1})
	d.Start(context.Background())
	d.Stop()

	_, err := d.Submit(context.Background(), "acme.io", "a@acme.io", "mx.acme.io")
	assert.ErrorIs(t, err, worker.ErrDispatcherClosed)
}
