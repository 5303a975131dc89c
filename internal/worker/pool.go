// Package worker runs the verification fleet: a pool claims job envelopes
// from the Redis queue, fans each job's addresses through the pipeline under
// a concurrency bound, and funnels SMTP probes through a per-domain batching
// dispatcher.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/email-verifier/internal/domain"
	"github.com/ignite/email-verifier/internal/queue"
)

// JobSource claims envelopes and sweeps due greylist retries.
type JobSource interface {
	Dequeue(ctx context.Context) (queue.Envelope, []byte, error)
	PromoteDueRetries(ctx context.Context, now time.Time) (int, error)
}

// AddressVerifier runs the full pipeline for one address.
type AddressVerifier interface {
	Verify(ctx context.Context, env queue.Envelope, email string) (Outcome, error)
}

// JobTracker marks claimed jobs running and answers idempotency checks.
type JobTracker interface {
	MarkRunning(ctx context.Context, jobID string) error
	AlreadyVerified(ctx context.Context, jobID, email string) (bool, error)
}

// Config tunes the pool. Zero values take defaults.
type Config struct {
	Concurrency int           // in-flight addresses per claimed job
	SleepEmpty  time.Duration // pause after an empty queue poll
	Heartbeat   time.Duration // stats log interval
}

func (c *Config) withDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.SleepEmpty <= 0 {
		c.SleepEmpty = time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 30 * time.Second
	}
}

// Pool claims verification jobs and drives them to completion.
type Pool struct {
	source   JobSource
	verifier AddressVerifier
	tracker  JobTracker
	workerID string
	cfg      Config

	// Stats
	totalProcessed     int64
	totalDeliverable   int64
	totalUndeliverable int64
	totalRisky         int64
	totalUnknown       int64
	totalDeferred      int64
	totalErrors        int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// New creates a Pool.
func New(source JobSource, verifier AddressVerifier, tracker JobTracker, cfg Config) *Pool {
	cfg.withDefaults()
	return &Pool{
		source:   source,
		verifier: verifier,
		tracker:  tracker,
		workerID: "worker-" + uuid.New().String()[:8],
		cfg:      cfg,
	}
}

// WorkerID returns the pool's instance identifier.
func (p *Pool) WorkerID() string { return p.workerID }

// Start begins claiming jobs. Idempotent until Stop.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	log.Printf("[Pool] %s starting (concurrency=%d)", p.workerID, p.cfg.Concurrency)

	p.wg.Add(2)
	go p.heartbeatLoop()
	go p.claimLoop()
}

// Stop waits for the in-flight job to finish and halts the loops.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	stats := p.Stats()
	log.Printf("[Pool] %s stopped. processed=%d deliverable=%d undeliverable=%d risky=%d unknown=%d deferred=%d errors=%d",
		p.workerID, stats["total_processed"], stats["total_deliverable"], stats["total_undeliverable"],
		stats["total_risky"], stats["total_unknown"], stats["total_deferred"], stats["total_errors"])
}

// Stats returns the pool's counters.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"total_processed":     atomic.LoadInt64(&p.totalProcessed),
		"total_deliverable":   atomic.LoadInt64(&p.totalDeliverable),
		"total_undeliverable": atomic.LoadInt64(&p.totalUndeliverable),
		"total_risky":         atomic.LoadInt64(&p.totalRisky),
		"total_unknown":       atomic.LoadInt64(&p.totalUnknown),
		"total_deferred":      atomic.LoadInt64(&p.totalDeferred),
		"total_errors":        atomic.LoadInt64(&p.totalErrors),
	}
}

func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			stats := p.Stats()
			log.Printf("[Pool] %s heartbeat: processed=%d errors=%d",
				p.workerID, stats["total_processed"], stats["total_errors"])
		}
	}
}

func (p *Pool) claimLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		if moved, err := p.source.PromoteDueRetries(p.ctx, time.Now()); err != nil {
			if p.ctx.Err() != nil {
				return
			}
			log.Printf("[Pool] %s retry sweep: %v", p.workerID, err)
		} else if moved > 0 {
			log.Printf("[Pool] %s promoted %d greylist retries", p.workerID, moved)
		}

		env, raw, err := p.source.Dequeue(p.ctx)
		switch {
		case errors.Is(err, queue.ErrEmpty):
			p.sleep(p.cfg.SleepEmpty)
			continue
		case err != nil && raw != nil:
			// Malformed payload: log and drop, never crash.
			log.Printf("[Pool] %s dropping malformed envelope (%d bytes): %v", p.workerID, len(raw), err)
			continue
		case err != nil:
			if p.ctx.Err() != nil {
				return
			}
			log.Printf("[Pool] %s dequeue: %v", p.workerID, err)
			p.sleep(time.Second)
			continue
		}

		p.processJob(p.ctx, env)
	}
}

// processJob verifies every address of one envelope with a bounded number
// in flight. Addresses already persisted for this job are skipped so
// redelivered envelopes stay idempotent.
func (p *Pool) processJob(ctx context.Context, env queue.Envelope) {
	if env.Attempt == 0 {
		if err := p.tracker.MarkRunning(ctx, env.JobID); err != nil {
			log.Printf("[Pool] %s mark job %s running: %v", p.workerID, env.JobID, err)
		}
	}

	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, email := range env.Emails {
		if ctx.Err() != nil {
			break
		}

		done, err := p.tracker.AlreadyVerified(ctx, env.JobID, email)
		if err != nil {
			// Insert dedupes on (job_id, email) anyway; proceed.
			log.Printf("[Pool] %s idempotency check for job %s: %v", p.workerID, env.JobID, err)
		} else if done {
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(email string) {
			defer wg.Done()
			defer func() { <-sem }()
			out, err := p.verifier.Verify(ctx, env, email)
			p.count(out, err)
		}(email)
	}
	wg.Wait()
}

func (p *Pool) count(out Outcome, err error) {
	if err != nil {
		atomic.AddInt64(&p.totalErrors, 1)
	}
	if out.Deferred {
		atomic.AddInt64(&p.totalDeferred, 1)
		return
	}
	atomic.AddInt64(&p.totalProcessed, 1)
	switch out.Status {
	case domain.CategoryDeliverable:
		atomic.AddInt64(&p.totalDeliverable, 1)
	case domain.CategoryUndeliverable:
		atomic.AddInt64(&p.totalUndeliverable, 1)
	case domain.CategoryRisky:
		atomic.AddInt64(&p.totalRisky, 1)
	case domain.CategoryUnknown:
		atomic.AddInt64(&p.totalUnknown, 1)
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.ctx.Done():
	case <-time.After(d):
	}
}
