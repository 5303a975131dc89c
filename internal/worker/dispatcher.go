package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ignite/email-verifier/internal/batch"
	"github.com/ignite/email-verifier/internal/pkg/logger"
	"github.com/ignite/email-verifier/internal/ratelimit"
	"github.com/ignite/email-verifier/internal/smtpprobe"
)

// ErrDispatcherClosed is returned by Submit after Stop.
var ErrDispatcherClosed = errors.New("worker: dispatcher closed")

// BatchProber verifies a batch of same-domain addresses in one SMTP session.
type BatchProber interface {
	ProbeBatch(ctx context.Context, emails []string, mxHost string) []smtpprobe.Result
}

// AdmissionController gates probe traffic per domain.
type AdmissionController interface {
	Allow(ctx context.Context, domain string) (bool, error)
	IsOpen(ctx context.Context, dest string) (ratelimit.BreakerState, error)
	RecordFailure(ctx context.Context, dest string) (ratelimit.BreakerState, error)
	Clear(ctx context.Context, dest string) error
}

// DispatcherConfig tunes the dispatcher. Zero values take defaults.
type DispatcherConfig struct {
	BatchSize     int
	BatchMaxWait  time.Duration
	AdmitWait     time.Duration // how long a denied batch waits for a token
	AdmitInterval time.Duration // pause between admission retries
}

func (c *DispatcherConfig) withDefaults() {
	if c.AdmitWait <= 0 {
		c.AdmitWait = 10 * time.Second
	}
	if c.AdmitInterval <= 0 {
		c.AdmitInterval = 100 * time.Millisecond
	}
}

// Dispatcher funnels per-address probe requests through the domain batcher
// so addresses sharing a domain ride one SMTP session, with the rate limiter
// and circuit breaker consulted once per batch. Submit blocks until the
// batch containing the address has been probed.
type Dispatcher struct {
	batcher *batch.Batcher
	prober  BatchProber
	limiter AdmissionController
	cfg     DispatcherConfig

	mu      sync.Mutex
	hosts   map[string]string                  // domain -> MX host
	waiters map[string][]chan smtpprobe.Result // email -> pending submitters
	closed  bool

	done chan struct{}
}

// NewDispatcher creates a Dispatcher. Call Start before Submit.
func NewDispatcher(prober BatchProber, limiter AdmissionController, cfg DispatcherConfig) *Dispatcher {
	cfg.withDefaults()
	return &Dispatcher{
		batcher: batch.New(batch.Config{BatchSize: cfg.BatchSize, MaxWait: cfg.BatchMaxWait}),
		prober:  prober,
		limiter: limiter,
		cfg:     cfg,
		hosts:   make(map[string]string),
		waiters: make(map[string][]chan smtpprobe.Result),
		done:    make(chan struct{}),
	}
}

// Start launches the batch consumer. ctx bounds every probe it issues.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Stop flushes pending batches, waits for in-flight probes, and fails any
// remaining waiters.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.batcher.Close()
	<-d.done
}

// Submit queues one address for batched probing and blocks for its result.
func (d *Dispatcher) Submit(ctx context.Context, dom, email, mxHost string) (smtpprobe.Result, error) {
	ch := make(chan smtpprobe.Result, 1)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return smtpprobe.Result{}, ErrDispatcherClosed
	}
	d.hosts[dom] = mxHost
	d.waiters[email] = append(d.waiters[email], ch)
	d.mu.Unlock()

	d.batcher.Add(dom, email)

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		d.dropWaiter(email, ch)
		return smtpprobe.Result{}, ctx.Err()
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for b := range d.batcher.Out() {
		d.mu.Lock()
		host := d.hosts[b.Domain]
		d.mu.Unlock()

		for _, res := range d.probe(ctx, b, host) {
			d.deliver(res)
		}
	}
}

// probe admits the batch through the limiter and runs it. A breaker that is
// already open short-circuits the whole batch; a starved token bucket waits
// briefly and then gives up rather than stalling the consumer.
func (d *Dispatcher) probe(ctx context.Context, b batch.Batch, host string) []smtpprobe.Result {
	if state, err := d.limiter.IsOpen(ctx, b.Domain); err == nil && state.Open {
		return synthetic(b, host, "circuit-open")
	}

	deadline := time.Now().Add(d.cfg.AdmitWait)
	for {
		allowed, err := d.limiter.Allow(ctx, b.Domain)
		if err != nil {
			// Limiter trouble must not halt verification; probe unpaced.
			log.Printf("[Dispatcher] admission for %s: %v", b.Domain, err)
			break
		}
		if allowed {
			break
		}
		if time.Now().After(deadline) {
			return synthetic(b, host, "rate limit exceeded")
		}
		select {
		case <-ctx.Done():
			return synthetic(b, host, "canceled")
		case <-time.After(d.cfg.AdmitInterval):
		}
	}

	results := d.prober.ProbeBatch(ctx, b.Emails, host)

	// Port 0 on every result means no session ever reached the server.
	failed := true
	for _, r := range results {
		if r.Port != 0 || r.Skipped {
			failed = false
			break
		}
	}
	if failed {
		if state, err := d.limiter.RecordFailure(ctx, b.Domain); err != nil {
			log.Printf("[Dispatcher] record failure for %s: %v", b.Domain, err)
		} else if state.Open {
			log.Printf("[Dispatcher] circuit opened for %s until %s (failures=%d)",
				b.Domain, state.OpenedUntil.Format(time.RFC3339), state.Count)
		}
	} else {
		if err := d.limiter.Clear(ctx, b.Domain); err != nil {
			log.Printf("[Dispatcher] clear breaker for %s: %v", b.Domain, err)
		}
	}
	return results
}

func (d *Dispatcher) deliver(res smtpprobe.Result) {
	d.mu.Lock()
	chans := d.waiters[res.Email]
	if len(chans) == 0 {
		d.mu.Unlock()
		log.Printf("[Dispatcher] no waiter for %s, result dropped", logger.RedactEmail(res.Email))
		return
	}
	ch := chans[0]
	if len(chans) == 1 {
		delete(d.waiters, res.Email)
	} else {
		d.waiters[res.Email] = chans[1:]
	}
	d.mu.Unlock()

	ch <- res
}

func (d *Dispatcher) dropWaiter(email string, ch chan smtpprobe.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	chans := d.waiters[email]
	for i, c := range chans {
		if c == ch {
			d.waiters[email] = append(chans[:i:i], chans[i+1:]...)
			if len(d.waiters[email]) == 0 {
				delete(d.waiters, email)
			}
			return
		}
	}
}

func synthetic(b batch.Batch, host, message string) []smtpprobe.Result {
	out := make([]smtpprobe.Result, len(b.Emails))
	for i, email := range b.Emails {
		out[i] = smtpprobe.Result{
			Email:   email,
			Status:  smtpprobe.StatusUnknown,
			MXHost:  host,
			Message: message,
		}
	}
	return out
}
