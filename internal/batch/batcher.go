// Package batch coalesces pending addresses by domain so that one SMTP
// session can verify many recipients. A batch flushes when it reaches the
// size cap or when its oldest member has waited long enough, whichever
// comes first.
package batch

import (
	"sync"
	"time"
)

const (
	defaultBatchSize = 20
	defaultMaxWait   = 400 * time.Millisecond
)

// Batch is one flushed group of addresses sharing a domain. Emails keep
// their insertion order.
type Batch struct {
	Domain string
	Emails []string
}

// Config tunes the batcher. Zero values take the defaults.
type Config struct {
	BatchSize int
	MaxWait   time.Duration
}

// Batcher groups addresses by domain. Add is safe for concurrent use;
// flushed batches are delivered on the channel returned by Out. Close
// flushes every pending batch and closes the output channel.
type Batcher struct {
	cfg Config
	out chan Batch

	mu      sync.Mutex
	pending map[string]*pendingBatch
	closed  bool
}

type pendingBatch struct {
	emails  []string
	timer   *time.Timer
	firstIn time.Time
}

// New creates a Batcher.
func New(cfg Config) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	return &Batcher{
		cfg:     cfg,
		out:     make(chan Batch, 64),
		pending: make(map[string]*pendingBatch),
	}
}

// Out returns the channel of flushed batches.
func (b *Batcher) Out() <-chan Batch {
	return b.out
}

// Add queues one address under its domain. Reaching the size cap flushes
// the batch immediately; otherwise a timer set when the first address
// arrived flushes whatever accumulated.
func (b *Batcher) Add(domain, email string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	pb := b.pending[domain]
	if pb == nil {
		pb = &pendingBatch{firstIn: time.Now()}
		pb.timer = time.AfterFunc(b.cfg.MaxWait, func() {
			b.flush(domain)
		})
		b.pending[domain] = pb
	}
	pb.emails = append(pb.emails, email)

	if len(pb.emails) >= b.cfg.BatchSize {
		pb.timer.Stop()
		delete(b.pending, domain)
		emails := pb.emails
		b.mu.Unlock()
		b.out <- Batch{Domain: domain, Emails: emails}
		return
	}
	b.mu.Unlock()
}

// flush emits the pending batch for a domain, if any.
func (b *Batcher) flush(domain string) {
	b.mu.Lock()
	pb := b.pending[domain]
	if pb == nil || b.closed {
		b.mu.Unlock()
		return
	}
	delete(b.pending, domain)
	emails := pb.emails
	b.mu.Unlock()

	if len(emails) > 0 {
		b.out <- Batch{Domain: domain, Emails: emails}
	}
}

// Close flushes all pending batches in arbitrary domain order and closes
// the output channel. Add calls after Close are dropped.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	remaining := b.pending
	b.pending = make(map[string]*pendingBatch)
	b.mu.Unlock()

	for domain, pb := range remaining {
		pb.timer.Stop()
		if len(pb.emails) > 0 {
			b.out <- Batch{Domain: domain, Emails: pb.emails}
		}
	}
	close(b.out)
}
