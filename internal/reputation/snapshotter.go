package reputation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/email-verifier/internal/pkg/distlock"
)

const (
	defaultFlushInterval = 5 * time.Minute
	flushBatchLimit      = 500
)

// Persister writes reputation rows through to durable storage.
type Persister interface {
	Upsert(ctx context.Context, rep Reputation) error
}

// Snapshotter periodically flushes domains touched since the last flush to
// Postgres. Multiple workers can run one each; the distributed lock makes
// sure only one flushes per interval.
type Snapshotter struct {
	store    *Store
	persist  Persister
	lock     distlock.DistLock
	interval time.Duration
}

// NewSnapshotter creates a Snapshotter. A nil lock disables coordination
// (single-process deployments and tests).
func NewSnapshotter(store *Store, persist Persister, lock distlock.DistLock, interval time.Duration) *Snapshotter {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &Snapshotter{store: store, persist: persist, lock: lock, interval: interval}
}

// Run flushes on every tick until the context is cancelled.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				log.Printf("[Reputation] snapshot flush: %v", err)
			}
		}
	}
}

// Flush drains the dirty-domain set and writes each domain's current
// reputation through to the persister. Returns after the batch limit to
// keep a flush bounded; leftovers wait for the next tick.
func (s *Snapshotter) Flush(ctx context.Context) error {
	if s.lock != nil {
		got, err := s.lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if !got {
			return nil
		}
		defer s.lock.Release(ctx)
	}

	for i := 0; i < flushBatchLimit; i++ {
		dom, err := s.store.redis.SPop(ctx, dirtyKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("pop dirty domain: %w", err)
		}
		rep, err := s.store.Get(ctx, dom)
		if err != nil {
			log.Printf("[Reputation] read %s during flush: %v", dom, err)
			continue
		}
		if err := s.persist.Upsert(ctx, rep); err != nil {
			log.Printf("[Reputation] persist %s: %v", dom, err)
		}
	}
	return nil
}
