// Package reputation tracks rolling per-domain verification counters in
// Redis and derives a trust level from them. The reputation is a reported
// signal only; it does not feed back into the decision ladder.
package reputation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/email-verifier/internal/domain"
)

const (
	keyPrefix = "verifier:rep:"
	dirtyKey  = "verifier:rep:dirty"
	entryTTL  = 30 * 24 * time.Hour

	// Below this many observations the ratios are noise and the score
	// stays at zero.
	minTotal = 5
)

// Store holds per-domain counters keyed by verification outcome.
type Store struct {
	redis *redis.Client
}

// NewStore creates a reputation store.
func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

// Reputation is the rolling state of one domain.
type Reputation struct {
	Domain        string       `json:"domain"`
	Total         int64        `json:"total"`
	Deliverable   int64        `json:"deliverable"`
	Undeliverable int64        `json:"undeliverable"`
	Risky         int64        `json:"risky"`
	Unknown       int64        `json:"unknown"`
	Score         int          `json:"score"`
	Trust         domain.Trust `json:"trust"`
	LastSeen      time.Time    `json:"last_seen"`
}

// Snapshot reduces the reputation to the fields stored alongside a
// verification result.
func (r Reputation) Snapshot() *domain.ReputationSnapshot {
	return &domain.ReputationSnapshot{
		Score: r.Score,
		Trust: r.Trust,
		Total: r.Total,
	}
}

// Record counts one verification outcome against the domain. Counter
// increments are idempotent under retries only in aggregate; the worker
// dedupes per (job, email) before calling.
func (s *Store) Record(ctx context.Context, dom string, status domain.Category) error {
	key := keyPrefix + dom

	pipe := s.redis.TxPipeline()
	pipe.HIncrBy(ctx, key, string(status), 1)
	pipe.HIncrBy(ctx, key, "total", 1)
	pipe.HSet(ctx, key, "last_seen", time.Now().Unix())
	pipe.Expire(ctx, key, entryTTL)
	pipe.SAdd(ctx, dirtyKey, dom)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record reputation for %s: %w", dom, err)
	}
	return nil
}

// Get returns the domain's reputation with the derived score and trust
// band. A domain never seen before comes back zeroed with trust unknown.
func (s *Store) Get(ctx context.Context, dom string) (Reputation, error) {
	rep := Reputation{Domain: dom}

	fields, err := s.redis.HGetAll(ctx, keyPrefix+dom).Result()
	if err != nil {
		return rep, fmt.Errorf("get reputation for %s: %w", dom, err)
	}

	rep.Total = parseCount(fields["total"])
	rep.Deliverable = parseCount(fields[string(domain.CategoryDeliverable)])
	rep.Undeliverable = parseCount(fields[string(domain.CategoryUndeliverable)])
	rep.Risky = parseCount(fields[string(domain.CategoryRisky)])
	rep.Unknown = parseCount(fields[string(domain.CategoryUnknown)])
	if ts := parseCount(fields["last_seen"]); ts > 0 {
		rep.LastSeen = time.Unix(ts, 0)
	}

	rep.Score = scoreOf(rep)
	rep.Trust = domain.TrustFor(rep.Score)
	return rep, nil
}

// scoreOf weighs the outcome ratios: deliverables build trust slowly,
// undeliverables burn it fast, risky drags.
func scoreOf(r Reputation) int {
	if r.Total < minTotal {
		return 0
	}
	total := float64(r.Total)
	score := 40*float64(r.Deliverable)/total -
		50*float64(r.Undeliverable)/total -
		20*float64(r.Risky)/total
	return int(score + 0.5*sign(score))
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

func parseCount(s string) int64 {
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}
