// Package queue is the job transport between the API and the worker fleet:
// a Redis list carrying JSON job envelopes, popped blocking by workers,
// plus a sorted set that parks greylisted addresses until their retry time.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultJobsKey  = "email_jobs"
	retrySuffix     = ":retry"
	defaultPopBlock = 5 * time.Second
)

// ErrEmpty is returned by Dequeue when the blocking pop timed out with no
// envelope available.
var ErrEmpty = errors.New("queue: empty")

// Envelope is the unit of work the submitter enqueues: one job, many
// addresses. Attempt counts greylist retries for single-address retry
// envelopes and stays zero on first delivery.
type Envelope struct {
	JobID   string            `json:"job_id"`
	OwnerID string            `json:"owner_id,omitempty"`
	Emails  []string          `json:"emails"`
	Meta    map[string]string `json:"meta,omitempty"`
	Attempt int               `json:"attempt,omitempty"`
}

// Queue is a FIFO of job envelopes over a Redis list. At-least-once:
// a popped envelope that crashes mid-processing is lost to the queue but
// the job row records it as unprocessed, so resubmission is safe and
// workers dedupe per (job_id, email).
type Queue struct {
	redis    *redis.Client
	jobsKey  string
	retryKey string
	popBlock time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithKey overrides the Redis list key.
func WithKey(key string) Option {
	return func(q *Queue) {
		q.jobsKey = key
		q.retryKey = key + retrySuffix
	}
}

// WithPopBlock overrides how long Dequeue blocks before reporting ErrEmpty.
func WithPopBlock(d time.Duration) Option {
	return func(q *Queue) { q.popBlock = d }
}

// New creates a Queue on the default "email_jobs" key.
func New(redisClient *redis.Client, opts ...Option) *Queue {
	q := &Queue{
		redis:    redisClient,
		jobsKey:  defaultJobsKey,
		retryKey: defaultJobsKey + retrySuffix,
		popBlock: defaultPopBlock,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue pushes one envelope to the tail of the queue.
func (q *Queue) Enqueue(ctx context.Context, env Envelope) error {
	if env.JobID == "" {
		return errors.New("queue: envelope without job_id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := q.redis.RPush(ctx, q.jobsKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", env.JobID, err)
	}
	return nil
}

// Dequeue blocks up to the configured timeout for the next envelope.
// Timeout returns ErrEmpty. A payload that does not decode returns the
// raw bytes alongside the error so the caller can log and drop it.
func (q *Queue) Dequeue(ctx context.Context) (Envelope, []byte, error) {
	res, err := q.redis.BLPop(ctx, q.popBlock, q.jobsKey).Result()
	if errors.Is(err, redis.Nil) {
		return Envelope{}, nil, ErrEmpty
	}
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("dequeue: %w", err)
	}
	// BLPOP returns [key, value].
	raw := []byte(res[1])

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, raw, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.JobID == "" || len(env.Emails) == 0 {
		return Envelope{}, raw, errors.New("malformed envelope: missing job_id or emails")
	}
	return env, raw, nil
}

// ScheduleRetry parks a retry envelope until the given time. Used for
// greylisted addresses: the member is the envelope itself, the score its
// due time.
func (q *Queue) ScheduleRetry(ctx context.Context, env Envelope, at time.Time) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal retry envelope: %w", err)
	}
	err = q.redis.ZAdd(ctx, q.retryKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule retry for job %s: %w", env.JobID, err)
	}
	return nil
}

// PromoteDueRetries moves every retry whose time has come back onto the
// main queue and returns how many moved. Safe to call from every worker;
// ZREM decides the winner when two race on the same member.
func (q *Queue) PromoteDueRetries(ctx context.Context, now time.Time) (int, error) {
	members, err := q.redis.ZRangeByScore(ctx, q.retryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list due retries: %w", err)
	}

	moved := 0
	for _, member := range members {
		removed, err := q.redis.ZRem(ctx, q.retryKey, member).Result()
		if err != nil {
			return moved, fmt.Errorf("claim retry: %w", err)
		}
		if removed == 0 {
			continue // another worker got it first
		}
		if err := q.redis.RPush(ctx, q.jobsKey, member).Err(); err != nil {
			return moved, fmt.Errorf("requeue retry: %w", err)
		}
		moved++
	}
	return moved, nil
}

// Len returns the number of envelopes waiting on the main queue.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.redis.LLen(ctx, q.jobsKey).Result()
}
