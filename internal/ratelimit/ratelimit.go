// Package ratelimit coordinates probe traffic across worker processes: a
// per-domain token bucket and a per-destination circuit breaker, both held
// in Redis and mutated only through Lua scripts so that concurrent workers
// never race on read-modify-write.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	defaultCapacity   = 20.0
	defaultRefillRate = 10.0
	defaultGlobalRPS  = 50

	defaultBreakerWindow    = 60 * time.Second
	defaultBreakerThreshold = 5
	defaultBreakerOpenFor   = 30 * time.Second

	bucketKeyPrefix  = "verifier:tb:"
	breakerKeyPrefix = "verifier:cb:"

	// Bucket state outlives its refill horizon by a wide margin; an idle
	// domain's bucket is as good as a full one.
	bucketTTLSeconds = 120
)

// Token bucket: refill from elapsed time, take one token if available,
// persist state either way. Returns {allowed, tokens_left}.
const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last")
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil then
    tokens = capacity
    last = now
end

local elapsed = now - last
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * refill)
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last", now)
redis.call("EXPIRE", key, ttl)
return {allowed, tostring(tokens)}
`

// Circuit breaker: one script, three actions. "inc" counts a failure inside
// the rolling window and opens the breaker at the threshold; "is_open"
// reads without mutating; "clear" resets. The count key carries the window
// as its TTL, so an idle destination forgets its failures on its own.
const circuitBreakerScript = `
local key = KEYS[1]
local action = ARGV[1]
local now = tonumber(ARGV[2])

if action == "clear" then
    redis.call("DEL", key)
    return {0, 0, 0}
end

if action == "is_open" then
    local opened = tonumber(redis.call("HGET", key, "opened_until") or "0")
    local count = tonumber(redis.call("HGET", key, "count") or "0")
    if opened > now then
        return {1, count, opened}
    end
    return {0, count, opened}
end

-- action == "inc"
local window = tonumber(ARGV[3])
local threshold = tonumber(ARGV[4])
local open_for = tonumber(ARGV[5])

local count = redis.call("HINCRBY", key, "count", 1)
redis.call("EXPIRE", key, window)

local opened = tonumber(redis.call("HGET", key, "opened_until") or "0")
if count >= threshold then
    opened = now + open_for
    redis.call("HSET", key, "opened_until", opened)
    redis.call("EXPIRE", key, window + open_for)
end

if opened > now then
    return {1, count, opened}
end
return {0, count, opened}
`

// Config tunes the limiter. Zero values take the defaults.
type Config struct {
	Capacity         float64
	RefillRate       float64 // tokens per second
	BreakerWindow    time.Duration
	BreakerThreshold int
	BreakerOpenFor   time.Duration
	GlobalRPS        int // process-local backstop in front of Redis
}

func (c *Config) withDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = defaultCapacity
	}
	if c.RefillRate <= 0 {
		c.RefillRate = defaultRefillRate
	}
	if c.BreakerWindow <= 0 {
		c.BreakerWindow = defaultBreakerWindow
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = defaultBreakerThreshold
	}
	if c.BreakerOpenFor <= 0 {
		c.BreakerOpenFor = defaultBreakerOpenFor
	}
	if c.GlobalRPS <= 0 {
		c.GlobalRPS = defaultGlobalRPS
	}
}

// Limiter is the shared admission gate for SMTP probes. Safe for concurrent
// use; all cross-process state lives in Redis.
type Limiter struct {
	redis  *redis.Client
	cfg    Config
	global *rate.Limiter

	bucketScript  *redis.Script
	breakerScript *redis.Script

	// now is injectable for tests.
	now func() time.Time
}

// New creates a Limiter with pre-compiled scripts.
func New(redisClient *redis.Client, cfg Config) *Limiter {
	cfg.withDefaults()
	return &Limiter{
		redis:         redisClient,
		cfg:           cfg,
		global:        rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalRPS),
		bucketScript:  redis.NewScript(tokenBucketScript),
		breakerScript: redis.NewScript(circuitBreakerScript),
		now:           time.Now,
	}
}

// BreakerState is the breaker's view of one destination.
type BreakerState struct {
	Open        bool
	Count       int64
	OpenedUntil time.Time
}

// Allow reports whether a probe to domain may proceed: the process-local
// limiter, the breaker, and the token bucket must all say yes, in that
// order. A denied bucket does not consume breaker state and vice versa.
func (l *Limiter) Allow(ctx context.Context, domain string) (bool, error) {
	if err := l.global.Wait(ctx); err != nil {
		return false, err
	}
	state, err := l.breaker(ctx, domain, "is_open")
	if err != nil {
		return false, err
	}
	if state.Open {
		return false, nil
	}
	allowed, _, err := l.Take(ctx, domain)
	return allowed, err
}

// Take runs the token bucket for domain, returning whether a token was
// granted and how many remain.
func (l *Limiter) Take(ctx context.Context, domain string) (bool, float64, error) {
	res, err := l.bucketScript.Run(ctx, l.redis,
		[]string{bucketKeyPrefix + domain},
		l.cfg.Capacity,
		l.cfg.RefillRate,
		float64(l.now().UnixNano())/1e9,
		bucketTTLSeconds,
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("token bucket: %w", err)
	}

	allowed := res[0].(int64) == 1
	var left float64
	if s, ok := res[1].(string); ok {
		fmt.Sscanf(s, "%f", &left)
	}
	return allowed, left, nil
}

// RecordFailure counts one probe failure against the destination and
// reports the breaker state after the increment.
func (l *Limiter) RecordFailure(ctx context.Context, dest string) (BreakerState, error) {
	return l.breaker(ctx, dest, "inc")
}

// IsOpen reports the breaker state without mutating it.
func (l *Limiter) IsOpen(ctx context.Context, dest string) (BreakerState, error) {
	return l.breaker(ctx, dest, "is_open")
}

// Clear resets the breaker for a destination after a successful probe.
func (l *Limiter) Clear(ctx context.Context, dest string) error {
	_, err := l.breaker(ctx, dest, "clear")
	return err
}

func (l *Limiter) breaker(ctx context.Context, dest, action string) (BreakerState, error) {
	args := []interface{}{action, l.now().Unix()}
	if action == "inc" {
		args = append(args,
			int(l.cfg.BreakerWindow.Seconds()),
			l.cfg.BreakerThreshold,
			int(l.cfg.BreakerOpenFor.Seconds()),
		)
	}
	res, err := l.breakerScript.Run(ctx, l.redis,
		[]string{breakerKeyPrefix + dest}, args...,
	).Slice()
	if err != nil {
		return BreakerState{}, fmt.Errorf("circuit breaker %s: %w", action, err)
	}

	state := BreakerState{
		Open:  res[0].(int64) == 1,
		Count: res[1].(int64),
	}
	if opened := res[2].(int64); opened > 0 {
		state.OpenedUntil = time.Unix(opened, 0)
	}
	return state, nil
}
