package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Quota describes one rate-limit scope: N points per rolling window, with an
// optional extra block once the window is exceeded. Scopes never share
// counters; the Name prefixes every key.
type Quota struct {
	Name   string
	Points int
	Window time.Duration
	Block  time.Duration // 0 means no block beyond the window itself
}

// Result is the outcome of consuming one point from a quota.
type Result struct {
	Allowed    bool
	Remaining  int
	Reset      time.Duration // time until the current window resets
	RetryAfter time.Duration // set when denied
}

// QuotaStore is the counter backend for the rate limiter. Implementations
// must be safe for concurrent use.
type QuotaStore interface {
	Consume(ctx context.Context, q Quota, identity string) (Result, error)
}

// RedisQuotaStore counts against shared Redis counters. Keys are bucketed by
// window so expiry needs no coordination; a breach with a block duration
// writes a separate block key.
type RedisQuotaStore struct {
	client *redis.Client
}

func NewRedisQuotaStore(client *redis.Client) *RedisQuotaStore {
	return &RedisQuotaStore{client: client}
}

func (s *RedisQuotaStore) Consume(ctx context.Context, q Quota, identity string) (Result, error) {
	now := time.Now()
	windowSecs := int64(q.Window.Seconds())
	bucket := now.Unix() / windowSecs
	key := fmt.Sprintf("quota:%s:%s:%d", q.Name, identity, bucket)
	blockKey := fmt.Sprintf("quota:%s:%s:block", q.Name, identity)

	if q.Block > 0 {
		ttl, err := s.client.TTL(ctx, blockKey).Result()
		if err != nil {
			return Result{}, fmt.Errorf("quota block lookup: %w", err)
		}
		if ttl > 0 {
			return Result{Allowed: false, Reset: ttl, RetryAfter: ttl}, nil
		}
	}

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, q.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("quota increment: %w", err)
	}

	reset := time.Duration(windowSecs-now.Unix()%windowSecs) * time.Second
	count := int(incr.Val())
	if count > q.Points {
		retry := reset
		if q.Block > 0 {
			if err := s.client.Set(ctx, blockKey, 1, q.Block).Err(); err != nil {
				return Result{}, fmt.Errorf("quota block set: %w", err)
			}
			retry = q.Block
		}
		return Result{Allowed: false, Reset: reset, RetryAfter: retry}, nil
	}

	return Result{Allowed: true, Remaining: q.Points - count, Reset: reset}, nil
}

const quotaStoreRetryInterval = 30 * time.Second

// Limiter is the quota gate in front of the proxy path. It consumes from the
// shared store and falls back transparently to in-process counters while the
// store is unavailable, re-probing it after a cooldown. It never returns an
// error: infrastructure failure degrades the limiter, it does not block the
// wrapped service.
type Limiter struct {
	store    QuotaStore
	fallback QuotaStore
	logger   zerolog.Logger

	mu            sync.Mutex
	degradedUntil time.Time
}

func NewLimiter(store QuotaStore, logger zerolog.Logger) *Limiter {
	return &Limiter{
		store:    store,
		fallback: NewMemoryQuotaStore(),
		logger:   logger,
	}
}

// Consume takes one point from the quota for the given identity.
func (l *Limiter) Consume(ctx context.Context, q Quota, identity string) Result {
	if l.store == nil || l.degraded() {
		return l.consumeFallback(ctx, q, identity)
	}

	res, err := l.store.Consume(ctx, q, identity)
	if err != nil {
		l.markDegraded()
		l.logger.Warn().Err(err).Str("scope", q.Name).
			Msg("quota store unavailable, falling back to in-memory limits")
		return l.consumeFallback(ctx, q, identity)
	}
	return res
}

func (l *Limiter) consumeFallback(ctx context.Context, q Quota, identity string) Result {
	res, err := l.fallback.Consume(ctx, q, identity)
	if err != nil {
		// Fail open: a limiter error must never take down the service.
		l.logger.Error().Err(err).Str("scope", q.Name).Msg("fallback limiter error, allowing request")
		return Result{Allowed: true, Remaining: q.Points}
	}
	return res
}

func (l *Limiter) degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Now().Before(l.degradedUntil)
}

func (l *Limiter) markDegraded() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.degradedUntil = time.Now().Add(quotaStoreRetryInterval)
}
