// Package ratelimit implements the per-identity request throttle.
//
// Counters live in Redis under the rate_limit: keyspace, independent from the
// login throttle. The limiter fails open: if the store is unreachable the
// request passes through with a logged warning rather than blocking traffic.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int
	ResetAt    int64
}

// Limiter counts requests per identifier and route in a fixed window.
type Limiter struct {
	client   *redis.Client
	logger   *slog.Logger
	onReject func()
}

// NewLimiter constructs a Limiter.
func NewLimiter(client *redis.Client, logger *slog.Logger) *Limiter {
	return &Limiter{client: client, logger: logger}
}

// OnReject registers a hook invoked for every blocked request. Must be called
// before the limiter is shared across goroutines.
func (l *Limiter) OnReject(hook func()) {
	l.onReject = hook
}

// Allow admits or blocks one request. The blocking check runs against the
// pre-increment count; the current request is still counted when admitted,
// so the limit-th request passes and the one after it blocks.
func (l *Limiter) Allow(ctx context.Context, identifier, route string, limit int, window time.Duration) Decision {
	open := Decision{Allowed: true, Limit: limit, Remaining: limit - 1, ResetAt: time.Now().Add(window).Unix()}
	if l == nil || l.client == nil {
		return open
	}
	key := "rate_limit:" + identifier + ":" + route

	count, err := l.client.Get(ctx, key).Int64()
	if err != nil && err != redis.Nil {
		l.warn(key, err)
		return open
	}
	if count >= int64(limit) {
		if l.onReject != nil {
			l.onReject()
		}
		retry := l.secondsToReset(ctx, key, window)
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: retry,
			ResetAt:    time.Now().Unix() + int64(retry),
		}
	}

	incremented, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.warn(key, err)
		return open
	}
	if incremented == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			l.warn(key, err)
		}
	}

	remaining := limit - int(incremented)
	if remaining < 0 {
		remaining = 0
	}
	reset := l.secondsToReset(ctx, key, window)
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.Now().Unix() + int64(reset),
	}
}

func (l *Limiter) secondsToReset(ctx context.Context, key string, window time.Duration) int {
	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return int(window / time.Second)
	}
	return int((ttl + time.Second - 1) / time.Second)
}

func (l *Limiter) warn(key string, err error) {
	if l.logger != nil {
		l.logger.Warn("rate limiter unavailable, failing open",
			slog.String("key", key), slog.Any("error", err))
	}
}
