package auth

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const failedLoginPrefix = "failed_login_attempts:"

// Throttle tracks failed login attempts per email. The counter is created
// with the window TTL on the first failure and never extended by later
// failures, so only the original clock counts down a block.
//
// Redis outages fail open: a throttle that cannot be read never blocks a
// login, it only loses bookkeeping.
type Throttle struct {
	client      *redis.Client
	logger      *slog.Logger
	maxAttempts int64
	window      time.Duration
	onBlock     func()
}

// NewThrottle constructs a Throttle.
func NewThrottle(client *redis.Client, logger *slog.Logger, maxAttempts int64, window time.Duration) *Throttle {
	return &Throttle{client: client, logger: logger, maxAttempts: maxAttempts, window: window}
}

// OnBlock registers a hook invoked whenever a login is rejected by the
// throttle. Must be called before the throttle is shared across goroutines.
func (t *Throttle) OnBlock(hook func()) {
	t.onBlock = hook
}

// IsBlocked reports whether the identifier reached the failure threshold
// within the current window.
func (t *Throttle) IsBlocked(ctx context.Context, email string) bool {
	if t == nil || t.client == nil {
		return false
	}
	raw, err := t.client.Get(ctx, failedLoginPrefix+email).Result()
	if err != nil {
		if err != redis.Nil && t.logger != nil {
			t.logger.Warn("login throttle read failed, allowing attempt", slog.Any("error", err))
		}
		return false
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	if count >= t.maxAttempts {
		if t.onBlock != nil {
			t.onBlock()
		}
		return true
	}
	return false
}

// RecordFailure counts one failed attempt. Callers must check IsBlocked
// first: failures while blocked are not recorded, keeping the original
// window authoritative.
func (t *Throttle) RecordFailure(ctx context.Context, email string) {
	if t == nil || t.client == nil {
		return
	}
	key := failedLoginPrefix + email
	count, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		if t.logger != nil {
			t.logger.Warn("login throttle increment failed", slog.Any("error", err))
		}
		return
	}
	if count == 1 {
		if err := t.client.Expire(ctx, key, t.window).Err(); err != nil && t.logger != nil {
			t.logger.Warn("login throttle expire failed", slog.Any("error", err))
		}
	}
}

// Clear resets the counter on a successful login.
func (t *Throttle) Clear(ctx context.Context, email string) {
	if t == nil || t.client == nil {
		return
	}
	if err := t.client.Del(ctx, failedLoginPrefix+email).Err(); err != nil && t.logger != nil {
		t.logger.Warn("login throttle clear failed", slog.Any("error", err))
	}
}
