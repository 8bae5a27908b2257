package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gatekeep-api/gatekeep/internal/auth"
	_ "github.com/gatekeep-api/gatekeep/testing"
)

func newThrottle(t *testing.T, max int64, window time.Duration) (*auth.Throttle, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return auth.NewThrottle(client, nil, max, window), mr
}

func TestThrottleBlocksAfterMaxAttempts(t *testing.T) {
	throttle, _ := newThrottle(t, 5, 15*time.Minute)
	ctx := context.Background()
	const email = "victim@test.local"

	for i := 0; i < 4; i++ {
		throttle.RecordFailure(ctx, email)
		if throttle.IsBlocked(ctx, email) {
			t.Fatalf("blocked after %d failures", i+1)
		}
	}
	throttle.RecordFailure(ctx, email)
	if !throttle.IsBlocked(ctx, email) {
		t.Fatal("expected block after fifth failure")
	}
}

func TestThrottleWindowNotExtendedByLaterFailures(t *testing.T) {
	throttle, mr := newThrottle(t, 5, 15*time.Minute)
	ctx := context.Background()
	const email = "victim@test.local"

	throttle.RecordFailure(ctx, email)
	mr.FastForward(10 * time.Minute)
	throttle.RecordFailure(ctx, email)

	// Only the first failure armed the TTL; the second did not rewind it.
	mr.FastForward(5 * time.Minute)
	if throttle.IsBlocked(ctx, email) {
		t.Fatal("expected counter to expire on the original clock")
	}
	if mr.Exists("failed_login_attempts:" + email) {
		t.Fatal("expected counter key to be gone")
	}
}

func TestThrottleClearResetsCounter(t *testing.T) {
	throttle, _ := newThrottle(t, 2, time.Minute)
	ctx := context.Background()
	const email = "victim@test.local"

	throttle.RecordFailure(ctx, email)
	throttle.RecordFailure(ctx, email)
	if !throttle.IsBlocked(ctx, email) {
		t.Fatal("expected block")
	}

	throttle.Clear(ctx, email)
	if throttle.IsBlocked(ctx, email) {
		t.Fatal("expected clear to unblock")
	}
}

func TestThrottleFailsOpenWhenRedisDown(t *testing.T) {
	throttle, mr := newThrottle(t, 1, time.Minute)
	ctx := context.Background()
	const email = "victim@test.local"

	throttle.RecordFailure(ctx, email)
	mr.Close()

	if throttle.IsBlocked(ctx, email) {
		t.Fatal("expected fail-open when store is unreachable")
	}
}
