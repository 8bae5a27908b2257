package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gatekeep-api/gatekeep/internal/cache"
	_ "github.com/gatekeep-api/gatekeep/testing"
)

func newStore(t *testing.T) (*cache.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.NewStore(client, nil), mr
}

func TestRememberComputesAndStoresOnMiss(t *testing.T) {
	store, mr := newStore(t)

	calls := 0
	var got []string
	err := store.Remember(context.Background(), "k", time.Minute, &got, func(ctx context.Context) (any, error) {
		calls++
		return []string{"a", "b"}, nil
	})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one loader call, got %d", calls)
	}
	if len(got) != 2 || got[0] != "a" {
		t.Fatalf("unexpected value: %v", got)
	}
	if !mr.Exists("k") {
		t.Fatalf("expected key to be stored")
	}
	if ttl := mr.TTL("k"); ttl != time.Minute {
		t.Fatalf("expected ttl 1m, got %v", ttl)
	}
}

func TestRememberServesHitWithoutLoader(t *testing.T) {
	store, _ := newStore(t)

	seed := func(ctx context.Context) (any, error) { return "cached", nil }
	var first string
	if err := store.Remember(context.Background(), "k", time.Minute, &first, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var second string
	err := store.Remember(context.Background(), "k", time.Minute, &second, func(ctx context.Context) (any, error) {
		t.Fatal("loader must not run on a hit")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if second != "cached" {
		t.Fatalf("unexpected value: %q", second)
	}
}

func TestRememberFailsOpenWhenRedisDown(t *testing.T) {
	store, mr := newStore(t)
	mr.Close()

	var got int
	err := store.Remember(context.Background(), "k", time.Minute, &got, func(ctx context.Context) (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("expected fail-open compute, got %v", err)
	}
	if got != 42 {
		t.Fatalf("unexpected value: %d", got)
	}
}

func TestRememberPropagatesLoaderError(t *testing.T) {
	store, _ := newStore(t)

	boom := errors.New("boom")
	var got int
	err := store.Remember(context.Background(), "k", time.Minute, &got, func(ctx context.Context) (any, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
}

func TestForgetEvictsKeys(t *testing.T) {
	store, mr := newStore(t)

	var v string
	seed := func(ctx context.Context) (any, error) { return "v", nil }
	if err := store.Remember(context.Background(), "a", time.Minute, &v, seed); err != nil {
		t.Fatalf("seed a: %v", err)
	}
	if err := store.Remember(context.Background(), "b", time.Minute, &v, seed); err != nil {
		t.Fatalf("seed b: %v", err)
	}

	store.Forget(context.Background(), "a", "b")

	if mr.Exists("a") || mr.Exists("b") {
		t.Fatalf("expected keys to be evicted")
	}
}

func TestNilClientBypassesCache(t *testing.T) {
	store := cache.NewStore(nil, nil)

	calls := 0
	var got string
	for i := 0; i < 2; i++ {
		if err := store.Remember(context.Background(), "k", time.Minute, &got, func(ctx context.Context) (any, error) {
			calls++
			return "v", nil
		}); err != nil {
			t.Fatalf("remember: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected loader to run every time, got %d calls", calls)
	}
}
