// Package cache implements the shared read-through cache store.
//
// Reads populate on miss with a TTL ceiling; writers evict explicitly via
// Forget instead of updating entries in place. When Redis is unreachable the
// store degrades to computing values directly so requests keep flowing.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Store wraps Redis with loader-based memoization.
type Store struct {
	client   *redis.Client
	logger   *slog.Logger
	group    singleflight.Group
	onLookup func(outcome string)
}

// NewStore constructs a Store. A nil client is allowed and bypasses caching
// entirely, which keeps test doubles and degraded startups trivial.
func NewStore(client *redis.Client, logger *slog.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// OnLookup registers a hook observing lookup outcomes: hit, miss or bypass.
// Must be called before the store is shared across goroutines.
func (s *Store) OnLookup(hook func(outcome string)) {
	s.onLookup = hook
}

// Remember loads the value for key into dest, invoking loader and storing the
// result with the given TTL on a miss. Concurrent in-process misses for the
// same key share a single compute; duplicate computes across processes are
// accepted and converge to the same cached value.
func (s *Store) Remember(ctx context.Context, key string, ttl time.Duration, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if s == nil || s.client == nil {
		if s != nil {
			s.observe("bypass")
		}
		return s.loadDirect(ctx, dest, loader)
	}

	raw, err, _ := s.group.Do(key, func() (any, error) {
		payload, err := s.client.Get(ctx, key).Bytes()
		if err == nil {
			s.observe("hit")
			return payload, nil
		}
		if !errors.Is(err, redis.Nil) {
			s.warn("cache get failed, computing directly", key, err)
			s.observe("bypass")
			return s.computeRaw(ctx, loader)
		}
		s.observe("miss")
		raw, err := s.computeRaw(ctx, loader)
		if err != nil {
			return nil, err
		}
		if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
			s.warn("cache set failed", key, err)
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dest)
}

// Forget removes entries unconditionally. The next access recomputes. Eviction
// is best effort: an unreachable cache only widens the staleness window to the
// entry TTL, it never fails the mutation.
func (s *Store) Forget(ctx context.Context, keys ...string) {
	if s == nil || s.client == nil || len(keys) == 0 {
		return
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.warn("cache forget failed", keys[0], err)
	}
}

func (s *Store) loadDirect(ctx context.Context, dest any, loader func(context.Context) (any, error)) error {
	raw, err := s.computeRaw(ctx, loader)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func (s *Store) computeRaw(ctx context.Context, loader func(context.Context) (any, error)) ([]byte, error) {
	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(value)
}

func (s *Store) observe(outcome string) {
	if s.onLookup != nil {
		s.onLookup(outcome)
	}
}

func (s *Store) warn(msg, key string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, slog.String("key", key), slog.Any("error", err))
	}
}
