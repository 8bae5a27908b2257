package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/gatekeep-api/gatekeep/internal/jobs"
)

const userTokenIndexPattern = "user_tokens:*"

// TokenSweepJob removes dangling members from the per-user token index sets.
// Token records can disappear independently of the index (manual flushes,
// key eviction), leaving SMembers entries that point at nothing.
type TokenSweepJob struct {
	client  *redis.Client
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewTokenSweepJob constructs a TokenSweepJob.
func NewTokenSweepJob(client *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *TokenSweepJob {
	return &TokenSweepJob{client: client, logger: logger, metrics: metrics}
}

// Handle processes TaskTokenSweep tasks.
func (j *TokenSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload TokenSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("token_sweep")
	return tracker.End(j.run(ctx, payload.Batch))
}

func (j *TokenSweepJob) run(ctx context.Context, batch int64) error {
	if batch <= 0 {
		batch = 100
	}
	var (
		cursor  uint64
		removed int
		visited int
	)
	for {
		keys, next, err := j.client.Scan(ctx, cursor, userTokenIndexPattern, batch).Result()
		if err != nil {
			return err
		}
		for _, indexKey := range keys {
			visited++
			pruned, err := j.sweepIndex(ctx, indexKey)
			if err != nil {
				return err
			}
			removed += pruned
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	j.logger.Info("token sweep completed",
		slog.Int("indexes_visited", visited), slog.Int("entries_removed", removed))
	return nil
}

func (j *TokenSweepJob) sweepIndex(ctx context.Context, indexKey string) (int, error) {
	members, err := j.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, tokenKey := range members {
		exists, err := j.client.Exists(ctx, tokenKey).Result()
		if err != nil {
			return removed, err
		}
		if exists == 0 {
			if err := j.client.SRem(ctx, indexKey, tokenKey).Err(); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
