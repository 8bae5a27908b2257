// Package jobs hosts the background task definitions and the Asynq worker
// wiring: nightly cache warmup and the token index sweep.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCacheWarmup rebuilds the shared authorization list caches.
	TaskCacheWarmup = "cache:warmup"
	// TaskTokenSweep prunes revoked entries from the per-user token indexes.
	TaskTokenSweep = "tokens:sweep"
)

// CacheWarmupPayload selects which cached views to rebuild.
type CacheWarmupPayload struct {
	Scope string `json:"scope"`
}

// TokenSweepPayload bounds how many index sets one sweep run visits.
type TokenSweepPayload struct {
	Batch int64 `json:"batch"`
}

// NewCacheWarmupTask constructs an Asynq task rebuilding the list caches.
func NewCacheWarmupTask(scope string) (*asynq.Task, error) {
	data, err := json.Marshal(CacheWarmupPayload{Scope: scope})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarmup, data), nil
}

// NewTokenSweepTask constructs an Asynq task pruning token indexes.
func NewTokenSweepTask(batch int64) (*asynq.Task, error) {
	data, err := json.Marshal(TokenSweepPayload{Batch: batch})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTokenSweep, data), nil
}
