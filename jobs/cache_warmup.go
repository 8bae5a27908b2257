package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/gatekeep-api/gatekeep/internal/jobs"
	"github.com/gatekeep-api/gatekeep/internal/permissions"
	"github.com/gatekeep-api/gatekeep/internal/roles"
	"github.com/gatekeep-api/gatekeep/internal/users"
)

// CacheWarmupJob repopulates the shared list caches ahead of traffic. Reading
// through the services is enough: a read on a cold key computes and stores the
// entry.
type CacheWarmupJob struct {
	roles       *roles.Service
	permissions *permissions.Service
	users       *users.Service
	logger      *slog.Logger
	metrics     *jobmetrics.Metrics
}

// NewCacheWarmupJob constructs a CacheWarmupJob.
func NewCacheWarmupJob(rolesSvc *roles.Service, permissionsSvc *permissions.Service, usersSvc *users.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmupJob {
	return &CacheWarmupJob{
		roles:       rolesSvc,
		permissions: permissionsSvc,
		users:       usersSvc,
		logger:      logger,
		metrics:     metrics,
	}
}

// Handle processes TaskCacheWarmup tasks.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload CacheWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("cache_warmup")
	return tracker.End(j.run(ctx, payload.Scope))
}

func (j *CacheWarmupJob) run(ctx context.Context, scope string) error {
	if scope == "" {
		scope = "all"
	}
	if scope == "all" || scope == "roles" {
		if _, err := j.roles.ListRoles(ctx); err != nil {
			return err
		}
	}
	if scope == "all" || scope == "permissions" {
		if _, err := j.permissions.ListPermissions(ctx); err != nil {
			return err
		}
	}
	if scope == "all" || scope == "users" {
		if _, err := j.users.ListUsers(ctx); err != nil {
			return err
		}
	}
	j.logger.Info("cache warmup completed", slog.String("scope", scope))
	return nil
}
