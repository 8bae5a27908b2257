package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/gatekeep-api/gatekeep/internal/app"
	"github.com/gatekeep-api/gatekeep/internal/cache"
	jobmetrics "github.com/gatekeep-api/gatekeep/internal/jobs"
	"github.com/gatekeep-api/gatekeep/internal/permissions"
	platformcache "github.com/gatekeep-api/gatekeep/internal/platform/cache"
	"github.com/gatekeep-api/gatekeep/internal/platform/db"
	"github.com/gatekeep-api/gatekeep/internal/rbac"
	"github.com/gatekeep-api/gatekeep/internal/roles"
	"github.com/gatekeep-api/gatekeep/internal/users"
	"github.com/gatekeep-api/gatekeep/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := platformcache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store := cache.NewStore(redisClient, logger)
	rbacRepo := rbac.NewRepository(pool)
	rbacService := rbac.NewService(rbacRepo, store, logger)
	invalidator := rbac.NewInvalidator(store, rbacRepo, logger)

	rolesService := roles.NewService(rbacRepo, store, invalidator, logger)
	permissionsService := permissions.NewService(rbacRepo, store, invalidator, logger)
	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, rbacRepo, rbacService, store, invalidator, logger)

	metrics := jobmetrics.NewMetrics(nil)
	warmupJob := jobs.NewCacheWarmupJob(rolesService, permissionsService, usersService, logger, metrics)
	sweepJob := jobs.NewTokenSweepJob(redisClient, logger, metrics)

	warmupTask, err := jobs.NewCacheWarmupTask("all")
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewTokenSweepTask(100)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCacheWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskTokenSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 1 * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 1 * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
