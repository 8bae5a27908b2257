package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/gatekeep-api/gatekeep/internal/app"
	"github.com/gatekeep-api/gatekeep/internal/auth"
	"github.com/gatekeep-api/gatekeep/internal/cache"
	"github.com/gatekeep-api/gatekeep/internal/observability"
	platformcache "github.com/gatekeep-api/gatekeep/internal/platform/cache"
	"github.com/gatekeep-api/gatekeep/internal/platform/db"
	"github.com/gatekeep-api/gatekeep/internal/permissions"
	"github.com/gatekeep-api/gatekeep/internal/ratelimit"
	"github.com/gatekeep-api/gatekeep/internal/rbac"
	"github.com/gatekeep-api/gatekeep/internal/respcache"
	"github.com/gatekeep-api/gatekeep/internal/roles"
	"github.com/gatekeep-api/gatekeep/internal/users"
	"github.com/gatekeep-api/gatekeep/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := platformcache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// The API stays up without redis: cache layers fail open and the
		// throttle and limiter degrade to pass-through.
		logger.Warn("redis unavailable, cache layers fail open", slog.Any("error", err))
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	store := cache.NewStore(redisClient, logger)
	store.OnLookup(metrics.CacheLookup)

	rbacRepo := rbac.NewRepository(dbpool)
	rbacService := rbac.NewService(rbacRepo, store, logger)
	invalidator := rbac.NewInvalidator(store, rbacRepo, logger)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	tokenStore := auth.NewTokenStore(redisClient)
	throttle := auth.NewThrottle(redisClient, logger, cfg.LoginMaxAttempts, cfg.LoginAttemptWindow)
	throttle.OnBlock(metrics.LoginBlocked)
	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo, tokenStore, throttle, rbacService, invalidator, logger, cfg.BcryptCost)
	authHandler := auth.NewHandler(logger, authService)
	authMiddleware := auth.Middleware{Service: authService, Logger: logger}

	limiter := ratelimit.NewLimiter(redisClient, logger)
	limiter.OnReject(metrics.RateLimited)
	responses := respcache.New(redisClient, logger, cfg.ResponseCacheTTL)

	rolesService := roles.NewService(rbacRepo, store, invalidator, logger)
	rolesHandler := roles.NewHandler(logger, rolesService, rbacMiddleware, responses)

	permissionsService := permissions.NewService(rbacRepo, store, invalidator, logger)
	permissionsHandler := permissions.NewHandler(logger, permissionsService, rbacMiddleware, responses)

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo, rbacRepo, rbacService, store, invalidator, logger)
	usersHandler := users.NewHandler(logger, usersService, rbacMiddleware, responses)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, jobsClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthHandler:        authHandler,
		AuthMiddleware:     authMiddleware,
		RBACMiddleware:     rbacMiddleware,
		RolesHandler:       rolesHandler,
		PermissionsHandler: permissionsHandler,
		UsersHandler:       usersHandler,
		JobsHandler:        jobsHandler,
		Limiter:            limiter,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
