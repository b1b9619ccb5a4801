package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/gapt-edu/gapt/internal/app"
	"github.com/gapt-edu/gapt/internal/observability"
	"github.com/gapt-edu/gapt/internal/platform/cache"
	"github.com/gapt-edu/gapt/internal/platform/db"
	"github.com/gapt-edu/gapt/jobs"
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

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			logger.Error("migrate database", slog.Any("error", err))
			os.Exit(1)
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns}, logger)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 5*time.Second)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	enqueuer := jobs.NewClient(redisOpts)
	defer func() {
		if err := enqueuer.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	portal, err := app.Build(ctx, app.Deps{
		Config:    cfg,
		Logger:    logger,
		Stores:    app.PostgresStores(pool, logger),
		Redis:     redisClient,
		Enqueuer:  enqueuer,
		Inspector: inspector,
		Metrics:   observability.NewMetrics().WithDefaultGatherer(),
		Readiness: map[string]app.Pinger{
			"postgres": pool,
			"redis": app.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
	})
	if err != nil {
		logger.Error("build portal", slog.Any("error", err))
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      portal.Handler,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return portal.WatchMatrix(gctx)
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("portal stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
