package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/beanline/beanline/internal/app"
	"github.com/beanline/beanline/internal/catalog"
	"github.com/beanline/beanline/internal/observability"
	"github.com/beanline/beanline/internal/platform/cache"
	"github.com/beanline/beanline/internal/platform/db"
	"github.com/beanline/beanline/internal/shared"
	"github.com/beanline/beanline/internal/stock"
	"github.com/beanline/beanline/jobs"
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	catalogRepo := catalog.NewRepository(pool)
	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, catalogRepo, auditLogger, redisClient, stock.ServiceConfig{
		NearExpiryWindow: cfg.NearExpiryWindow,
		AlertCacheTTL:    cfg.AlertCacheTTL,
	})

	metrics := observability.NewMetrics()
	scanner := jobs.NewExpiryScanner(logger, stockService, metrics)

	scanTask, err := jobs.NewExpiryScanTask(time.Now().UTC())
	if err != nil {
		logger.Error("build expiry scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExpiryScan, Handler: scanner.HandleExpiryScan},
			{Type: jobs.TaskStockResync, Handler: scanner.HandleStockResync},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ExpiryScanSchedule, Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
