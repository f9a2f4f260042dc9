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

	"github.com/beanline/beanline/internal/app"
	"github.com/beanline/beanline/internal/catalog"
	"github.com/beanline/beanline/internal/distribution"
	"github.com/beanline/beanline/internal/observability"
	"github.com/beanline/beanline/internal/platform/cache"
	"github.com/beanline/beanline/internal/platform/db"
	"github.com/beanline/beanline/internal/purchase"
	"github.com/beanline/beanline/internal/shared"
	"github.com/beanline/beanline/internal/stock"
	"github.com/beanline/beanline/jobs"
)

func main() {
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
		// The alert cache is best-effort; the report falls back to live scans.
		logger.Warn("redis unavailable", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	numbers := shared.NewNumerator(pool)
	catalogRepo := catalog.NewRepository(pool)

	purchaseRepo := purchase.NewRepository(pool)
	purchaseService := purchase.NewService(purchaseRepo, numbers, purchase.DefaultPolicy(), auditLogger)

	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, catalogRepo, auditLogger, redisClient, stock.ServiceConfig{
		NearExpiryWindow: cfg.NearExpiryWindow,
		AlertCacheTTL:    cfg.AlertCacheTTL,
	})

	distributionRepo := distribution.NewRepository(pool)
	distributionService := distribution.NewService(distributionRepo, catalogRepo, purchaseService.Policy(), auditLogger, distribution.ServiceConfig{
		NearExpiryWindow: cfg.NearExpiryWindow,
	})

	metrics := observability.NewMetrics()

	var jobsHandler *jobs.Handler
	if redisClient != nil {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		jobsClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Warn("jobs client unavailable", slog.Any("error", err))
		} else {
			defer func() {
				if err := jobsClient.Close(); err != nil {
					logger.Warn("jobs client close", slog.Any("error", err))
				}
			}()
			jobsHandler = jobs.NewHandler(asynq.NewInspector(redisOpts), jobsClient, logger)
		}
	}

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		PurchaseHandler:     purchase.NewHandler(logger, purchaseService),
		StockHandler:        stock.NewHandler(logger, stockService),
		DistributionHandler: distribution.NewHandler(logger, distributionService),
		JobsHandler:         jobsHandler,
		Pool:                pool,
		Metrics:             metrics,
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
