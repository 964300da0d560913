package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/docflow/docflow/internal/app"
	jobmetrics "github.com/docflow/docflow/internal/jobs"
	"github.com/docflow/docflow/internal/notify"
	"github.com/docflow/docflow/internal/platform/cache"
	"github.com/docflow/docflow/internal/platform/db"
	"github.com/docflow/docflow/jobs"
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

	pool, err := db.New(ctx, cfg.Postgres("worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis("worker"))
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := cfg.Queue()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		_ = jobClient.Close()
	}()

	services, err := app.BuildServices(ctx, app.ServiceDeps{
		Config:     cfg,
		Logger:     logger,
		Pool:       pool,
		Redis:      redisClient,
		Dispatcher: jobClient,
	})
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}

	mailer, err := app.NewMailer(ctx, cfg, logger)
	if err != nil {
		logger.Error("build mailer", slog.Any("error", err))
		os.Exit(1)
	}
	metrics := jobmetrics.NewMetrics(nil)
	sweepJob := jobs.NewSweepJob(services.Workflow, logger, metrics)
	sweepJob.Keys = services.Idempotency
	deliveryJob := jobs.NewDeliveryJob(notify.NewDeliverer(services.Directory, mailer, logger), logger, metrics)

	sweepTask, err := jobs.NewSweepTask("cron", time.Time{})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskWorkflowSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskNotifyDeliver, Handler: deliveryJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: sweepTask, Options: []asynq.Option{asynq.Unique(time.Minute)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("sweep_cron", cfg.SweepCron), slog.Duration("sla", cfg.WorkflowSLA))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
