package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/docflow/docflow/cmd/docflow/cli"
	"github.com/docflow/docflow/internal/app"
	audithttp "github.com/docflow/docflow/internal/audit/http"
	"github.com/docflow/docflow/internal/funds"
	"github.com/docflow/docflow/internal/notify"
	"github.com/docflow/docflow/internal/observability"
	"github.com/docflow/docflow/internal/platform/cache"
	"github.com/docflow/docflow/internal/platform/db"
	"github.com/docflow/docflow/internal/workflow"
	"github.com/docflow/docflow/jobs"
	"github.com/docflow/docflow/report"
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

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		if err := serve(ctx, stop, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	case "sweep":
		os.Exit(runSweep(ctx, cfg, logger, args))
	case "queues":
		os.Exit(runQueues(ctx, cfg))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "usage: docflow [serve|sweep [--inline] [--json]|queues]\n")
		os.Exit(2)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.Postgres("api"))
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis("api"))
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := cfg.Queue()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		_ = inspector.Close()
	}()

	metrics := observability.NewMetrics()
	services, err := app.BuildServices(ctx, app.ServiceDeps{
		Config:     cfg,
		Logger:     logger,
		Pool:       pool,
		Redis:      redisClient,
		Dispatcher: jobClient,
		Observer:   metrics,
	})
	if err != nil {
		return err
	}

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Database:        pool,
		WorkflowHandler: workflow.NewHandler(logger, services.Workflow),
		FundsHandler:    funds.NewHandler(logger, services.Funds),
		NotifyHandler:   notify.NewHandler(services.Notifications, logger),
		AuditHandler:    audithttp.NewHandler(logger, services.Audit),
		ReportHandler:   report.NewHandler(services.PDF, logger),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
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
	return nil
}

func runSweep(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	inline := fs.Bool("inline", false, "run the sweep in this process instead of queueing it")
	jsonOut := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	opts := cli.SweepOptions{Inline: *inline, JSONOutput: *jsonOut}

	if !*inline {
		jobsCLI, err := cli.NewJobsCLI(cfg.Queue())
		if err != nil {
			logger.Error("init jobs cli", slog.Any("error", err))
			return 1
		}
		defer func() {
			_ = jobsCLI.Close()
		}()
		opts.Enqueue = func(ctx context.Context) (string, error) {
			info, err := jobsCLI.Trigger(ctx, jobs.TaskWorkflowSweep)
			if err != nil {
				return "", err
			}
			return info.ID, nil
		}
		return cli.SweepCommand(ctx, opts)
	}

	pool, err := db.New(ctx, cfg.Postgres("sweep"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	redisClient, err := cache.New(ctx, cfg.Redis("sweep"))
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		return 1
	}
	defer func() {
		_ = redisClient.Close()
	}()
	jobClient, err := jobs.NewClient(cfg.Queue())
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		return 1
	}
	defer func() {
		_ = jobClient.Close()
	}()

	services, err := app.BuildServices(ctx, app.ServiceDeps{Config: cfg, Logger: logger, Pool: pool, Redis: redisClient, Dispatcher: jobClient})
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		return 1
	}
	opts.Sweeper = services.Workflow
	return cli.SweepCommand(ctx, opts)
}

func runQueues(ctx context.Context, cfg *app.Config) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.Queue())
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "queues: %v\n", err)
		return 1
	}
	defer func() {
		_ = jobsCLI.Close()
	}()
	stats, err := jobsCLI.InspectQueues(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "queues: %v\n", err)
		return 1
	}
	if err := json.NewEncoder(os.Stdout).Encode(stats); err != nil {
		return 1
	}
	return 0
}
