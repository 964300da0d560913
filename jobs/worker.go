package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
)

const defaultConcurrency = 5

// queueWeights gives deliveries priority over sweeps.
var queueWeights = map[string]int{
	QueueDefault:       1,
	QueueNotifications: 2,
}

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration schedules a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects what the worker process needs.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// Worker runs the asynq server and, when cron entries exist, the scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

func (cfg WorkerConfig) validate() error {
	if len(cfg.Handlers) == 0 {
		return errors.New("jobs: no task handlers")
	}
	seen := make(map[string]struct{}, len(cfg.Handlers))
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			return fmt.Errorf("jobs: incomplete handler %q", h.Type)
		}
		if _, dup := seen[h.Type]; dup {
			return fmt.Errorf("jobs: duplicate handler %q", h.Type)
		}
		seen[h.Type] = struct{}{}
	}
	for i, entry := range cfg.Cron {
		if entry.Spec == "" || entry.Task == nil {
			return fmt.Errorf("jobs: cron entry %d is incomplete", i)
		}
		if _, ok := seen[entry.Task.Type()]; !ok {
			return fmt.Errorf("jobs: cron entry %d schedules %q without a handler", i, entry.Task.Type())
		}
	}
	return nil
}

// NewWorker validates cfg and builds the server, mux and scheduler.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues:      queueWeights,
		Logger:      asynqLogger{logger: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warn("task failed",
				slog.String("task", task.Type()),
				slog.Int("retry", retried),
				slog.Int("max_retry", maxRetry),
				slog.Any("error", err))
		}),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		mux.HandleFunc(h.Type, h.Handler)
	}

	w := &Worker{server: srv, mux: mux, logger: logger}
	if len(cfg.Cron) == 0 {
		return w, nil
	}
	w.scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   asynqLogger{logger: logger},
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
				logger.Error("scheduled enqueue", slog.Any("error", err))
			}
		},
	})
	for _, entry := range cfg.Cron {
		if _, err := w.scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
			return nil, fmt.Errorf("jobs: register %s on %q: %w", entry.Task.Type(), entry.Spec, err)
		}
	}
	return w, nil
}

// Run processes tasks until ctx is cancelled, then drains in-flight work.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("jobs: worker not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return fmt.Errorf("jobs: start scheduler: %w", err)
		}
		defer w.scheduler.Shutdown()
	}
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("jobs: start server: %w", err)
	}
	<-ctx.Done()
	w.logger.Info("worker draining")
	w.server.Shutdown()
	return ctx.Err()
}

// asynqLogger routes asynq's internal logging through slog.
type asynqLogger struct {
	logger *slog.Logger
}

func (l asynqLogger) log() *slog.Logger {
	base := l.logger
	if base == nil {
		base = slog.Default()
	}
	return base.With(slog.String("component", "asynq"))
}

func (l asynqLogger) Debug(args ...any) { l.log().Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log().Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log().Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log().Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) {
	l.log().Error(fmt.Sprint(args...))
	os.Exit(1)
}
