package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/docflow/docflow/internal/jobs"
	"github.com/docflow/docflow/internal/workflow"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const defaultKeyRetention = 7 * 24 * time.Hour

// Sweeper is the part of the workflow service the sweep job drives.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (workflow.SweepResult, error)
}

// KeyJanitor prunes stale idempotency keys.
type KeyJanitor interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// SweepJob runs the timeout sweeper from the scheduler or an on-demand trigger.
type SweepJob struct {
	Sweeper Sweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	// Keys is optional. When set, keys older than KeyRetention are dropped after each sweep.
	Keys         KeyJanitor
	KeyRetention time.Duration
	clock        func() time.Time
}

// NewSweepJob wires dependencies for the sweep handler.
func NewSweepJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *SweepJob {
	return &SweepJob{
		Sweeper: sweeper,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskWorkflowSweep tasks. The sweep time is the processing time, not the
// scheduled time, so a delayed run never expires steps early.
func (j *SweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("workflow sweep: handler not configured")
	}
	var payload SweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload.Trigger)
	return err
}

// Run executes one sweep and records its metrics.
func (j *SweepJob) Run(ctx context.Context, trigger string) (workflow.SweepResult, error) {
	tracker := j.metrics().Track(TaskWorkflowSweep)
	logger := j.logger().With(slog.String("trigger", trigger))

	res, err := j.Sweeper.Sweep(ctx, j.now())
	j.metrics().AddExpired(res.Expired)
	if err != nil {
		logger.Error("sweep failed", slog.Any("error", err))
		return res, tracker.End(err)
	}
	if j.Keys != nil {
		retention := j.KeyRetention
		if retention <= 0 {
			retention = defaultKeyRetention
		}
		if err := j.Keys.Cleanup(ctx, retention); err != nil {
			logger.Warn("idempotency cleanup failed", slog.Any("error", err))
		}
	}
	if res.Failed > 0 {
		logger.Warn("sweep finished with failures", slog.Int("failed", res.Failed), slog.Int("expired", res.Expired))
	} else {
		logger.Debug("sweep finished", slog.Int("scanned", res.Scanned), slog.Int("expired", res.Expired))
	}
	return res, tracker.End(nil)
}

func (j *SweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskWorkflowSweep))
	}
	return slog.Default().With(slog.String("job", TaskWorkflowSweep))
}

func (j *SweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
