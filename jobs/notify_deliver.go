package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/docflow/docflow/internal/jobs"
	"github.com/docflow/docflow/internal/notify"
)

// Deliverer sends one notification through an external channel.
type Deliverer interface {
	Deliver(ctx context.Context, payload notify.DeliveryPayload) error
}

// DeliveryJob processes TaskNotifyDeliver tasks.
type DeliveryJob struct {
	Deliverer Deliverer
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewDeliveryJob wires dependencies for the delivery handler.
func NewDeliveryJob(deliverer Deliverer, logger *slog.Logger, metrics *jobmetrics.Metrics) *DeliveryJob {
	return &DeliveryJob{Deliverer: deliverer, Logger: logger, Metrics: metrics}
}

// Handle delivers the notification. Recipients without a contact address are skipped without
// retry; transport errors are returned so asynq retries with backoff.
func (j *DeliveryJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Deliverer == nil {
		return errors.New("notify deliver: handler not configured")
	}
	var payload notify.DeliveryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskNotifyDeliver)
	logger := j.logger().With(slog.Int64("notification_id", payload.NotificationID), slog.Int64("recipient_id", payload.RecipientID))

	err := j.Deliverer.Deliver(ctx, payload)
	switch {
	case err == nil:
		j.metrics().ObserveDelivery("sent")
		return tracker.End(nil)
	case errors.Is(err, notify.ErrNoContact):
		j.metrics().ObserveDelivery("skipped")
		logger.Info("notification recipient has no contact address")
		_ = tracker.End(nil)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		j.metrics().ObserveDelivery("failed")
		logger.Warn("deliver notification", slog.Any("error", err))
		return tracker.End(err)
	}
}

func (j *DeliveryJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskNotifyDeliver))
	}
	return slog.Default().With(slog.String("job", TaskNotifyDeliver))
}

func (j *DeliveryJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
