package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/docflow/docflow/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries outbound notification deliveries.
	QueueNotifications = "notifications"
	// TaskWorkflowSweep expires pending steps past their signature window.
	TaskWorkflowSweep = "workflow:sweep"
	// TaskNotifyDeliver sends one escalated notification to its recipient.
	TaskNotifyDeliver = "notify:deliver"
)

// SweepPayload carries scheduling metadata for a sweeper run.
type SweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for,omitempty"`
	// Trigger records who asked for the run (cron or cli).
	Trigger string `json:"trigger,omitempty"`
}

// NewSweepTask constructs an Asynq task for the timeout sweeper.
func NewSweepTask(trigger string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at, Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWorkflowSweep, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(5*time.Minute)), nil
}

// NewDeliveryTask constructs a delivery task. The task id is derived from the notification so a
// notification is queued at most once.
func NewDeliveryTask(payload notify.DeliveryPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyDeliver, body,
		asynq.Queue(QueueNotifications),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
		asynq.TaskID(fmt.Sprintf("notify-%d", payload.NotificationID)),
	), nil
}
