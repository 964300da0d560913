package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/docflow/docflow/internal/notify"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client enqueues workflow tasks. It satisfies notify.Dispatcher.
type Client struct {
	client enqueuer
}

// NewClient constructs an asynq backed client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueDelivery queues an external notification delivery. A notification already queued is
// not an error.
func (c *Client) EnqueueDelivery(ctx context.Context, payload notify.DeliveryPayload) error {
	task, err := NewDeliveryTask(payload)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}
	return nil
}

// EnqueueSweep queues an immediate sweeper run.
func (c *Client) EnqueueSweep(ctx context.Context, trigger string, at time.Time) (*asynq.TaskInfo, error) {
	task, err := NewSweepTask(trigger, at)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases the redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
