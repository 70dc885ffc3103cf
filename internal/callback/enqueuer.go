package callback

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer schedules webhook deliveries
type Enqueuer interface {
	Enqueue(ctx context.Context, url string, n Notification) error
}

// AsynqEnqueuer hands deliveries to the gateway's asynq server
type AsynqEnqueuer struct {
	client   *asynq.Client
	maxRetry int
	timeout  time.Duration
}

func NewAsynqEnqueuer(client *asynq.Client, maxRetry int, timeout time.Duration) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client, maxRetry: maxRetry, timeout: timeout}
}

func (e *AsynqEnqueuer) Enqueue(ctx context.Context, url string, n Notification) error {
	task, err := newDeliverTask(Payload{URL: url, Notification: n})
	if err != nil {
		return fmt.Errorf("failed to create callback task: %w", err)
	}

	_, err = e.client.EnqueueContext(ctx, task,
		asynq.Queue(Queue),
		asynq.MaxRetry(e.maxRetry),
		asynq.Timeout(e.timeout),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue callback for job %s: %w", n.JobID, err)
	}
	return nil
}
