package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/psds-microservice/chat-ticket-service/internal/transport"
	"github.com/sirupsen/logrus"
)

// TaskClient is the part of *asynq.Client the enqueuer needs.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer implements transport.Handler by queueing events for the worker.
type Enqueuer struct {
	client TaskClient
}

var _ transport.Handler = (*Enqueuer)(nil)

func NewEnqueuer(client TaskClient) *Enqueuer {
	return &Enqueuer{client: client}
}

func (e *Enqueuer) HandleInbound(ctx context.Context, ev transport.InboundEvent) error {
	task, opts, err := NewInboundTask(ev)
	if err != nil {
		return fmt.Errorf("jobs: encode inbound: %w", err)
	}
	return e.enqueue(ctx, task, opts, logrus.Fields{"wid": ev.ID, "company_id": ev.CompanyID})
}

func (e *Enqueuer) HandleReceipt(ctx context.Context, r transport.Receipt) error {
	task, opts, err := NewReceiptTask(r)
	if err != nil {
		return fmt.Errorf("jobs: encode receipt: %w", err)
	}
	return e.enqueue(ctx, task, opts, logrus.Fields{"wid": r.MessageID, "company_id": r.CompanyID})
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task, opts []asynq.Option, fields logrus.Fields) error {
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logrus.WithFields(fields).Debug("jobs: duplicate event already queued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", task.Type(), err)
	}
	if info != nil {
		fields["task_id"] = info.ID
	}
	logrus.WithFields(fields).Debug("jobs: enqueued " + task.Type())
	return nil
}
