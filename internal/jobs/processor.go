package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/psds-microservice/chat-ticket-service/internal/transport"
	"github.com/sirupsen/logrus"
)

// Processor decodes queued events and hands them to the router.
type Processor struct {
	handler transport.Handler
}

func NewProcessor(h transport.Handler) *Processor {
	return &Processor{handler: h}
}

// Register mounts the processor's handlers on mux.
func (p *Processor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeInbound, p.ProcessInbound)
	mux.HandleFunc(TypeReceipt, p.ProcessReceipt)
}

func (p *Processor) ProcessInbound(ctx context.Context, t *asynq.Task) error {
	var ev transport.InboundEvent
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.handler.HandleInbound(ctx, ev); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"wid": ev.ID, "company_id": ev.CompanyID}).Warn("jobs: inbound failed")
		return err
	}
	return nil
}

func (p *Processor) ProcessReceipt(ctx context.Context, t *asynq.Task) error {
	var r transport.Receipt
	if err := json.Unmarshal(t.Payload(), &r); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	return p.handler.HandleReceipt(ctx, r)
}

// NewServer creates the worker server. Inbound messages are weighted over receipts.
func NewServer(opt asynq.RedisClientOpt, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
		},
		RetryDelayFunc: RetryDelay,
		Logger:         logrus.StandardLogger(),
	})
}

// RetryDelay backs off 1, 5, 15, 30 seconds, then one minute.
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	backoff := []time.Duration{1, 5, 15, 30}
	if n <= 0 {
		return 0
	}
	if n > len(backoff) {
		return time.Minute
	}
	return backoff[n-1] * time.Second
}
