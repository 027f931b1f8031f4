// Package jobs переносит события адаптера через очередь asynq: HTTP-приём кладёт задачу,
// воркер достаёт её и передаёт в маршрутизатор.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/psds-microservice/chat-ticket-service/internal/transport"
)

const (
	TypeInbound = "message:inbound"
	TypeReceipt = "message:ack"

	QueueCritical = "critical"
	QueueDefault  = "default"
)

// NewInboundTask builds the task for one inbound event. The task id is derived from the wid so the queue
// drops redeliveries that arrive while the first copy is still retained.
func NewInboundTask(ev transport.InboundEvent) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(5),
		asynq.Timeout(2 * time.Minute),
		asynq.Retention(10 * time.Minute),
	}
	if ev.ID != "" {
		opts = append(opts, asynq.TaskID(fmt.Sprintf("inbound:%d:%d:%s", ev.CompanyID, ev.ConnectionID, ev.ID)))
	}
	return asynq.NewTask(TypeInbound, payload), opts, nil
}

func NewReceiptTask(r transport.Receipt) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(30 * time.Second),
	}
	return asynq.NewTask(TypeReceipt, payload), opts, nil
}
