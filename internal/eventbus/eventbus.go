// Package eventbus публикует изменения тикетов и сообщений в realtime-канал компании.
// Публикация fire-and-forget: подписчики не подтверждают получение.
package eventbus

import (
	"context"
	"sync"

	"github.com/psds-microservice/chat-ticket-service/internal/kafka"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
)

const (
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Entities carried by events.
const (
	EntityTicket  = "ticket"
	EntityMessage = "appMessage"
	EntityContact = "contact"
)

type Event struct {
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	TicketID uint64         `json:"ticketId,omitempty"`
	Ticket   *model.Ticket  `json:"ticket,omitempty"`
	Message  *model.Message `json:"message,omitempty"`
	Contact  *model.Contact `json:"contact,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, companyID uint64, ev Event)
}

// TicketUpdated / TicketDeleted / MessageUpdated build the common events.
func TicketUpdated(t *model.Ticket) Event {
	return Event{Action: ActionUpdate, Entity: EntityTicket, TicketID: t.ID, Ticket: t}
}

func TicketDeleted(ticketID uint64) Event {
	return Event{Action: ActionDelete, Entity: EntityTicket, TicketID: ticketID}
}

func MessageUpdated(m *model.Message) Event {
	return Event{Action: ActionUpdate, Entity: EntityMessage, TicketID: m.TicketID, Message: m, Ticket: m.Ticket, Contact: m.Contact}
}

// Multi fans one event out to several publishers.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, companyID uint64, ev Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, companyID, ev)
		}
	}
}

// KafkaMirror forwards ticket events to Kafka for downstream projections.
type KafkaMirror struct {
	producer kafka.TicketEventProducer
}

func NewKafkaMirror(p kafka.TicketEventProducer) *KafkaMirror {
	return &KafkaMirror{producer: p}
}

func (k *KafkaMirror) Publish(ctx context.Context, companyID uint64, ev Event) {
	if ev.Entity != EntityTicket {
		return
	}
	payload := map[string]interface{}{"ticket_id": ev.TicketID, "company_id": companyID}
	if ev.Ticket != nil {
		payload = kafka.TicketPayload(ev.Ticket)
	}
	k.producer.ProduceTicketEvent(ctx, "ticket."+ev.Action, payload)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

type Recorded struct {
	CompanyID uint64
	Event     Event
}

func (r *Recorder) Publish(_ context.Context, companyID uint64, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{CompanyID: companyID, Event: ev})
}

func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Count returns how many events match entity and action.
func (r *Recorder) Count(entity, action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Event.Entity == entity && e.Event.Action == action {
			n++
		}
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
