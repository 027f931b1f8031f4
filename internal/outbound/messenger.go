// Package outbound sends bot and agent messages through the transport and records them as fromMe messages,
// so that later receipts reconcile against the stored row.
package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/psds-microservice/chat-ticket-service/internal/eventbus"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/store"
	"github.com/psds-microservice/chat-ticket-service/internal/transport"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoContact    = errors.New("outbound: ticket has no contact loaded")
	ErrNoConnection = errors.New("outbound: ticket has no whatsapp connection")
)

// Sender — то, от чего зависят меню, жизненный цикл и роутер.
type Sender interface {
	Send(ctx context.Context, t *model.Ticket, p transport.Payload) (*model.Message, error)
}

type Messenger struct {
	transport transport.Sender
	messages  store.MessageStore
	bus       eventbus.Publisher
}

func New(tr transport.Sender, messages store.MessageStore, bus eventbus.Publisher) *Messenger {
	return &Messenger{transport: tr, messages: messages, bus: bus}
}

// Recipient returns the jid messages for c are sent to.
func Recipient(c *model.Contact) string {
	if c.RemoteJid != "" {
		return c.RemoteJid
	}
	if c.IsGroup {
		return c.Number + "@g.us"
	}
	return c.Number + "@s.whatsapp.net"
}

func (m *Messenger) Send(ctx context.Context, t *model.Ticket, p transport.Payload) (*model.Message, error) {
	if t.Contact == nil {
		return nil, ErrNoContact
	}
	if t.WhatsappID == nil {
		return nil, ErrNoConnection
	}
	localID := uuid.NewString()
	wid, err := m.transport.Send(ctx, transport.OutboundRequest{
		ConnectionID: *t.WhatsappID,
		To:           Recipient(t.Contact),
		Ref:          localID,
		Payload:      p,
	})
	if err != nil {
		return nil, fmt.Errorf("outbound: send to ticket %d: %w", t.ID, err)
	}
	if wid == "" {
		wid = localID
	}
	msg := &model.Message{
		CompanyID: t.CompanyID,
		WID:       wid,
		LocalID:   localID,
		TicketID:  t.ID,
		ContactID: model.ID(t.ContactID),
		Ack:       model.AckSent,
		Body:      p.Body(),
		FromMe:    true,
	}
	if _, err := m.messages.CreateMessage(ctx, msg); err != nil {
		// сообщение уже ушло контакту, только логируем
		logrus.WithError(err).WithFields(logrus.Fields{"ticket_id": t.ID, "wid": wid}).Error("outbound: store sent message")
		return msg, nil
	}
	if m.bus != nil {
		m.bus.Publish(ctx, t.CompanyID, eventbus.Event{
			Action: eventbus.ActionUpdate, Entity: eventbus.EntityMessage, TicketID: t.ID, Message: msg,
		})
	}
	return msg, nil
}

// SendText sends a plain text and logs failures instead of returning them: a failed send must not abort
// the stage that triggered it.
func SendText(ctx context.Context, s Sender, t *model.Ticket, text string) bool {
	if text == "" {
		return false
	}
	return SendPayload(ctx, s, t, transport.Payload{Text: text})
}

// SendPayload is SendText for any payload shape.
func SendPayload(ctx context.Context, s Sender, t *model.Ticket, p transport.Payload) bool {
	if _, err := s.Send(ctx, t, p); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"ticket_id": t.ID, "company_id": t.CompanyID}).
			Warn("outbound: send failed")
		return false
	}
	return true
}
