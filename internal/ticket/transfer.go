package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psds-microservice/chat-ticket-service/internal/errs"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/outbound"
	"github.com/psds-microservice/chat-ticket-service/internal/render"
	"github.com/sirupsen/logrus"
)

// move описывает переназначение тикета: кто и какая очередь были, кто и какая стали.
type move struct {
	oldUser, newUser   *uint64
	oldQueue, newQueue *uint64
}

// closeAndRecreate closes t and continues the conversation in a fresh ticket of the destination queue.
// All messages follow the conversation. When another process already opened a ticket for the pair, that
// ticket is reused.
func (l *Lifecycle) closeAndRecreate(ctx context.Context, t *model.Ticket, tr *model.TicketTracking,
	req UpdateRequest, mv move, status model.TicketStatus, now time.Time) (*model.Ticket, error) {
	markClosed(t, tr, now)
	if err := l.persist(ctx, t, tr); err != nil {
		return nil, err
	}
	l.log(ctx, t.ID, mv.oldUser, mv.oldQueue, model.LogClosed)

	if !status.IsOpen() || (status == model.TicketStatusOpen && mv.newUser == nil) {
		status = model.TicketStatusPending
	}
	next := &model.Ticket{
		CompanyID:      t.CompanyID,
		ContactID:      t.ContactID,
		WhatsappID:     t.WhatsappID,
		Status:         status,
		QueueID:        mv.newQueue,
		UserID:         mv.newUser,
		IsGroup:        t.IsGroup,
		LastMessage:    t.LastMessage,
		UnreadMessages: t.UnreadMessages,
	}
	if req.IsBot != nil {
		next.IsBot = *req.IsBot
	}
	err := l.store.CreateTicket(ctx, next)
	if errors.Is(err, errs.ErrDuplicate) {
		existing, ferr := l.store.FindOpenTicket(ctx, t.ContactID, t.WhatsappID)
		if ferr != nil {
			return nil, fmt.Errorf("ticket: transfer fallback: %w", ferr)
		}
		logrus.WithFields(logrus.Fields{"ticket_id": t.ID, "reused_ticket_id": existing.ID}).
			Info("ticket: transfer reused concurrent ticket")
		next = existing
	} else if err != nil {
		return nil, fmt.Errorf("ticket: transfer create: %w", err)
	}

	moved, err := l.store.MoveMessages(ctx, t.ID, next.ID)
	if err != nil {
		return nil, fmt.Errorf("ticket: move messages: %w", err)
	}

	ntr, err := l.store.Tracking(ctx, next)
	if err != nil {
		return nil, err
	}
	ntr.QueueID, ntr.WhatsappID = next.QueueID, next.WhatsappID
	if next.QueueID != nil {
		ntr.QueuedAt = &now
	}
	if next.Status == model.TicketStatusOpen {
		ntr.StartedAt, ntr.UserID = &now, next.UserID
	}
	if err := l.store.SaveTracking(ctx, ntr); err != nil {
		return nil, err
	}

	l.transferLogs(ctx, t.ID, next.ID, mv)
	logrus.WithFields(logrus.Fields{
		"ticket_id": t.ID, "new_ticket_id": next.ID, "company_id": t.CompanyID, "messages": moved,
	}).Info("ticket: transferred to new ticket")
	return next, nil
}

// transferLogs пишет пару transfered/receivedTransfer. Переход без смены агента, при котором агент
// остаётся назначен, не логируется.
func (l *Lifecycle) transferLogs(ctx context.Context, fromID, toID uint64, mv move) {
	userChanged := !model.SameID(mv.oldUser, mv.newUser)
	queueChanged := !model.SameID(mv.oldQueue, mv.newQueue)
	switch {
	case userChanged:
	case queueChanged && mv.newUser == nil:
	default:
		return
	}
	l.log(ctx, fromID, mv.oldUser, mv.oldQueue, model.LogTransfered)
	l.log(ctx, toID, mv.newUser, mv.newQueue, model.LogReceivedTransfer)
}

// notifyTransfer sends the explicit notice of the request, or the connection's template when the company
// enables it.
func (l *Lifecycle) notifyTransfer(ctx context.Context, t *model.Ticket, settings *model.CompanySettings,
	req UpdateRequest, now time.Time) {
	if t.IsGroup {
		return
	}
	text := req.MsgTransfer
	if text == "" && settings.SendMsgTransfTicket && t.Whatsapp != nil {
		text = t.Whatsapp.TransferMessage
	}
	if text == "" {
		return
	}
	outbound.SendText(ctx, l.sender, t, render.Text(text, render.ForTicket(t, now)))
}
