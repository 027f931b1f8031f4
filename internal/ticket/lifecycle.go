// Package ticket владеет состоянием тикета: поиск/создание (Resolver) и все переходы статусов (Lifecycle).
package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psds-microservice/chat-ticket-service/internal/clock"
	"github.com/psds-microservice/chat-ticket-service/internal/errs"
	"github.com/psds-microservice/chat-ticket-service/internal/eventbus"
	"github.com/psds-microservice/chat-ticket-service/internal/lock"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/outbound"
	"github.com/psds-microservice/chat-ticket-service/internal/render"
	"github.com/psds-microservice/chat-ticket-service/internal/store"
	"github.com/sirupsen/logrus"
)

type Deps struct {
	Store   store.TicketStore
	Catalog store.CatalogStore
	Sender  outbound.Sender
	Bus     eventbus.Publisher
	Clock   clock.Clock
	Locks   *lock.Keyed
}

// Servicer — операции жизненного цикла, от которых зависят меню, роутер и HTTP-обработчики.
type Servicer interface {
	Update(ctx context.Context, ticketID uint64, req UpdateRequest) (*UpdateResult, error)
	Touch(ctx context.Context, ticketID uint64, p Patch) (*model.Ticket, error)
}

// UpdateRequest — частичное изменение тикета. Nil означает «не менять». Для QueueID, UserID,
// QueueOptionID и IntegrationID указатель на 0 сбрасывает значение.
type UpdateRequest struct {
	Status              *model.TicketStatus
	QueueID             *uint64
	UserID              *uint64
	QueueOptionID       *uint64
	IsBot               *bool
	LastMessage         *string
	AmountUsedBotQueues *int
	UseIntegration      *bool
	IntegrationID       *uint64

	IsTransfered bool
	// MsgTransfer overrides the connection's transfer notice.
	MsgTransfer string
	// SendFarewellMessage defaults to true. False closes silently: no farewell and no rating prompt.
	SendFarewellMessage *bool
	// ExpectStatus, when set, applies the request only if the ticket is still in that status. Otherwise the
	// current ticket is returned unchanged.
	ExpectStatus model.TicketStatus
}

type UpdateResult struct {
	Ticket    *model.Ticket
	OldStatus model.TicketStatus
	OldUserID *uint64
	// Redirected is set when the request targeted a closed ticket and the contact's open ticket was returned instead.
	Redirected bool
}

// Patch updates routing bookkeeping fields that never change status, queue or user.
type Patch struct {
	LastMessage         *string
	UnreadMessages      *int
	IsOutOfHour         *bool
	AmountUsedBotQueues *int
	IncrementBotUses    bool
	QueueOptionID       *uint64
	IsBot               *bool
	UseIntegration      *bool
	IntegrationID       *uint64
	// LastFlowID is the flow node an integration resumes from; "" clears it.
	LastFlowID *string
	// FlowData replaces DataWebhook when non-nil.
	FlowData []byte
}

var _ Servicer = (*Lifecycle)(nil)

type Lifecycle struct {
	store   store.TicketStore
	catalog store.CatalogStore
	sender  outbound.Sender
	bus     eventbus.Publisher
	clock   clock.Clock
	locks   *lock.Keyed
}

func NewLifecycle(d Deps) *Lifecycle {
	return &Lifecycle{store: d.Store, catalog: d.Catalog, sender: d.Sender, bus: d.Bus, clock: d.Clock, locks: d.Locks}
}

func ticketLockKey(id uint64) string { return fmt.Sprintf("ticket:%d", id) }

// Update applies req to the ticket. Invalid queues fail with CodeQueueNotFound (400); every other failure is
// logged and returned as CodeUpdateTicket (404). Writes are not rolled back on failure.
func (l *Lifecycle) Update(ctx context.Context, ticketID uint64, req UpdateRequest) (*UpdateResult, error) {
	unlock := l.locks.Lock(ticketLockKey(ticketID))
	defer unlock()

	res, err := l.update(ctx, ticketID, req)
	if err == nil {
		return res, nil
	}
	var typed *errs.Error
	if errors.As(err, &typed) {
		return nil, err
	}
	logrus.WithError(err).WithFields(logrus.Fields{"ticket_id": ticketID, "request": fmt.Sprintf("%+v", req)}).
		Error("ticket: update failed")
	return nil, errs.Unexpected(errs.CodeUpdateTicket, err)
}

func (l *Lifecycle) update(ctx context.Context, ticketID uint64, req UpdateRequest) (*UpdateResult, error) {
	t, err := l.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	res := &UpdateResult{OldStatus: t.Status, OldUserID: t.UserID}
	if req.ExpectStatus != "" && t.Status != req.ExpectStatus {
		res.Ticket = t
		return res, nil
	}
	snap := snapshotOf(t)

	status := t.Status
	if req.Status != nil {
		status = *req.Status
	}
	queueID := t.QueueID
	if req.QueueID != nil {
		queueID = model.ID(*req.QueueID)
	}
	userID := t.UserID
	if req.UserID != nil {
		userID = model.ID(*req.UserID)
	}
	now := l.clock.Now()

	if t.WhatsappID == nil && status == model.TicketStatusClosed {
		t.Status = model.TicketStatusClosed
		if err := l.store.SaveTicket(ctx, t); err != nil {
			return nil, err
		}
		l.log(ctx, t.ID, t.UserID, t.QueueID, model.LogClosed)
		return l.finish(ctx, res, t, snap)
	}

	if t.Status == model.TicketStatusClosed && (status != model.TicketStatusClosed || req.IsTransfered) {
		other, err := l.store.FindOpenTicket(ctx, t.ContactID, t.WhatsappID)
		if err == nil && other.ID != t.ID {
			full, err := l.store.GetTicket(ctx, other.ID)
			if err != nil {
				return nil, err
			}
			res.Ticket, res.Redirected = full, true
			return res, nil
		}
	}

	tracking, err := l.store.Tracking(ctx, t)
	if err != nil {
		return nil, err
	}
	settings, err := l.catalog.Settings(ctx, t.CompanyID)
	if err != nil {
		return nil, err
	}

	var queue *model.Queue
	if req.QueueID != nil && queueID != nil {
		queue, err = l.catalog.GetQueue(ctx, t.CompanyID, *queueID)
		if errors.Is(err, errs.ErrQueueNotFound) {
			return nil, errs.Validation(errs.CodeQueueNotFound, err)
		}
		if err != nil {
			return nil, err
		}
	}

	if status == model.TicketStatusClosed {
		farewell := req.SendFarewellMessage == nil || *req.SendFarewellMessage
		if farewell && l.handoffToRating(ctx, t, tracking, settings, now) {
			if err := l.persist(ctx, t, tracking); err != nil {
				return nil, err
			}
			l.log(ctx, t.ID, t.UserID, t.QueueID, model.LogNPS)
			return l.finish(ctx, res, t, snap)
		}
		if farewell && l.farewellAllowed(t, settings, res.OldStatus) {
			outbound.SendText(ctx, l.sender, t, render.Text(t.Whatsapp.CompletionMessage, render.ForTicket(t, now)))
		}
		t.QueueID, t.UserID = queueID, userID
		markClosed(t, tracking, now)
		if err := l.persist(ctx, t, tracking); err != nil {
			return nil, err
		}
		l.log(ctx, t.ID, t.UserID, t.QueueID, model.LogClosed)
		return l.finish(ctx, res, t, snap)
	}

	// Очередь с closeTicket закрывает тикет без прощания и NPS: её приветствие и есть последнее сообщение.
	if queue != nil && queue.CloseTicket {
		t.QueueID, t.UserID = queueID, userID
		markClosed(t, tracking, now)
		tracking.QueueID = queueID
		if err := l.persist(ctx, t, tracking); err != nil {
			return nil, err
		}
		l.log(ctx, t.ID, t.UserID, t.QueueID, model.LogClosed)
		return l.finish(ctx, res, t, snap)
	}

	var transfer *move
	if req.IsTransfered {
		mv := move{oldUser: t.UserID, newUser: userID, oldQueue: t.QueueID, newQueue: queueID}
		if settings.CloseTicketOnTransfer && !model.SameID(mv.oldQueue, mv.newQueue) {
			next, err := l.closeAndRecreate(ctx, t, tracking, req, mv, status, now)
			if err != nil {
				return nil, err
			}
			out, err := l.finish(ctx, res, next, snap)
			if err != nil {
				return nil, err
			}
			l.notifyTransfer(ctx, out.Ticket, settings, req, now)
			return out, nil
		}
		transfer = &mv
	}

	prevStatus := t.Status
	t.Status, t.QueueID, t.UserID = status, queueID, userID
	applyOptional(t, req)
	if !model.SameID(tracking.QueueID, queueID) {
		tracking.QueueID = queueID
		if queueID != nil {
			tracking.QueuedAt = &now
		}
	}
	tracking.WhatsappID = t.WhatsappID

	logType := ""
	if status != prevStatus {
		switch status {
		case model.TicketStatusPending:
			tracking.StartedAt, tracking.UserID = nil, nil
			if prevStatus == model.TicketStatusClosed || prevStatus == model.TicketStatusNPS {
				tracking.ClosedAt, tracking.FinishedAt = nil, nil
			}
			logType = model.LogPending
		case model.TicketStatusOpen:
			tracking.StartedAt = &now
			tracking.UserID = userID
			tracking.RatingAt, tracking.Rated = nil, false
			tracking.ClosedAt, tracking.FinishedAt = nil, nil
			logType = model.LogReopen
			if prevStatus == model.TicketStatusPending {
				logType = model.LogOpen
			}
		}
	}
	if err := l.persist(ctx, t, tracking); err != nil {
		return nil, err
	}
	if logType != "" {
		l.log(ctx, t.ID, t.UserID, t.QueueID, logType)
	}
	if transfer == nil {
		return l.finish(ctx, res, t, snap)
	}
	l.transferLogs(ctx, t.ID, t.ID, *transfer)
	out, err := l.finish(ctx, res, t, snap)
	if err != nil {
		return nil, err
	}
	l.notifyTransfer(ctx, out.Ticket, settings, req, now)
	return out, nil
}

func applyOptional(t *model.Ticket, req UpdateRequest) {
	if req.IsBot != nil {
		t.IsBot = *req.IsBot
	}
	if req.QueueOptionID != nil {
		t.QueueOptionID = model.ID(*req.QueueOptionID)
	}
	if req.LastMessage != nil {
		t.LastMessage = *req.LastMessage
	}
	if req.AmountUsedBotQueues != nil {
		t.AmountUsedBotQueues = *req.AmountUsedBotQueues
	}
	if req.UseIntegration != nil {
		t.UseIntegration = *req.UseIntegration
	}
	if req.IntegrationID != nil {
		t.IntegrationID = model.ID(*req.IntegrationID)
	}
}

// handoffToRating parks the ticket in nps and sends the rating prompt. A ticket is rated at most once.
func (l *Lifecycle) handoffToRating(ctx context.Context, t *model.Ticket, tr *model.TicketTracking,
	settings *model.CompanySettings, now time.Time) bool {
	if !settings.UserRating || t.IsGroup || t.UserID == nil || t.Whatsapp == nil || t.Status == model.TicketStatusNPS {
		return false
	}
	if t.Whatsapp.RatingMessage == "" || tr.RatingAt != nil || tr.Rated {
		return false
	}
	prompt := render.Text(t.Whatsapp.RatingMessage, render.ForTicket(t, now)) + "\n\n" + RatingInstructions
	if !outbound.SendText(ctx, l.sender, t, prompt) {
		return false
	}
	tr.ClosedAt = &now
	tr.UserID = t.UserID
	t.Status = model.TicketStatusNPS
	t.AmountUsedBotQueues = 0
	return true
}

// RatingInstructions is appended to the rating prompt.
const RatingInstructions = "Digite uma nota de *0* a *10*."

func (l *Lifecycle) farewellAllowed(t *model.Ticket, settings *model.CompanySettings, oldStatus model.TicketStatus) bool {
	if t.Whatsapp == nil || t.Whatsapp.CompletionMessage == "" || t.IsGroup {
		return false
	}
	return oldStatus != model.TicketStatusPending || settings.SendFarewellWaitingTicket
}

// markClosed stamps the close and clears per-conversation routing state.
func markClosed(t *model.Ticket, tr *model.TicketTracking, now time.Time) {
	t.Status = model.TicketStatusClosed
	t.AmountUsedBotQueues = 0
	t.IsOutOfHour = false
	t.QueueOptionID = nil
	t.LastFlowID, t.HashFlowID, t.FlowStopped = "", "", ""
	t.FlowWebhook = false
	t.DataWebhook = nil
	if tr.ClosedAt == nil {
		tr.ClosedAt = &now
	}
	tr.FinishedAt = &now
}

func (l *Lifecycle) persist(ctx context.Context, t *model.Ticket, tr *model.TicketTracking) error {
	if err := l.store.SaveTicket(ctx, t); err != nil {
		return err
	}
	if tr != nil {
		return l.store.SaveTracking(ctx, tr)
	}
	return nil
}

func (l *Lifecycle) log(ctx context.Context, ticketID uint64, userID, queueID *uint64, typ string) {
	if err := l.store.CreateLog(ctx, &model.LogTicket{TicketID: ticketID, UserID: userID, QueueID: queueID, Type: typ}); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"ticket_id": ticketID, "type": typ}).Warn("ticket: write log")
	}
}

type snapshot struct {
	id      uint64
	status  model.TicketStatus
	userID  *uint64
	queueID *uint64
}

func snapshotOf(t *model.Ticket) snapshot {
	return snapshot{id: t.ID, status: t.Status, userID: t.UserID, queueID: t.QueueID}
}

// finish reloads the ticket and notifies the UI: delete+update when status, user or queue moved, update otherwise.
func (l *Lifecycle) finish(ctx context.Context, res *UpdateResult, t *model.Ticket, snap snapshot) (*UpdateResult, error) {
	full, err := l.store.GetTicket(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	res.Ticket = full
	changed := full.ID != snap.id || full.Status != snap.status ||
		!model.SameID(full.UserID, snap.userID) || !model.SameID(full.QueueID, snap.queueID)
	if l.bus != nil {
		if changed {
			l.bus.Publish(ctx, full.CompanyID, eventbus.TicketDeleted(snap.id))
		}
		l.bus.Publish(ctx, full.CompanyID, eventbus.TicketUpdated(full))
	}
	return res, nil
}

// Touch applies p without any status side effects and publishes an update.
func (l *Lifecycle) Touch(ctx context.Context, ticketID uint64, p Patch) (*model.Ticket, error) {
	unlock := l.locks.Lock(ticketLockKey(ticketID))
	defer unlock()

	t, err := l.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if p.LastMessage != nil {
		t.LastMessage = *p.LastMessage
	}
	if p.UnreadMessages != nil {
		t.UnreadMessages = *p.UnreadMessages
	}
	if p.IsOutOfHour != nil {
		t.IsOutOfHour = *p.IsOutOfHour
	}
	if p.AmountUsedBotQueues != nil {
		t.AmountUsedBotQueues = *p.AmountUsedBotQueues
	}
	if p.IncrementBotUses {
		t.AmountUsedBotQueues++
	}
	if p.QueueOptionID != nil {
		t.QueueOptionID = model.ID(*p.QueueOptionID)
	}
	if p.IsBot != nil {
		t.IsBot = *p.IsBot
	}
	if p.UseIntegration != nil {
		t.UseIntegration = *p.UseIntegration
	}
	if p.IntegrationID != nil {
		t.IntegrationID = model.ID(*p.IntegrationID)
	}
	if p.LastFlowID != nil {
		t.LastFlowID = *p.LastFlowID
		t.FlowWebhook = *p.LastFlowID != ""
	}
	if p.FlowData != nil {
		t.DataWebhook = p.FlowData
	}
	if err := l.store.SaveTicket(ctx, t); err != nil {
		return nil, err
	}
	if l.bus != nil {
		l.bus.Publish(ctx, t.CompanyID, eventbus.TicketUpdated(t))
	}
	return t, nil
}
