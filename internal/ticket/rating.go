package ticket

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/outbound"
	"github.com/psds-microservice/chat-ticket-service/internal/render"
	"github.com/sirupsen/logrus"
)

// ErrNotAwaitingRating — тикет не ждёт оценку (уже оценён или закрыт без NPS).
var ErrNotAwaitingRating = errors.New("ticket is not awaiting a rating")

// ErrRatingOutOfRange is returned by Rate for grades outside 0..10.
var ErrRatingOutOfRange = errors.New("rating must be between 0 and 10")

// ParseRating reads a customer's reply as an NPS grade. Only a bare integer 0..10 counts.
func ParseRating(body string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil || v < 0 || v > 10 {
		return 0, false
	}
	return v, true
}

// Rate stores the grade, thanks the contact with the completion message and closes the ticket.
func (l *Lifecycle) Rate(ctx context.Context, ticketID uint64, rate int) (*model.Ticket, error) {
	if rate < 0 || rate > 10 {
		return nil, ErrRatingOutOfRange
	}
	unlock := l.locks.Lock(ticketLockKey(ticketID))
	defer unlock()

	t, err := l.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	tr, err := l.store.Tracking(ctx, t)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TicketStatusNPS && !tr.AwaitingRating() {
		return nil, ErrNotAwaitingRating
	}
	if tr.Rated {
		return nil, ErrNotAwaitingRating
	}
	now := l.clock.Now()
	userID := tr.UserID
	if userID == nil {
		userID = t.UserID
	}
	if err := l.store.CreateRating(ctx, &model.UserRating{
		TicketID: t.ID, CompanyID: t.CompanyID, UserID: userID, Rate: rate,
	}); err != nil {
		return nil, err
	}
	tr.RatingAt = &now
	tr.Rated = true

	if t.Whatsapp != nil && t.Whatsapp.CompletionMessage != "" && !t.IsGroup {
		outbound.SendText(ctx, l.sender, t, render.Text(t.Whatsapp.CompletionMessage, render.ForTicket(t, now)))
	}
	snap := snapshotOf(t)
	markClosed(t, tr, now)
	if err := l.persist(ctx, t, tr); err != nil {
		return nil, err
	}
	l.log(ctx, t.ID, t.UserID, t.QueueID, model.LogClosed)
	logrus.WithFields(logrus.Fields{"ticket_id": t.ID, "company_id": t.CompanyID, "rate": rate}).Info("ticket: rated")

	res, err := l.finish(ctx, &UpdateResult{OldStatus: snap.status, OldUserID: snap.userID}, t, snap)
	if err != nil {
		return nil, err
	}
	return res.Ticket, nil
}

// FinishWithoutRating closes an nps ticket whose contact answered something other than a grade.
// Neither a rating nor a farewell is produced.
func (l *Lifecycle) FinishWithoutRating(ctx context.Context, ticketID uint64) (*model.Ticket, error) {
	unlock := l.locks.Lock(ticketLockKey(ticketID))
	defer unlock()

	t, err := l.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TicketStatusNPS {
		return nil, ErrNotAwaitingRating
	}
	tr, err := l.store.Tracking(ctx, t)
	if err != nil {
		return nil, err
	}
	snap := snapshotOf(t)
	markClosed(t, tr, l.clock.Now())
	if err := l.persist(ctx, t, tr); err != nil {
		return nil, err
	}
	l.log(ctx, t.ID, t.UserID, t.QueueID, model.LogClosed)
	res, err := l.finish(ctx, &UpdateResult{OldStatus: snap.status, OldUserID: snap.userID}, t, snap)
	if err != nil {
		return nil, err
	}
	return res.Ticket, nil
}
