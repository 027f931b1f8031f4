package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psds-microservice/chat-ticket-service/internal/clock"
	"github.com/psds-microservice/chat-ticket-service/internal/errs"
	"github.com/psds-microservice/chat-ticket-service/internal/lock"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/store"
	"github.com/sirupsen/logrus"
)

type FindOrCreateInput struct {
	CompanyID  uint64
	WhatsappID uint64
	// Contact owns the ticket: the group contact for group chats, the sender otherwise.
	Contact        *model.Contact
	UnreadMessages int
}

// Resolver находит или создаёт тикет пары (контакт, подключение) под блокировкой по контакту.
type Resolver struct {
	store   store.TicketStore
	catalog store.CatalogStore
	clock   clock.Clock
	locks   *lock.Keyed
	// lc применяет все изменения найденного тикета под его блокировкой.
	lc *Lifecycle
}

func NewResolver(d Deps) *Resolver {
	return &Resolver{store: d.Store, catalog: d.Catalog, clock: d.Clock, locks: d.Locks, lc: NewLifecycle(d)}
}

func contactLockKey(companyID, contactID, whatsappID uint64) string {
	return fmt.Sprintf("resolve:%d:%d:%d", companyID, contactID, whatsappID)
}

// FindOrCreate returns the open|pending|group ticket of the pair, reopening a recently closed one
// when the connection allows it, or creating a new one. The returned ticket has its graph loaded.
func (r *Resolver) FindOrCreate(ctx context.Context, in FindOrCreateInput) (*model.Ticket, error) {
	if in.Contact == nil {
		return nil, fmt.Errorf("ticket: find-or-create without contact")
	}
	unlock := r.locks.Lock(contactLockKey(in.CompanyID, in.Contact.ID, in.WhatsappID))
	defer unlock()

	wa := model.ID(in.WhatsappID)
	t, err := r.store.FindOpenTicket(ctx, in.Contact.ID, wa)
	switch {
	case err == nil:
		return r.refresh(ctx, t, in)
	case !errors.Is(err, errs.ErrTicketNotFound):
		return nil, err
	}

	if reopened, err := r.reopenRecent(ctx, in, wa); err != nil || reopened != nil {
		return reopened, err
	}

	status := model.TicketStatusPending
	if in.Contact.IsGroup {
		status = model.TicketStatusGroup
	}
	t = &model.Ticket{
		CompanyID:      in.CompanyID,
		ContactID:      in.Contact.ID,
		WhatsappID:     wa,
		Status:         status,
		IsGroup:        in.Contact.IsGroup,
		UnreadMessages: in.UnreadMessages,
	}
	err = r.store.CreateTicket(ctx, t)
	if errors.Is(err, errs.ErrDuplicate) {
		// другой процесс создал тикет первым
		existing, ferr := r.store.FindOpenTicket(ctx, in.Contact.ID, wa)
		if ferr != nil {
			return nil, ferr
		}
		return r.refresh(ctx, existing, in)
	}
	if err != nil {
		return nil, fmt.Errorf("ticket: create: %w", err)
	}
	if err := r.store.CreateLog(ctx, &model.LogTicket{TicketID: t.ID, Type: model.LogCreate}); err != nil {
		logrus.WithError(err).WithField("ticket_id", t.ID).Warn("ticket: create log")
	}
	logrus.WithFields(logrus.Fields{"ticket_id": t.ID, "company_id": t.CompanyID, "status": t.Status}).Info("ticket: created")
	return r.store.GetTicket(ctx, t.ID)
}

func (r *Resolver) refresh(ctx context.Context, t *model.Ticket, in FindOrCreateInput) (*model.Ticket, error) {
	if t.UnreadMessages == in.UnreadMessages {
		return r.store.GetTicket(ctx, t.ID)
	}
	unread := in.UnreadMessages
	return r.lc.Touch(ctx, t.ID, Patch{UnreadMessages: &unread})
}

// reopenRecent reopens the pair's last closed ticket as pending when it closed less than
// TimeCreateNewTicket seconds ago. Returns nil when no ticket qualifies.
func (r *Resolver) reopenRecent(ctx context.Context, in FindOrCreateInput, wa *uint64) (*model.Ticket, error) {
	if wa == nil || in.Contact.IsGroup {
		return nil, nil
	}
	w, err := r.catalog.GetWhatsapp(ctx, *wa)
	if err != nil || w.TimeCreateNewTicket <= 0 {
		return nil, nil
	}
	last, err := r.store.LatestTicket(ctx, in.Contact.ID, wa)
	if err != nil || last.Status != model.TicketStatusClosed {
		return nil, nil
	}
	if r.clock.Now().Sub(last.UpdatedAt) >= time.Duration(w.TimeCreateNewTicket)*time.Second {
		return nil, nil
	}
	pending := model.TicketStatusPending
	var noUser uint64
	res, err := r.lc.Update(ctx, last.ID, UpdateRequest{
		Status: &pending, UserID: &noUser, ExpectStatus: model.TicketStatusClosed,
	})
	if errors.Is(err, errs.ErrDuplicate) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// тикет успели переоткрыть или перенаправить: берём его, если он открыт
	if !res.Ticket.Status.IsOpen() {
		return nil, nil
	}
	logrus.WithFields(logrus.Fields{"ticket_id": res.Ticket.ID, "company_id": res.Ticket.CompanyID}).Info("ticket: reopened")
	return r.refresh(ctx, res.Ticket, in)
}
