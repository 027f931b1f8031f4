package integration

import (
	"context"
	"errors"

	"github.com/psds-microservice/chat-ticket-service/internal/errs"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/outbound"
	"github.com/psds-microservice/chat-ticket-service/internal/store"
	"github.com/psds-microservice/chat-ticket-service/internal/ticket"
	"github.com/sirupsen/logrus"
)

// Dispatcher decides whether a message belongs to an external runner and applies the runner's reply
// through the ticket lifecycle.
type Dispatcher struct {
	delegate  Delegate
	catalog   store.CatalogStore
	lifecycle ticket.Servicer
	sender    outbound.Sender
}

func NewDispatcher(delegate Delegate, catalog store.CatalogStore, lc ticket.Servicer, sender outbound.Sender) *Dispatcher {
	return &Dispatcher{delegate: delegate, catalog: catalog, lifecycle: lc, sender: sender}
}

// Target returns the integration that owns t: the one already attached to the ticket, or the
// connection's default for a ticket nobody has picked up yet. Nil when none applies.
func (d *Dispatcher) Target(ctx context.Context, t *model.Ticket) (*model.QueueIntegration, error) {
	if t.UserID != nil || t.IsGroup {
		return nil, nil
	}
	var id *uint64
	switch {
	case t.UseIntegration && t.IntegrationID != nil:
		id = t.IntegrationID
	case t.QueueID == nil && t.Whatsapp != nil && t.Whatsapp.IntegrationID != nil:
		id = t.Whatsapp.IntegrationID
	default:
		return nil, nil
	}
	in, err := d.catalog.GetIntegration(ctx, *id)
	if errors.Is(err, errs.ErrIntegrationNotFound) {
		return nil, nil
	}
	return in, err
}

// Dispatch hands the message to the owning integration. handled is false when no integration owns the
// ticket. Runner failures are logged and still count as handled: the contact is not routed elsewhere
// while the runner owns the conversation.
func (d *Dispatcher) Dispatch(ctx context.Context, t *model.Ticket, req Request) (bool, error) {
	in, err := d.Target(ctx, t)
	if err != nil || in == nil {
		return false, err
	}
	log := logrus.WithFields(logrus.Fields{"ticket_id": t.ID, "company_id": t.CompanyID, "integration": in.Type})

	if !t.UseIntegration || t.IntegrationID == nil || *t.IntegrationID != in.ID {
		on := true
		if _, err := d.lifecycle.Touch(ctx, t.ID, ticket.Patch{UseIntegration: &on, IntegrationID: &in.ID}); err != nil {
			return true, err
		}
	}

	req.Integration, req.Ticket = in, t
	reply, err := d.delegate.Reply(ctx, req)
	if err != nil {
		log.WithError(err).Warn("integration: delegate failed")
		return true, nil
	}
	for _, text := range reply.Texts {
		outbound.SendText(ctx, d.sender, t, text)
	}

	patch := ticket.Patch{}
	if reply.FlowID != t.LastFlowID {
		flow := reply.FlowID
		patch.LastFlowID = &flow
	}
	if len(reply.Data) > 0 {
		patch.FlowData = reply.Data
	}
	switch {
	case reply.Close:
		closed := model.TicketStatusClosed
		_, err = d.lifecycle.Update(ctx, t.ID, ticket.UpdateRequest{Status: &closed})
		log.Info("integration: runner closed ticket")
		return true, err
	case reply.QueueID != 0:
		off := false
		q := reply.QueueID
		_, err = d.lifecycle.Update(ctx, t.ID, ticket.UpdateRequest{QueueID: &q, UseIntegration: &off, IntegrationID: new(uint64)})
		log.WithField("queue_id", q).Info("integration: runner transferred ticket")
		return true, err
	case reply.Done:
		off := false
		patch.UseIntegration = &off
		patch.IntegrationID = new(uint64)
		log.Info("integration: runner finished")
	}
	if patch.LastFlowID != nil || patch.FlowData != nil || patch.UseIntegration != nil {
		_, err = d.lifecycle.Touch(ctx, t.ID, patch)
	}
	return true, err
}
