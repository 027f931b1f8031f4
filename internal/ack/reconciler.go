// Package ack applies delivery receipts to stored messages. Ack only moves forward.
package ack

import (
	"context"
	"errors"

	"github.com/psds-microservice/chat-ticket-service/internal/errs"
	"github.com/psds-microservice/chat-ticket-service/internal/eventbus"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/store"
	"github.com/sirupsen/logrus"
)

// LevelFromStatus maps transport status codes to stored ack levels. Level 1 is never stored:
// pending, server-ack and error all count as sent.
func LevelFromStatus(code int) int {
	switch {
	case code >= 5:
		return model.AckPlayed
	case code == 4:
		return model.AckRead
	case code == 3:
		return model.AckDelivered
	}
	return model.AckSent
}

type Reconciler struct {
	messages store.MessageStore
	bus      eventbus.Publisher
}

func NewReconciler(messages store.MessageStore, bus eventbus.Publisher) *Reconciler {
	return &Reconciler{messages: messages, bus: bus}
}

// Apply raises the ack of the message identified by messageID (logical id, wid or numeric pk) to level.
// Unknown messages are ignored: receipts may arrive before the message is stored.
func (r *Reconciler) Apply(ctx context.Context, companyID uint64, messageID string, level int) error {
	msg, err := r.messages.FindMessageForAck(ctx, companyID, messageID)
	if errors.Is(err, errs.ErrMessageNotFound) {
		logrus.WithFields(logrus.Fields{"company_id": companyID, "wid": messageID}).Debug("ack: message not found")
		return nil
	}
	if err != nil {
		return err
	}
	if level <= msg.Ack {
		return nil
	}
	changed, err := r.messages.RaiseAck(ctx, msg.ID, level)
	if err != nil || !changed {
		return err
	}
	full, err := r.messages.GetMessage(ctx, msg.ID)
	if err != nil {
		return err
	}
	if r.bus != nil {
		r.bus.Publish(ctx, companyID, eventbus.MessageUpdated(full))
	}
	return nil
}
