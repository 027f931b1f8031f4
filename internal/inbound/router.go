// Package inbound маршрутизирует входящие сообщения WhatsApp: контакт, тикет, NPS, сохранение и цепочка
// шлюзов (расписание, интеграции, меню очередей, чат-бот очереди).
package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/psds-microservice/chat-ticket-service/internal/ack"
	"github.com/psds-microservice/chat-ticket-service/internal/botmenu"
	"github.com/psds-microservice/chat-ticket-service/internal/cache"
	"github.com/psds-microservice/chat-ticket-service/internal/clock"
	"github.com/psds-microservice/chat-ticket-service/internal/contact"
	"github.com/psds-microservice/chat-ticket-service/internal/errs"
	"github.com/psds-microservice/chat-ticket-service/internal/eventbus"
	"github.com/psds-microservice/chat-ticket-service/internal/integration"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/outbound"
	"github.com/psds-microservice/chat-ticket-service/internal/render"
	"github.com/psds-microservice/chat-ticket-service/internal/schedule"
	"github.com/psds-microservice/chat-ticket-service/internal/store"
	"github.com/psds-microservice/chat-ticket-service/internal/ticket"
	"github.com/psds-microservice/chat-ticket-service/internal/transport"
	"github.com/sirupsen/logrus"
)

// AudioNotAcceptedText is the reply to voice notes when the contact or company refuses audio.
const AudioNotAcceptedText = "Infelizmente não conseguimos ouvir nem enviar áudios por este canal. Por favor, envie uma mensagem de texto."

type Deps struct {
	Store        store.Store
	Contacts     *contact.Resolver
	Tickets      *ticket.Resolver
	Lifecycle    *ticket.Lifecycle
	Counters     cache.Counters
	Sender       outbound.Sender
	Bus          eventbus.Publisher
	Gate         *schedule.Gate
	Menu         *botmenu.Menu
	Chatbot      *botmenu.Chatbot
	Integrations *integration.Dispatcher
	Acks         *ack.Reconciler
	Clock        clock.Clock
}

// Router implements transport.Handler.
type Router struct {
	d Deps
}

var _ transport.Handler = (*Router)(nil)

func NewRouter(d Deps) *Router {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	return &Router{d: d}
}

// HandleReceipt applies a delivery receipt.
func (r *Router) HandleReceipt(ctx context.Context, rc transport.Receipt) error {
	return r.d.Acks.Apply(ctx, rc.CompanyID, rc.MessageID, ack.LevelFromStatus(rc.Status))
}

// HandleInbound is the transport.Handler entry point.
func (r *Router) HandleInbound(ctx context.Context, ev transport.InboundEvent) error {
	return r.HandleMessage(ctx, ev)
}

// HandleMessage runs the routing pipeline for one event. Every stage is safe to re-run for the same event:
// the message is stored once per wid and the gates re-evaluate to the same decision.
func (r *Router) HandleMessage(ctx context.Context, ev transport.InboundEvent) error {
	log := logrus.WithFields(logrus.Fields{"company_id": ev.CompanyID, "wid": ev.ID, "connection_id": ev.ConnectionID})

	if ev.IsBroadcast() {
		return nil
	}
	if !transport.KnownType(ev.Type) {
		log.WithFields(logrus.Fields{"type": ev.Type, "stage": "validity"}).Warn("inbound: unknown message type")
		return nil
	}
	if ev.FromMe && !selfSentAccepted(ev) {
		return nil
	}

	w, err := r.d.Store.GetWhatsapp(ctx, ev.ConnectionID)
	if errors.Is(err, errs.ErrConnectionNotFound) {
		log.Warn("inbound: unknown connection")
		return nil
	}
	if err != nil {
		return err
	}
	if ev.CompanyID == 0 {
		ev.CompanyID = w.CompanyID
	}
	if ev.IsGroup && !w.AllowGroup {
		return nil
	}

	owner, sender, err := r.resolveContacts(ctx, ev)
	if err != nil {
		return fmt.Errorf("inbound: resolve contact: %w", err)
	}
	log = log.WithField("contact_id", owner.ID)

	if seen, err := r.alreadyStored(ctx, ev); err != nil || seen {
		if seen {
			log.WithField("stage", "dedup").Debug("inbound: redelivered message dropped")
		}
		return err
	}

	unread, err := r.unread(ctx, ev, owner)
	if err != nil {
		log.WithError(err).Warn("inbound: unread counter")
	}

	if !ev.FromMe && !ev.Historical {
		if done, err := r.handleRating(ctx, ev, w, owner, sender); done || err != nil {
			return err
		}
	}
	if r.isCompletionEcho(ctx, ev, w, owner) {
		log.WithField("stage", "completion-echo").Debug("inbound: dropped farewell echo")
		return nil
	}
	if ev.Type == transport.TypeEdited || ev.Type == transport.TypeProtocol {
		return r.handleEdit(ctx, ev, log)
	}

	tk, err := r.d.Tickets.FindOrCreate(ctx, ticket.FindOrCreateInput{
		CompanyID: ev.CompanyID, WhatsappID: w.ID, Contact: owner, UnreadMessages: int(unread),
	})
	if err != nil {
		return fmt.Errorf("inbound: find or create ticket: %w", err)
	}
	log = log.WithField("ticket_id", tk.ID)

	now := r.d.Clock.Now()
	if !ev.FromMe && !ev.Historical && schedule.VacationActive(w, now) {
		if _, created, err := r.persist(ctx, ev, tk, sender); err != nil || !created {
			return err
		}
		outbound.SendText(ctx, r.d.Sender, tk, render.Text(w.CollectiveVacationMessage, render.ForTicket(tk, now)))
		log.WithField("stage", "vacation").Info("inbound: collective vacation reply")
		return nil
	}

	tk, created, err := r.persist(ctx, ev, tk, sender)
	if err != nil || !created {
		return err
	}
	if ev.FromMe || ev.Historical || tk.IsGroup || owner.DisableBot {
		return nil
	}
	return r.route(ctx, ev, tk, owner, log)
}

// route runs the bot gates after the message is stored.
func (r *Router) route(ctx context.Context, ev transport.InboundEvent, tk *model.Ticket, owner *model.Contact, log *logrus.Entry) error {
	settings, err := r.d.Store.Settings(ctx, tk.CompanyID)
	if err != nil {
		return err
	}

	if stop, err := r.scheduleGate(ctx, tk, settings, log); stop || err != nil {
		return err
	}

	if r.d.Integrations != nil {
		handled, err := r.d.Integrations.Dispatch(ctx, tk, integration.Request{MessageID: ev.ID, Body: ev.Text(), MediaURL: ev.MediaURL})
		if handled || err != nil {
			return err
		}
	}

	in := botmenu.Input{Ticket: tk, Body: ev.Text()}
	if tk.QueueID == nil && tk.UserID == nil && tk.Whatsapp != nil && len(tk.Whatsapp.Queues) > 0 {
		handled, err := r.d.Menu.Handle(ctx, in)
		if handled || err != nil {
			return err
		}
	}

	if (ev.Type == transport.TypeAudio || ev.Type == transport.TypePTV) && !(settings.AcceptAudioMessageContact && owner.AcceptAudioMessage) {
		outbound.SendText(ctx, r.d.Sender, tk, AudioNotAcceptedText)
		log.WithField("stage", "audio").Info("inbound: audio refused")
		return nil
	}

	if tk.QueueID != nil && tk.UserID == nil {
		if _, err := r.d.Chatbot.Handle(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

// scheduleGate answers out-of-hours messages of tickets nobody is attending yet.
func (r *Router) scheduleGate(ctx context.Context, tk *model.Ticket, settings *model.CompanySettings, log *logrus.Entry) (bool, error) {
	if settings.ScheduleType == "" || settings.ScheduleType == model.ScheduleDisabled {
		return false, nil
	}
	if tk.Status == model.TicketStatusOpen || tk.Status == model.TicketStatusGroup {
		return false, nil
	}
	var queueID uint64
	if tk.QueueID != nil {
		queueID = *tk.QueueID
	}
	st, err := r.d.Gate.CurrentScheduleState(ctx, tk.CompanyID, queueID, derefID(tk.WhatsappID))
	if err != nil {
		log.WithError(err).Warn("inbound: schedule state")
		return false, nil
	}
	if st.InActivity {
		if tk.IsOutOfHour {
			off := false
			if _, err := r.d.Lifecycle.Touch(ctx, tk.ID, ticket.Patch{IsOutOfHour: &off}); err != nil {
				return false, err
			}
			tk.IsOutOfHour = false
		}
		return false, nil
	}

	now := r.d.Clock.Now()
	tr, err := r.d.Store.Tracking(ctx, tk)
	if err != nil {
		return true, err
	}
	if schedule.BotSuppressed(tk, tr, tk.Whatsapp, now) {
		return true, nil
	}
	text := ""
	if tk.Queue != nil && settings.ScheduleType == model.ScheduleQueue {
		text = tk.Queue.OutOfHoursMessage
	}
	if text == "" && tk.Whatsapp != nil {
		text = tk.Whatsapp.OutOfHoursMessage
	}
	if text != "" {
		outbound.SendText(ctx, r.d.Sender, tk, render.Text(text, render.ForTicket(tk, now)))
	}
	on := true
	if _, err := r.d.Lifecycle.Touch(ctx, tk.ID, ticket.Patch{IsOutOfHour: &on, IncrementBotUses: true}); err != nil {
		return true, err
	}
	if tr.ChatbotAt == nil {
		tr.ChatbotAt = &now
		if err := r.d.Store.SaveTracking(ctx, tr); err != nil {
			log.WithError(err).Warn("inbound: stamp chatbot_at")
		}
	}
	log.WithField("stage", "schedule").Info("inbound: out of hours")
	return true, nil
}

// selfSentAccepted keeps the account's own messages that matter to the conversation history.
func selfSentAccepted(ev transport.InboundEvent) bool {
	if transport.IsMediaType(ev.Type) {
		return true
	}
	switch ev.Type {
	case transport.TypeConversation, transport.TypeExtendedText, transport.TypeContact,
		transport.TypeReaction, transport.TypeEdited, transport.TypeProtocol:
		return true
	}
	return false
}

func (r *Router) resolveContacts(ctx context.Context, ev transport.InboundEvent) (owner, sender *model.Contact, err error) {
	if !ev.IsGroup {
		name := ev.PushName
		if ev.FromMe {
			name = ""
		}
		c, err := r.d.Contacts.Resolve(ctx, contact.Input{CompanyID: ev.CompanyID, JID: ev.ChatID, Name: name, Aliases: ev.Aliases})
		return c, c, err
	}
	group, err := r.d.Contacts.Resolve(ctx, contact.Input{CompanyID: ev.CompanyID, JID: ev.ChatID, IsGroup: true, Aliases: ev.Aliases})
	if err != nil {
		return nil, nil, err
	}
	if ev.FromMe || ev.Participant == "" {
		return group, nil, nil
	}
	member, err := r.d.Contacts.Resolve(ctx, contact.Input{CompanyID: ev.CompanyID, JID: ev.Participant, Name: ev.PushName, Aliases: ev.Aliases})
	if err != nil {
		return nil, nil, err
	}
	return group, member, nil
}

func (r *Router) unread(ctx context.Context, ev transport.InboundEvent, c *model.Contact) (int64, error) {
	if r.d.Counters == nil {
		return 0, nil
	}
	if ev.FromMe {
		return 0, r.d.Counters.ResetUnread(ctx, ev.CompanyID, c.ID)
	}
	return r.d.Counters.IncrUnread(ctx, ev.CompanyID, c.ID)
}

// handleRating gives a bare grade priority over every other stage when the contact's last ticket waits
// for one. A non-grade reply to an nps ticket ends the survey and lets the message open a new conversation.
func (r *Router) handleRating(ctx context.Context, ev transport.InboundEvent, w *model.Whatsapp, owner, sender *model.Contact) (bool, error) {
	if owner.IsGroup {
		return false, nil
	}
	prior, err := r.d.Store.LatestTicket(ctx, owner.ID, &w.ID)
	if errors.Is(err, errs.ErrTicketNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	tr, err := r.d.Store.Tracking(ctx, prior)
	if err != nil {
		return false, err
	}
	awaiting := prior.Status == model.TicketStatusNPS || (prior.Status == model.TicketStatusClosed && tr.AwaitingRating())
	if !awaiting || tr.Rated {
		return false, nil
	}
	log := logrus.WithFields(logrus.Fields{"ticket_id": prior.ID, "company_id": prior.CompanyID, "wid": ev.ID, "stage": "nps"})

	rate, ok := ticket.ParseRating(ev.Text())
	if !ok {
		if prior.Status == model.TicketStatusNPS {
			if _, err := r.d.Lifecycle.FinishWithoutRating(ctx, prior.ID); err != nil {
				log.WithError(err).Warn("inbound: finish survey")
			}
		}
		return false, nil
	}
	full, err := r.d.Store.GetTicket(ctx, prior.ID)
	if err != nil {
		return true, err
	}
	if _, created, err := r.persist(ctx, ev, full, sender); err != nil || !created {
		return true, err
	}
	if _, err := r.d.Lifecycle.Rate(ctx, prior.ID, rate); err != nil {
		if errors.Is(err, ticket.ErrNotAwaitingRating) {
			return true, nil
		}
		return true, err
	}
	log.WithField("rate", rate).Info("inbound: rating recorded")
	return true, nil
}

// isCompletionEcho drops the connection's own farewell reflected back into a closed conversation.
func (r *Router) isCompletionEcho(ctx context.Context, ev transport.InboundEvent, w *model.Whatsapp, owner *model.Contact) bool {
	if w.CompletionMessage == "" || ev.Body == "" {
		return false
	}
	prior, err := r.d.Store.LatestTicket(ctx, owner.ID, &w.ID)
	if err != nil || prior.Status != model.TicketStatusClosed {
		return false
	}
	full, err := r.d.Store.GetTicket(ctx, prior.ID)
	if err != nil {
		return false
	}
	rendered := render.Text(w.CompletionMessage, render.ForTicket(full, r.d.Clock.Now()))
	return strings.TrimSpace(ev.Body) == strings.TrimSpace(rendered)
}

func (r *Router) handleEdit(ctx context.Context, ev transport.InboundEvent, log *logrus.Entry) error {
	if ev.EditedID == "" {
		return nil
	}
	m, err := r.d.Store.FindMessageByWID(ctx, ev.CompanyID, ev.EditedID)
	if errors.Is(err, errs.ErrMessageNotFound) {
		log.WithField("edited_id", ev.EditedID).Debug("inbound: edit for unknown message")
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.d.Store.UpdateMessageBody(ctx, m.ID, ev.Body, true); err != nil {
		return err
	}
	full, err := r.d.Store.GetMessage(ctx, m.ID)
	if err != nil {
		return err
	}
	if r.d.Bus != nil {
		r.d.Bus.Publish(ctx, full.CompanyID, eventbus.MessageUpdated(full))
	}
	log.WithFields(logrus.Fields{"stage": "edit", "message_id": m.ID}).Info("inbound: message edited")
	return nil
}

// alreadyStored reports a redelivery: the wid was persisted by an earlier run, which already took every
// routing decision for it.
func (r *Router) alreadyStored(ctx context.Context, ev transport.InboundEvent) (bool, error) {
	if ev.ID == "" {
		return false, nil
	}
	_, err := r.d.Store.FindMessageByWID(ctx, ev.CompanyID, ev.ID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errs.ErrMessageNotFound):
		return false, nil
	}
	return false, fmt.Errorf("inbound: lookup wid: %w", err)
}

// persist stores the message once per wid and refreshes the ticket's last message. It returns the reloaded
// ticket; created is false when a concurrent delivery stored the wid first.
func (r *Router) persist(ctx context.Context, ev transport.InboundEvent, tk *model.Ticket, sender *model.Contact) (*model.Ticket, bool, error) {
	m := &model.Message{
		CompanyID: ev.CompanyID,
		WID:       ev.ID,
		TicketID:  tk.ID,
		Body:      ev.Body,
		FromMe:    ev.FromMe,
		Ack:       model.AckSent,
		MediaType: ev.MediaType,
		MediaURL:  ev.MediaURL,
	}
	if m.MediaType == "" && transport.IsMediaType(ev.Type) {
		m.MediaType = ev.Type
	}
	if sender != nil {
		m.ContactID = &sender.ID
	}
	if len(ev.Raw) > 0 {
		m.DataJSON = []byte(ev.Raw)
	}
	created, err := r.d.Store.CreateMessage(ctx, m)
	if err != nil {
		return nil, false, fmt.Errorf("inbound: store message: %w", err)
	}
	if !created {
		logrus.WithFields(logrus.Fields{"wid": ev.ID, "ticket_id": tk.ID}).Debug("inbound: duplicate message")
		return tk, false, nil
	}
	last := ev.Body
	if last == "" && m.MediaType != "" {
		last = m.MediaType
	}
	updated, err := r.d.Lifecycle.Touch(ctx, tk.ID, ticket.Patch{LastMessage: &last})
	if err != nil {
		return nil, true, err
	}
	if r.d.Bus != nil {
		full, err := r.d.Store.GetMessage(ctx, m.ID)
		if err == nil {
			r.d.Bus.Publish(ctx, full.CompanyID, eventbus.MessageUpdated(full))
		}
	}
	return updated, true, nil
}

func derefID(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
