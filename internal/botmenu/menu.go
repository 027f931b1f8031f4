// Package botmenu ведёт контакт по меню очередей подключения и по подменю (чат-боту) выбранной очереди.
// Все отправки меню проходят через debounce по тикету: серия входящих сообщений даёт одно меню.
package botmenu

import (
	"context"
	"fmt"
	"time"

	"github.com/psds-microservice/chat-ticket-service/internal/clock"
	"github.com/psds-microservice/chat-ticket-service/internal/debounce"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/outbound"
	"github.com/psds-microservice/chat-ticket-service/internal/render"
	"github.com/psds-microservice/chat-ticket-service/internal/schedule"
	"github.com/psds-microservice/chat-ticket-service/internal/store"
	"github.com/psds-microservice/chat-ticket-service/internal/ticket"
	"github.com/sirupsen/logrus"
)

const (
	DefaultWindow        = 2 * time.Second
	DefaultPostSendDelay = time.Second
)

type Deps struct {
	Tickets   store.TicketStore
	Catalog   store.CatalogStore
	Lifecycle ticket.Servicer
	Sender    outbound.Sender
	Gate      *schedule.Gate
	Debounce  debounce.Scheduler
	Clock     clock.Clock
	// Window is the debounce window of menu sends.
	Window time.Duration
	// PostSendDelay separates a greeting from the messages that follow it.
	PostSendDelay time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Window <= 0 {
		d.Window = DefaultWindow
	}
	if d.PostSendDelay < 0 {
		d.PostSendDelay = 0
	}
	return d
}

// Input is one inbound reply routed to a menu.
type Input struct {
	// Ticket must carry its Contact, Queue (with Chatbots) and Whatsapp (with Queues).
	Ticket *model.Ticket
	Body   string
}

// Menu обрабатывает тикеты без очереди и без агента.
type Menu struct {
	d       Deps
	chatbot *Chatbot
}

func NewMenu(d Deps, chatbot *Chatbot) *Menu {
	return &Menu{d: d.withDefaults(), chatbot: chatbot}
}

// Handle routes a reply of a ticket waiting for a queue. It returns false when the connection has no
// queues and the menu does not apply.
func (m *Menu) Handle(ctx context.Context, in Input) (bool, error) {
	t := in.Ticket
	if t.Whatsapp == nil || len(t.Whatsapp.Queues) == 0 {
		return false, nil
	}
	settings, err := m.d.Catalog.Settings(ctx, t.CompanyID)
	if err != nil {
		return true, err
	}
	queues := t.Whatsapp.Queues

	if isExit(in.Body) {
		return true, closeByContact(ctx, m.d.Lifecycle, t)
	}
	if len(queues) == 1 {
		return true, m.choose(ctx, t, &queues[0], settings, settings.SendGreetingMessageOneQueues)
	}
	if i, ok := parseChoice(in.Body, len(queues)); ok {
		return true, m.choose(ctx, t, &queues[i], settings, true)
	}
	return true, m.sendMenu(ctx, t, settings)
}

func closeByContact(ctx context.Context, lc ticket.Servicer, t *model.Ticket) error {
	closed := model.TicketStatusClosed
	_, err := lc.Update(ctx, t.ID, ticket.UpdateRequest{Status: &closed})
	return err
}

// choose assigns q. A queue with a sub-menu hands the ticket to its chatbot; otherwise the greeting goes
// out first, so that an auto-closing queue still greets.
func (m *Menu) choose(ctx context.Context, t *model.Ticket, q *model.Queue, settings *model.CompanySettings, greet bool) error {
	log := logrus.WithFields(logrus.Fields{"ticket_id": t.ID, "company_id": t.CompanyID, "queue_id": q.ID})
	now := m.d.Clock.Now()

	if settings.ScheduleType == model.ScheduleQueue && m.d.Gate != nil {
		st, err := m.d.Gate.CurrentScheduleState(ctx, t.CompanyID, q.ID, derefID(t.WhatsappID))
		if err != nil {
			log.WithError(err).Warn("botmenu: schedule state")
		} else if !st.InActivity {
			return m.outOfHours(ctx, t, q, now)
		}
	}

	if len(rootOptions(q)) > 0 {
		res, err := m.d.Lifecycle.Update(ctx, t.ID, ticket.UpdateRequest{QueueID: &q.ID, IsBot: boolPtr(true), QueueOptionID: idPtr(0)})
		if err != nil {
			return err
		}
		m.logQueue(ctx, res.Ticket)
		log.Info("botmenu: queue with chatbot selected")
		return m.chatbot.Start(ctx, res.Ticket)
	}

	greeted := withQueue(t, q)
	if greet && q.GreetingMessage != "" {
		if outbound.SendText(ctx, m.d.Sender, greeted, render.Text(q.GreetingMessage, render.ForTicket(greeted, now))) {
			m.d.Clock.Sleep(m.d.PostSendDelay)
		}
	}
	res, err := m.d.Lifecycle.Update(ctx, t.ID, ticket.UpdateRequest{QueueID: &q.ID, IsBot: boolPtr(false)})
	if err != nil {
		return err
	}
	m.logQueue(ctx, res.Ticket)
	log.Info("botmenu: queue selected")
	if q.CloseTicket || !settings.SendQueuePosition || res.Ticket.Status != model.TicketStatusPending {
		return nil
	}
	n, err := m.d.Tickets.CountPendingInQueue(ctx, t.CompanyID, q.ID)
	if err != nil {
		log.WithError(err).Warn("botmenu: queue position")
		return nil
	}
	outbound.SendText(ctx, m.d.Sender, res.Ticket, QueuePositionText(n))
	return nil
}

// QueuePositionText announces the contact's position among pending tickets of the queue.
func QueuePositionText(n int64) string {
	return fmt.Sprintf("*Você é o %dº da fila.* Aguarde, em breve você será atendido.", n)
}

func (m *Menu) outOfHours(ctx context.Context, t *model.Ticket, q *model.Queue, now time.Time) error {
	res, err := m.d.Lifecycle.Update(ctx, t.ID, ticket.UpdateRequest{QueueID: &q.ID})
	if err != nil {
		return err
	}
	text := q.OutOfHoursMessage
	if text == "" && t.Whatsapp != nil {
		text = t.Whatsapp.OutOfHoursMessage
	}
	if text != "" {
		outbound.SendText(ctx, m.d.Sender, res.Ticket, render.Text(text, render.ForTicket(res.Ticket, now)))
	}
	_, err = m.d.Lifecycle.Touch(ctx, t.ID, ticket.Patch{IsOutOfHour: boolPtr(true)})
	return err
}

// sendMenu schedules the queue menu. The debounced send re-reads the ticket and gives up when a queue or
// agent was assigned in the meantime.
func (m *Menu) sendMenu(ctx context.Context, t *model.Ticket, settings *model.CompanySettings) error {
	tr, err := m.d.Tickets.Tracking(ctx, t)
	if err != nil {
		return err
	}
	if schedule.BotSuppressed(t, tr, t.Whatsapp, m.d.Clock.Now()) {
		logrus.WithField("ticket_id", t.ID).Debug("botmenu: menu suppressed")
		return nil
	}
	bg := context.WithoutCancel(ctx)
	ticketID := t.ID
	m.d.Debounce.Schedule(menuKey(ticketID), m.d.Window, func() {
		cur, err := m.d.Tickets.GetTicket(bg, ticketID)
		if err != nil {
			logrus.WithError(err).WithField("ticket_id", ticketID).Warn("botmenu: reload before menu")
			return
		}
		if cur.QueueID != nil || cur.UserID != nil || cur.Status != model.TicketStatusPending || cur.Whatsapp == nil {
			return
		}
		titles := make([]string, len(cur.Whatsapp.Queues))
		for i, q := range cur.Whatsapp.Queues {
			titles[i] = q.Name
		}
		header := render.Text(menuHeader(cur.Whatsapp.GreetingMessage), render.ForTicket(cur, m.d.Clock.Now()))
		p := RendererFor(settings.ChatBotType).Render(Prompt{Header: header, Items: numbered(titles)})
		if !outbound.SendPayload(bg, m.d.Sender, cur, p) {
			return
		}
		m.afterBotSend(bg, cur)
	})
	return nil
}

func menuHeader(greeting string) string {
	if greeting != "" {
		return greeting
	}
	return "{{ms}} *{{name}}*, escolha uma das opções:"
}

// afterBotSend counts the bot reply and anchors the cool-down on the first one.
func (m *Menu) afterBotSend(ctx context.Context, t *model.Ticket) {
	if _, err := m.d.Lifecycle.Touch(ctx, t.ID, ticket.Patch{IncrementBotUses: true}); err != nil {
		logrus.WithError(err).WithField("ticket_id", t.ID).Warn("botmenu: count bot use")
	}
	stampChatbot(ctx, m.d.Tickets, t, m.d.Clock.Now())
	m.d.Clock.Sleep(m.d.PostSendDelay)
}

func stampChatbot(ctx context.Context, tickets store.TicketStore, t *model.Ticket, now time.Time) {
	tr, err := tickets.Tracking(ctx, t)
	if err != nil || tr.ChatbotAt != nil {
		return
	}
	tr.ChatbotAt = &now
	if err := tickets.SaveTracking(ctx, tr); err != nil {
		logrus.WithError(err).WithField("ticket_id", t.ID).Warn("botmenu: stamp chatbot_at")
	}
}

func (m *Menu) logQueue(ctx context.Context, t *model.Ticket) {
	if err := m.d.Tickets.CreateLog(ctx, &model.LogTicket{TicketID: t.ID, QueueID: t.QueueID, Type: model.LogQueue}); err != nil {
		logrus.WithError(err).WithField("ticket_id", t.ID).Warn("botmenu: queue log")
	}
}

func menuKey(ticketID uint64) string { return fmt.Sprintf("menu:%d", ticketID) }

func withQueue(t *model.Ticket, q *model.Queue) *model.Ticket {
	c := *t
	c.Queue = q
	c.QueueID = &q.ID
	return &c
}

func boolPtr(v bool) *bool     { return &v }
func idPtr(v uint64) *uint64   { return &v }
func derefID(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
