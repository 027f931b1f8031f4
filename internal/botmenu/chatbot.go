package botmenu

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/outbound"
	"github.com/psds-microservice/chat-ticket-service/internal/render"
	"github.com/psds-microservice/chat-ticket-service/internal/schedule"
	"github.com/psds-microservice/chat-ticket-service/internal/ticket"
	"github.com/sirupsen/logrus"
)

// Chatbot ведёт контакт по дереву QueueOption выбранной очереди. Текущий узел хранится в
// ticket.QueueOptionID (nil: корень очереди), IsBot=true пока бот ведёт диалог.
type Chatbot struct {
	d Deps
}

func NewChatbot(d Deps) *Chatbot {
	return &Chatbot{d: d.withDefaults()}
}

// Start enters the queue's sub-menu at its root.
func (c *Chatbot) Start(ctx context.Context, t *model.Ticket) error {
	if t.Queue == nil {
		return nil
	}
	return c.sendLevel(ctx, t, nil)
}

// Handle interprets a reply inside the queue's sub-menu. It returns false when the ticket is not in a
// chatbot conversation.
func (c *Chatbot) Handle(ctx context.Context, in Input) (bool, error) {
	t := in.Ticket
	q := t.Queue
	if q == nil || t.UserID != nil || len(rootOptions(q)) == 0 || !t.IsBot {
		return false, nil
	}
	log := logrus.WithFields(logrus.Fields{"ticket_id": t.ID, "company_id": t.CompanyID, "queue_id": q.ID})

	switch {
	case isExit(in.Body):
		return true, closeByContact(ctx, c.d.Lifecycle, t)
	case in.Body == BackCommand:
		if _, err := c.d.Lifecycle.Touch(ctx, t.ID, ticket.Patch{QueueOptionID: idPtr(0)}); err != nil {
			return true, err
		}
		return true, c.sendLevel(ctx, t, nil)
	}

	opts := childOptions(q, t.QueueOptionID)
	i, ok := parseChoice(in.Body, len(opts))
	if !ok {
		return true, c.sendLevel(ctx, t, t.QueueOptionID)
	}
	chosen := opts[i]
	log = log.WithField("option_id", chosen.ID)
	now := c.d.Clock.Now()

	if chosen.CloseTicket {
		if chosen.Message != "" {
			outbound.SendText(ctx, c.d.Sender, t, render.Text(chosen.Message, render.ForTicket(t, now)))
			c.d.Clock.Sleep(c.d.PostSendDelay)
		}
		log.Info("botmenu: option closes ticket")
		return true, closeByContact(ctx, c.d.Lifecycle, t)
	}

	if chosen.ForwardQueueID != nil {
		if chosen.Message != "" {
			outbound.SendText(ctx, c.d.Sender, t, render.Text(chosen.Message, render.ForTicket(t, now)))
		}
		res, err := c.d.Lifecycle.Update(ctx, t.ID, ticket.UpdateRequest{
			QueueID: chosen.ForwardQueueID, IsBot: boolPtr(false), QueueOptionID: idPtr(0),
		})
		if err != nil {
			return true, err
		}
		log.WithField("forward_queue_id", *chosen.ForwardQueueID).Info("botmenu: option forwards ticket")
		if fq := res.Ticket.Queue; fq != nil && len(rootOptions(fq)) > 0 && res.Ticket.Status.IsOpen() {
			if _, err := c.d.Lifecycle.Touch(ctx, t.ID, ticket.Patch{IsBot: boolPtr(true)}); err != nil {
				return true, err
			}
			return true, c.Start(ctx, res.Ticket)
		}
		return true, nil
	}

	if len(childOptions(q, &chosen.ID)) > 0 {
		if _, err := c.d.Lifecycle.Touch(ctx, t.ID, ticket.Patch{QueueOptionID: &chosen.ID}); err != nil {
			return true, err
		}
		return true, c.sendLevel(ctx, t, &chosen.ID)
	}

	// leaf: the answer is the option message, then the conversation waits for an agent
	if chosen.Message != "" {
		outbound.SendText(ctx, c.d.Sender, t, render.Text(chosen.Message, render.ForTicket(t, now)))
	}
	_, err := c.d.Lifecycle.Touch(ctx, t.ID, ticket.Patch{QueueOptionID: &chosen.ID, IsBot: boolPtr(false)})
	return true, err
}

// sendLevel schedules the menu of the node parent (nil for the queue root).
func (c *Chatbot) sendLevel(ctx context.Context, t *model.Ticket, parent *uint64) error {
	tr, err := c.d.Tickets.Tracking(ctx, t)
	if err != nil {
		return err
	}
	if schedule.BotSuppressed(t, tr, t.Whatsapp, c.d.Clock.Now()) {
		return nil
	}
	settings, err := c.d.Catalog.Settings(ctx, t.CompanyID)
	if err != nil {
		return err
	}
	bg := context.WithoutCancel(ctx)
	ticketID, queueID := t.ID, derefID(t.QueueID)
	want := derefID(parent)
	c.d.Debounce.Schedule(menuKey(ticketID), c.d.Window, func() {
		cur, err := c.d.Tickets.GetTicket(bg, ticketID)
		if err != nil {
			logrus.WithError(err).WithField("ticket_id", ticketID).Warn("botmenu: reload before chatbot menu")
			return
		}
		if cur.Queue == nil || cur.UserID != nil || derefID(cur.QueueID) != queueID ||
			derefID(cur.QueueOptionID) != want || !cur.Status.IsOpen() {
			return
		}
		p := RendererFor(settings.ChatBotType).Render(levelPrompt(cur, parent, c.d.Clock.Now()))
		if !outbound.SendPayload(bg, c.d.Sender, cur, p) {
			return
		}
		if _, err := c.d.Lifecycle.Touch(bg, ticketID, ticket.Patch{IncrementBotUses: true}); err != nil {
			logrus.WithError(err).WithField("ticket_id", ticketID).Warn("botmenu: count bot use")
		}
		stampChatbot(bg, c.d.Tickets, cur, c.d.Clock.Now())
	})
	return nil
}

func levelPrompt(t *model.Ticket, parent *uint64, now time.Time) Prompt {
	q := t.Queue
	header := q.GreetingMessage
	if parent != nil {
		for _, o := range q.Chatbots {
			if o.ID == *parent {
				header = o.Message
				if header == "" {
					header = o.Title
				}
			}
		}
	}
	if header == "" {
		header = fmt.Sprintf("*%s*\nEscolha uma opção:", q.Name)
	}
	opts := childOptions(q, parent)
	titles := make([]string, len(opts))
	for i, o := range opts {
		titles[i] = o.Title
	}
	return Prompt{
		Header: render.Text(header, render.ForTicket(t, now)),
		Items:  numbered(titles),
		Back:   parent != nil,
	}
}

func rootOptions(q *model.Queue) []model.QueueOption {
	return childOptions(q, nil)
}

// childOptions returns the direct children of parent ordered by SortOrder.
func childOptions(q *model.Queue, parent *uint64) []model.QueueOption {
	var out []model.QueueOption
	for _, o := range q.Chatbots {
		if model.SameID(o.ParentID, parent) || (parent != nil && *parent == 0 && o.ParentID == nil) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}
