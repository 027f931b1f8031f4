package ticket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/psds-microservice/chat-ticket-service/internal/clock"
	"github.com/psds-microservice/chat-ticket-service/internal/errs"
	"github.com/psds-microservice/chat-ticket-service/internal/eventbus"
	"github.com/psds-microservice/chat-ticket-service/internal/lock"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/outbound"
	"github.com/psds-microservice/chat-ticket-service/internal/store"
	"github.com/psds-microservice/chat-ticket-service/internal/store/memstore"
	"github.com/psds-microservice/chat-ticket-service/internal/transport"
)

type fixture struct {
	st      *memstore.Store
	clk     *clock.FakeClock
	tr      *transport.RecordingSender
	bus     *eventbus.Recorder
	lc      *Lifecycle
	res     *Resolver
	contact *model.Contact
	wa      *model.Whatsapp
	qA, qB  *model.Queue
	agent   *model.User
	agent2  *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clk: clock.Fake(time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC)),
		tr:  &transport.RecordingSender{},
		bus: &eventbus.Recorder{},
	}
	f.st = memstore.New(f.clk)
	f.qA = f.st.AddQueue(model.Queue{CompanyID: 1, Name: "Vendas"})
	f.qB = f.st.AddQueue(model.Queue{CompanyID: 1, Name: "Suporte"})
	f.wa = f.st.AddWhatsapp(model.Whatsapp{
		CompanyID:         1,
		Name:              "Principal",
		CompletionMessage: "Até logo, {{name}}!",
		RatingMessage:     "Avalie nosso atendimento",
		TransferMessage:   "Transferido para {{queue}}",
	}, f.qA.ID, f.qB.ID)
	f.contact = f.st.AddContact(model.Contact{CompanyID: 1, Number: "5511999990000", Name: "Ana"})
	f.agent = f.st.AddUser(model.User{CompanyID: 1, Name: "Bruno"})
	f.agent2 = f.st.AddUser(model.User{CompanyID: 1, Name: "Carla"})
	deps := Deps{
		Store:   f.st,
		Catalog: f.st,
		Sender:  outbound.New(f.tr, f.st, f.bus),
		Bus:     f.bus,
		Clock:   f.clk,
		Locks:   lock.NewKeyed(),
	}
	f.lc = NewLifecycle(deps)
	f.res = NewResolver(deps)
	return f
}

func (f *fixture) settings(mut func(*model.CompanySettings)) {
	cs := model.DefaultSettings(1)
	mut(cs)
	f.st.PutSettings(*cs)
}

func (f *fixture) openTicket(status model.TicketStatus, queue *model.Queue, user *model.User) *model.Ticket {
	t := model.Ticket{CompanyID: 1, ContactID: f.contact.ID, WhatsappID: &f.wa.ID, Status: status}
	if queue != nil {
		t.QueueID = &queue.ID
	}
	if user != nil {
		t.UserID = &user.ID
	}
	return f.st.PutTicket(t)
}

func statusPtr(s model.TicketStatus) *model.TicketStatus { return &s }
func idPtr(v uint64) *uint64                             { return &v }

func logTypes(st *memstore.Store, ticketID uint64) []string {
	var out []string
	for _, l := range st.Logs(ticketID) {
		out = append(out, l.Type)
	}
	return out
}

func TestUpdate_CloseSendsFarewell(t *testing.T) {
	f := newFixture(t)
	tk := f.openTicket(model.TicketStatusOpen, f.qA, f.agent)

	res, err := f.lc.Update(context.Background(), tk.ID, UpdateRequest{Status: statusPtr(model.TicketStatusClosed)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Ticket.Status != model.TicketStatusClosed || res.OldStatus != model.TicketStatusOpen {
		t.Fatalf("status = %s (old %s)", res.Ticket.Status, res.OldStatus)
	}
	if got := logTypes(f.st, tk.ID); len(got) != 1 || got[0] != model.LogClosed {
		t.Errorf("logs = %v", got)
	}
	if n := f.bus.Count(eventbus.EntityTicket, eventbus.ActionDelete); n != 1 {
		t.Errorf("delete events = %d, want 1", n)
	}
	if texts := f.tr.Texts(); len(texts) != 1 || texts[0] != "Até logo, Ana!" {
		t.Errorf("sent = %v", texts)
	}
	tr, _ := f.st.Tracking(context.Background(), res.Ticket)
	if tr.ClosedAt == nil || tr.FinishedAt == nil {
		t.Errorf("tracking not stamped: %+v", tr)
	}
}

func TestUpdate_FarewellSkippedForPendingUnlessEnabled(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		noMsg   bool
		want    int
	}{
		{"pending default", false, false, 0},
		{"pending enabled", true, false, 1},
		{"caller suppressed", true, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.settings(func(cs *model.CompanySettings) { cs.SendFarewellWaitingTicket = tt.enabled })
			tk := f.openTicket(model.TicketStatusPending, f.qA, nil)
			req := UpdateRequest{Status: statusPtr(model.TicketStatusClosed)}
			if tt.noMsg {
				no := false
				req.SendFarewellMessage = &no
			}
			if _, err := f.lc.Update(context.Background(), tk.ID, req); err != nil {
				t.Fatal(err)
			}
			if got := len(f.tr.Sent()); got != tt.want {
				t.Errorf("sent %d messages, want %d", got, tt.want)
			}
		})
	}
}

func TestUpdate_NPSHandoffThenRate(t *testing.T) {
	f := newFixture(t)
	f.settings(func(cs *model.CompanySettings) { cs.UserRating = true })
	tk := f.openTicket(model.TicketStatusOpen, f.qA, f.agent)
	ctx := context.Background()

	res, err := f.lc.Update(ctx, tk.ID, UpdateRequest{Status: statusPtr(model.TicketStatusClosed)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Ticket.Status != model.TicketStatusNPS {
		t.Fatalf("status = %s, want nps", res.Ticket.Status)
	}
	tr, _ := f.st.Tracking(ctx, res.Ticket)
	if tr.ClosedAt == nil || tr.RatingAt != nil || !tr.AwaitingRating() {
		t.Fatalf("tracking = %+v", tr)
	}
	if texts := f.tr.Texts(); len(texts) != 1 || !strings.HasPrefix(texts[0], "Avalie nosso atendimento") {
		t.Fatalf("sent = %v", texts)
	}

	closed, err := f.lc.Rate(ctx, tk.ID, 9)
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != model.TicketStatusClosed {
		t.Errorf("status after rating = %s", closed.Status)
	}
	ratings := f.st.Ratings()
	if len(ratings) != 1 || ratings[0].Rate != 9 || ratings[0].UserID == nil || *ratings[0].UserID != f.agent.ID {
		t.Errorf("ratings = %+v", ratings)
	}
	if _, err := f.lc.Rate(ctx, tk.ID, 7); !errors.Is(err, ErrNotAwaitingRating) {
		t.Errorf("second rate err = %v", err)
	}
	if got := logTypes(f.st, tk.ID); strings.Join(got, ",") != "nps,closed" {
		t.Errorf("logs = %v", got)
	}
}

func TestUpdate_NPSOnlyOnce(t *testing.T) {
	f := newFixture(t)
	f.settings(func(cs *model.CompanySettings) { cs.UserRating = true })
	tk := f.openTicket(model.TicketStatusOpen, f.qA, f.agent)
	now := f.clk.Now()
	f.st.PutTracking(model.TicketTracking{TicketID: tk.ID, CompanyID: 1, RatingAt: &now, Rated: true})

	res, err := f.lc.Update(context.Background(), tk.ID, UpdateRequest{Status: statusPtr(model.TicketStatusClosed)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Ticket.Status != model.TicketStatusClosed {
		t.Errorf("status = %s, want closed", res.Ticket.Status)
	}
}

func TestFinishWithoutRating(t *testing.T) {
	f := newFixture(t)
	tk := f.openTicket(model.TicketStatusNPS, f.qA, f.agent)

	got, err := f.lc.FinishWithoutRating(context.Background(), tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.TicketStatusClosed {
		t.Errorf("status = %s", got.Status)
	}
	if len(f.tr.Sent()) != 0 || len(f.st.Ratings()) != 0 {
		t.Errorf("unexpected side effects: sent=%d ratings=%d", len(f.tr.Sent()), len(f.st.Ratings()))
	}
}

func TestUpdate_QueueNotFound(t *testing.T) {
	f := newFixture(t)
	tk := f.openTicket(model.TicketStatusPending, f.qA, nil)

	_, err := f.lc.Update(context.Background(), tk.ID, UpdateRequest{QueueID: idPtr(999)})
	if errs.CodeOf(err) != errs.CodeQueueNotFound {
		t.Fatalf("code = %q (%v)", errs.CodeOf(err), err)
	}
	if errs.StatusOf(err) != http.StatusBadRequest {
		t.Errorf("status = %d", errs.StatusOf(err))
	}
}

func TestUpdate_UnknownTicketIsTypedFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.lc.Update(context.Background(), 12345, UpdateRequest{Status: statusPtr(model.TicketStatusOpen)})
	if errs.CodeOf(err) != errs.CodeUpdateTicket || errs.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdate_ZeroQueueClears(t *testing.T) {
	f := newFixture(t)
	tk := f.openTicket(model.TicketStatusPending, f.qA, nil)

	res, err := f.lc.Update(context.Background(), tk.ID, UpdateRequest{QueueID: idPtr(0)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Ticket.QueueID != nil {
		t.Errorf("queue = %v, want nil", *res.Ticket.QueueID)
	}
}

func TestUpdate_AutoCloseQueue(t *testing.T) {
	tests := []struct {
		name   string
		status model.TicketStatus
		agent  bool
	}{
		{"bot selection", model.TicketStatusPending, false},
		{"attended, ratings on", model.TicketStatusOpen, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.settings(func(cs *model.CompanySettings) { cs.UserRating = true })
			closing := f.st.AddQueue(model.Queue{CompanyID: 1, Name: "Encerrar", CloseTicket: true})
			var agent *model.User
			if tt.agent {
				agent = f.agent
			}
			tk := f.openTicket(tt.status, f.qA, agent)

			res, err := f.lc.Update(context.Background(), tk.ID, UpdateRequest{
				QueueID: &closing.ID, Status: statusPtr(model.TicketStatusOpen),
			})
			if err != nil {
				t.Fatal(err)
			}
			if res.Ticket.Status != model.TicketStatusClosed {
				t.Errorf("status = %s, want closed", res.Ticket.Status)
			}
			if len(f.tr.Sent()) != 0 {
				t.Errorf("auto-close must not send, sent %v", f.tr.Texts())
			}
			if got := logTypes(f.st, tk.ID); len(got) != 1 || got[0] != model.LogClosed {
				t.Errorf("logs = %v", got)
			}
		})
	}
}

func TestUpdate_HardCloseWithoutConnection(t *testing.T) {
	f := newFixture(t)
	tk := f.st.PutTicket(model.Ticket{CompanyID: 1, ContactID: f.contact.ID, Status: model.TicketStatusOpen})

	res, err := f.lc.Update(context.Background(), tk.ID, UpdateRequest{Status: statusPtr(model.TicketStatusClosed)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Ticket.Status != model.TicketStatusClosed || len(f.tr.Sent()) != 0 {
		t.Errorf("status = %s, sent = %d", res.Ticket.Status, len(f.tr.Sent()))
	}
}

func TestUpdate_ReopenGuardRedirects(t *testing.T) {
	f := newFixture(t)
	stale := f.openTicket(model.TicketStatusClosed, f.qA, nil)
	current := f.openTicket(model.TicketStatusPending, f.qA, nil)

	res, err := f.lc.Update(context.Background(), stale.ID, UpdateRequest{Status: statusPtr(model.TicketStatusOpen)})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Redirected || res.Ticket.ID != current.ID {
		t.Fatalf("redirected = %v, ticket = %d, want %d", res.Redirected, res.Ticket.ID, current.ID)
	}
	got, _ := f.st.GetTicket(context.Background(), stale.ID)
	if got.Status != model.TicketStatusClosed {
		t.Errorf("stale ticket mutated to %s", got.Status)
	}
}

func TestUpdate_StatusLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.openTicket(model.TicketStatusPending, f.qA, nil)

	if _, err := f.lc.Update(ctx, tk.ID, UpdateRequest{Status: statusPtr(model.TicketStatusOpen), UserID: &f.agent.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.lc.Update(ctx, tk.ID, UpdateRequest{Status: statusPtr(model.TicketStatusClosed), SendFarewellMessage: new(bool)}); err != nil {
		t.Fatal(err)
	}
	res, err := f.lc.Update(ctx, tk.ID, UpdateRequest{Status: statusPtr(model.TicketStatusOpen)})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(logTypes(f.st, tk.ID), ","); got != "open,closed,reopen" {
		t.Errorf("logs = %s", got)
	}
	tr, _ := f.st.Tracking(ctx, res.Ticket)
	if tr.StartedAt == nil || tr.ClosedAt != nil || tr.RatingAt != nil {
		t.Errorf("tracking after reopen = %+v", tr)
	}
}

func TestUpdate_NoChangeOnlyUpdates(t *testing.T) {
	f := newFixture(t)
	tk := f.openTicket(model.TicketStatusOpen, f.qA, f.agent)
	msg := "oi"

	if _, err := f.lc.Update(context.Background(), tk.ID, UpdateRequest{LastMessage: &msg}); err != nil {
		t.Fatal(err)
	}
	if f.bus.Count(eventbus.EntityTicket, eventbus.ActionDelete) != 0 || f.bus.Count(eventbus.EntityTicket, eventbus.ActionUpdate) != 1 {
		t.Errorf("events = %+v", f.bus.Events())
	}
}

func TestTransfer_InPlaceLogs(t *testing.T) {
	tests := []struct {
		name      string
		fromQueue bool
		fromUser  bool
		toQueueB  bool
		toUser    int // 0 keep, 1 agent2, -1 clear
		want      string
	}{
		{"user only", true, true, false, 1, "transfered,receivedTransfer"},
		{"user and queue", true, true, true, 1, "transfered,receivedTransfer"},
		{"queue with user cleared", true, true, true, -1, "transfered,receivedTransfer"},
		{"queue keeping user", true, true, true, 0, ""},
		{"nothing changed", true, true, false, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tk := f.openTicket(model.TicketStatusOpen, f.qA, f.agent)
			req := UpdateRequest{IsTransfered: true}
			if tt.toQueueB {
				req.QueueID = &f.qB.ID
			}
			switch tt.toUser {
			case 1:
				req.UserID = &f.agent2.ID
			case -1:
				req.UserID = idPtr(0)
				req.Status = statusPtr(model.TicketStatusPending)
			}
			if _, err := f.lc.Update(context.Background(), tk.ID, req); err != nil {
				t.Fatal(err)
			}
			var transfer []string
			for _, typ := range logTypes(f.st, tk.ID) {
				if typ == model.LogTransfered || typ == model.LogReceivedTransfer {
					transfer = append(transfer, typ)
				}
			}
			if got := strings.Join(transfer, ","); got != tt.want {
				t.Errorf("transfer logs = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransfer_SendsNotice(t *testing.T) {
	f := newFixture(t)
	f.settings(func(cs *model.CompanySettings) { cs.SendMsgTransfTicket = true })
	tk := f.openTicket(model.TicketStatusOpen, f.qA, f.agent)

	if _, err := f.lc.Update(context.Background(), tk.ID, UpdateRequest{IsTransfered: true, QueueID: &f.qB.ID}); err != nil {
		t.Fatal(err)
	}
	if texts := f.tr.Texts(); len(texts) != 1 || texts[0] != "Transferido para Suporte" {
		t.Errorf("sent = %v", texts)
	}
}

func TestTransfer_CloseAndRecreateRace(t *testing.T) {
	f := newFixture(t)
	f.settings(func(cs *model.CompanySettings) { cs.CloseTicketOnTransfer = true })
	ctx := context.Background()
	tk := f.openTicket(model.TicketStatusOpen, f.qA, f.agent)
	for i := 0; i < 3; i++ {
		m := &model.Message{CompanyID: 1, WID: fmt.Sprintf("IN-%d", i), TicketID: tk.ID, Body: "msg"}
		if _, err := f.st.CreateMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	const workers = 4
	ids := make([]uint64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.lc.Update(ctx, tk.ID, UpdateRequest{
				IsTransfered: true, QueueID: &f.qB.ID, Status: statusPtr(model.TicketStatusPending), UserID: idPtr(0),
			})
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = res.Ticket.ID
		}(i)
	}
	wg.Wait()

	var open []model.Ticket
	for _, x := range f.st.Tickets(f.contact.ID) {
		if x.Status.IsOpen() {
			open = append(open, x)
		}
	}
	if len(open) != 1 {
		t.Fatalf("open tickets = %d, want 1", len(open))
	}
	next := open[0]
	if next.ID == tk.ID || next.QueueID == nil || *next.QueueID != f.qB.ID {
		t.Fatalf("destination ticket = %+v", next)
	}
	for i, id := range ids {
		if id != next.ID {
			t.Errorf("worker %d got ticket %d, want %d", i, id, next.ID)
		}
	}
	if n := len(f.st.Messages(next.ID)); n != 3 {
		t.Errorf("messages on destination = %d, want 3", n)
	}
	if n := len(f.st.Messages(tk.ID)); n != 0 {
		t.Errorf("messages left on old ticket = %d", n)
	}
	if got := logTypes(f.st, next.ID); len(got) != 1 || got[0] != model.LogReceivedTransfer {
		t.Errorf("destination logs = %v", got)
	}
}

// competingCreate opens the destination ticket of another replica right before the first CreateTicket.
type competingCreate struct {
	store.TicketStore
	before func()
}

func (s *competingCreate) CreateTicket(ctx context.Context, t *model.Ticket) error {
	if s.before != nil {
		fn := s.before
		s.before = nil
		fn()
	}
	return s.TicketStore.CreateTicket(ctx, t)
}

func TestTransfer_CloseAndRecreateReusesConcurrentTicket(t *testing.T) {
	f := newFixture(t)
	f.settings(func(cs *model.CompanySettings) { cs.CloseTicketOnTransfer = true })
	ctx := context.Background()
	tk := f.openTicket(model.TicketStatusOpen, f.qA, f.agent)
	for i := 0; i < 3; i++ {
		m := &model.Message{CompanyID: 1, WID: fmt.Sprintf("IN-%d", i), TicketID: tk.ID, Body: "msg"}
		if _, err := f.st.CreateMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	var rival *model.Ticket
	hooked := &competingCreate{TicketStore: f.st, before: func() {
		rival = f.st.PutTicket(model.Ticket{
			CompanyID: 1, ContactID: f.contact.ID, WhatsappID: &f.wa.ID, Status: model.TicketStatusPending, QueueID: &f.qB.ID,
		})
	}}
	lc := NewLifecycle(Deps{Store: hooked, Catalog: f.st, Sender: f.lc.sender, Bus: f.bus, Clock: f.clk, Locks: lock.NewKeyed()})

	res, err := lc.Update(ctx, tk.ID, UpdateRequest{
		IsTransfered: true, QueueID: &f.qB.ID, Status: statusPtr(model.TicketStatusPending), UserID: idPtr(0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if rival == nil || res.Ticket.ID != rival.ID {
		t.Fatalf("transfer returned ticket %d, want the concurrent ticket", res.Ticket.ID)
	}

	var open []uint64
	for _, x := range f.st.Tickets(f.contact.ID) {
		if x.Status.IsOpen() {
			open = append(open, x.ID)
		}
	}
	if len(open) != 1 || open[0] != rival.ID {
		t.Fatalf("open tickets = %v, want [%d]", open, rival.ID)
	}
	if n := len(f.st.Messages(rival.ID)); n != 3 {
		t.Errorf("messages on reused ticket = %d, want 3", n)
	}
	if n := len(f.st.Messages(tk.ID)); n != 0 {
		t.Errorf("messages left on old ticket = %d", n)
	}
	if old, _ := f.st.GetTicket(ctx, tk.ID); old.Status != model.TicketStatusClosed {
		t.Errorf("old ticket status = %s", old.Status)
	}
	if got := logTypes(f.st, rival.ID); len(got) != 1 || got[0] != model.LogReceivedTransfer {
		t.Errorf("reused ticket logs = %v", got)
	}
}

func TestTouch(t *testing.T) {
	f := newFixture(t)
	tk := f.openTicket(model.TicketStatusPending, f.qA, nil)
	last := "olá"

	got, err := f.lc.Touch(context.Background(), tk.ID, Patch{LastMessage: &last, IncrementBotUses: true})
	if err != nil {
		t.Fatal(err)
	}
	if got.LastMessage != last || got.AmountUsedBotQueues != 1 || got.Status != model.TicketStatusPending {
		t.Errorf("ticket = %+v", got)
	}
	if len(f.st.Logs(tk.ID)) != 0 {
		t.Errorf("touch wrote logs")
	}
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"8", 8, true},
		{" 10 ", 10, true},
		{"0", 0, true},
		{"11", 0, false},
		{"-1", 0, false},
		{"oito", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseRating(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseRating(%q) = %d, %v", tt.in, got, ok)
		}
	}
}
