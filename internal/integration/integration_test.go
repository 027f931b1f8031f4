package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/psds-microservice/chat-ticket-service/internal/clock"
	"github.com/psds-microservice/chat-ticket-service/internal/eventbus"
	"github.com/psds-microservice/chat-ticket-service/internal/lock"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/outbound"
	"github.com/psds-microservice/chat-ticket-service/internal/store/memstore"
	"github.com/psds-microservice/chat-ticket-service/internal/ticket"
	"github.com/psds-microservice/chat-ticket-service/internal/transport"
)

func TestWebhook_PostsPayloadAndDecodesReply(t *testing.T) {
	var got WebhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"replies":["Olá!","Como posso ajudar?"],"flow_id":"node-2"}`))
	}))
	defer srv.Close()

	tk := &model.Ticket{ID: 7, CompanyID: 1, LastFlowID: "node-1", Contact: &model.Contact{Number: "5511", Name: "Ana"}}
	in := &model.QueueIntegration{ID: 3, Type: model.IntegrationN8N, URL: srv.URL, APIKey: "secret"}
	reply, err := NewWebhook(time.Second).Reply(context.Background(), Request{Integration: in, Ticket: tk, Body: "oi", MessageID: "W1"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != model.IntegrationN8N || got.TicketID != 7 || got.FlowID != "node-1" || got.Body != "oi" || got.Number != "5511" {
		t.Errorf("payload = %+v", got)
	}
	if auth != "Bearer secret" {
		t.Errorf("authorization = %q", auth)
	}
	if len(reply.Texts) != 2 || reply.FlowID != "node-2" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestWebhook_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()
	tk := &model.Ticket{ID: 1}

	tests := []struct {
		name string
		url  string
	}{
		{"no url", ""},
		{"bad status", srv.URL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &model.QueueIntegration{Type: model.IntegrationWebhook, URL: tt.url}
			if _, err := NewWebhook(time.Second).Reply(context.Background(), Request{Integration: in, Ticket: tk}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func fakeCompletion(t *testing.T, answer string, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-3.5-turbo",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": answer},
				"finish_reason": "stop",
			}},
		})
	}))
}

func TestOpenAI_Reply(t *testing.T) {
	var seen map[string]any
	srv := fakeCompletion(t, "Claro, posso ajudar.", &seen)
	defer srv.Close()

	in := &model.QueueIntegration{ID: 1, Type: model.IntegrationOpenAI, URL: srv.URL + "/v1", APIKey: "k", Model: "gpt-4", Prompt: "Seja gentil."}
	tk := &model.Ticket{ID: 1, Contact: &model.Contact{Name: "Ana"}}
	reply, err := NewOpenAI("", "").Reply(context.Background(), Request{Integration: in, Ticket: tk, Body: "preciso de ajuda"})
	if err != nil {
		t.Fatal(err)
	}
	if len(reply.Texts) != 1 || reply.Texts[0] != "Claro, posso ajudar." || reply.Done {
		t.Errorf("reply = %+v", reply)
	}
	if seen["model"] != "gpt-4" {
		t.Errorf("model = %v", seen["model"])
	}
}

func TestOpenAI_TransferMarkerEndsDelegation(t *testing.T) {
	srv := fakeCompletion(t, "Vou te transferir. "+TransferMarker, nil)
	defer srv.Close()

	in := &model.QueueIntegration{ID: 1, Type: model.IntegrationOpenAI, URL: srv.URL + "/v1", APIKey: "k"}
	reply, err := NewOpenAI("", "").Reply(context.Background(), Request{Integration: in, Ticket: &model.Ticket{}, Body: "humano"})
	if err != nil {
		t.Fatal(err)
	}
	if !reply.Done || len(reply.Texts) != 1 || strings.Contains(reply.Texts[0], TransferMarker) {
		t.Errorf("reply = %+v", reply)
	}
}

func TestOpenAI_RequiresKey(t *testing.T) {
	in := &model.QueueIntegration{ID: 1, Type: model.IntegrationOpenAI}
	if _, err := NewOpenAI("", "").Reply(context.Background(), Request{Integration: in, Ticket: &model.Ticket{}}); err == nil {
		t.Error("expected missing key error")
	}
}

func TestRegistry(t *testing.T) {
	r := NewDefaultRegistry(NewOpenAI("k", ""), NewWebhook(0))
	_, err := r.Reply(context.Background(), Request{Integration: &model.QueueIntegration{Type: "telegram"}, Ticket: &model.Ticket{}})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v", err)
	}
}

type dispatchEnv struct {
	st  *memstore.Store
	tr  *transport.RecordingSender
	wa  *model.Whatsapp
	tk  *model.Ticket
	q   *model.Queue
	dsp func(Delegate) *Dispatcher
}

func newDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC))
	e := &dispatchEnv{st: memstore.New(clk), tr: &transport.RecordingSender{}}
	in := e.st.AddIntegration(model.QueueIntegration{CompanyID: 1, Type: model.IntegrationTypebot, URL: "http://runner"})
	e.q = e.st.AddQueue(model.Queue{CompanyID: 1, Name: "Vendas"})
	e.wa = e.st.AddWhatsapp(model.Whatsapp{CompanyID: 1, IntegrationID: &in.ID}, e.q.ID)
	c := e.st.AddContact(model.Contact{CompanyID: 1, Number: "5511", Name: "Ana"})
	e.tk = e.st.PutTicket(model.Ticket{CompanyID: 1, ContactID: c.ID, WhatsappID: &e.wa.ID, Status: model.TicketStatusPending})
	bus := &eventbus.Recorder{}
	sender := outbound.New(e.tr, e.st, bus)
	lc := ticket.NewLifecycle(ticket.Deps{Store: e.st, Catalog: e.st, Sender: sender, Bus: bus, Clock: clk, Locks: lock.NewKeyed()})
	e.dsp = func(d Delegate) *Dispatcher { return NewDispatcher(d, e.st, lc, sender) }
	return e
}

func (e *dispatchEnv) load(t *testing.T) *model.Ticket {
	t.Helper()
	tk, err := e.st.GetTicket(context.Background(), e.tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	return tk
}

func TestDispatcher_AttachesConnectionIntegration(t *testing.T) {
	e := newDispatchEnv(t)
	d := e.dsp(DelegateFunc(func(_ context.Context, req Request) (*Reply, error) {
		return &Reply{Texts: []string{"Bem-vindo ao bot"}, FlowID: "n1"}, nil
	}))

	handled, err := d.Dispatch(context.Background(), e.load(t), Request{Body: "oi"})
	if err != nil || !handled {
		t.Fatalf("handled = %v, err = %v", handled, err)
	}
	tk := e.load(t)
	if !tk.UseIntegration || tk.IntegrationID == nil || tk.LastFlowID != "n1" || !tk.FlowWebhook {
		t.Errorf("ticket = %+v", tk)
	}
	if texts := e.tr.Texts(); len(texts) != 1 || texts[0] != "Bem-vindo ao bot" {
		t.Errorf("sent = %v", texts)
	}
}

func TestDispatcher_ReplyOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		reply  Reply
		assert func(t *testing.T, tk *model.Ticket, q *model.Queue)
	}{
		{"close", Reply{Close: true}, func(t *testing.T, tk *model.Ticket, _ *model.Queue) {
			if tk.Status != model.TicketStatusClosed {
				t.Errorf("status = %s", tk.Status)
			}
		}},
		{"transfer", Reply{}, func(t *testing.T, tk *model.Ticket, q *model.Queue) {
			if tk.QueueID == nil || *tk.QueueID != q.ID || tk.UseIntegration {
				t.Errorf("ticket = %+v", tk)
			}
		}},
		{"done", Reply{Done: true}, func(t *testing.T, tk *model.Ticket, _ *model.Queue) {
			if tk.UseIntegration || tk.IntegrationID != nil {
				t.Errorf("ticket = %+v", tk)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newDispatchEnv(t)
			reply := tt.reply
			if tt.name == "transfer" {
				reply.QueueID = e.q.ID
			}
			d := e.dsp(DelegateFunc(func(context.Context, Request) (*Reply, error) { return &reply, nil }))
			if _, err := d.Dispatch(context.Background(), e.load(t), Request{Body: "x"}); err != nil {
				t.Fatal(err)
			}
			tt.assert(t, e.load(t), e.q)
		})
	}
}

func TestDispatcher_SkipsAssignedTickets(t *testing.T) {
	e := newDispatchEnv(t)
	tk := e.load(t)
	agent := uint64(9)
	tk.UserID = &agent
	called := false
	d := e.dsp(DelegateFunc(func(context.Context, Request) (*Reply, error) { called = true; return &Reply{}, nil }))

	handled, err := d.Dispatch(context.Background(), tk, Request{Body: "oi"})
	if err != nil || handled || called {
		t.Errorf("handled = %v, called = %v, err = %v", handled, called, err)
	}
}

func TestDispatcher_DelegateFailureIsSwallowed(t *testing.T) {
	e := newDispatchEnv(t)
	d := e.dsp(DelegateFunc(func(context.Context, Request) (*Reply, error) { return nil, errors.New("runner down") }))

	handled, err := d.Dispatch(context.Background(), e.load(t), Request{Body: "oi"})
	if err != nil || !handled {
		t.Errorf("handled = %v, err = %v", handled, err)
	}
}
