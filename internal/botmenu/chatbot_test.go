package botmenu

import (
	"strings"
	"testing"
	"time"

	"github.com/psds-microservice/chat-ticket-service/internal/model"
)

// queueWithBot builds: 1 Boletos -> (1 Segunda via, 2 Falar com atendente), 2 Comercial (forward), 3 Encerrar.
func queueWithBot(e *env, forward *model.Queue) *model.Queue {
	q := e.st.AddQueue(model.Queue{CompanyID: 1, Name: "Financeiro", GreetingMessage: "Financeiro, escolha:"})
	boletos := e.st.AddQueueOption(model.QueueOption{QueueID: q.ID, Title: "Boletos", Message: "Sobre boletos:", SortOrder: 1})
	e.st.AddQueueOption(model.QueueOption{QueueID: q.ID, ParentID: &boletos.ID, Title: "Segunda via", Message: "Acesse o portal.", SortOrder: 1})
	e.st.AddQueueOption(model.QueueOption{QueueID: q.ID, ParentID: &boletos.ID, Title: "Falar com atendente", SortOrder: 2})
	e.st.AddQueueOption(model.QueueOption{QueueID: q.ID, Title: "Comercial", ForwardQueueID: &forward.ID, SortOrder: 2})
	e.st.AddQueueOption(model.QueueOption{QueueID: q.ID, Title: "Encerrar", Message: "Até mais!", CloseTicket: true, SortOrder: 3})
	return q
}

func TestChatbot_NavigatesToLeaf(t *testing.T) {
	e := newEnv(t)
	sales := e.st.AddQueue(model.Queue{CompanyID: 1, Name: "Vendas"})
	fin := queueWithBot(e, sales)
	w := e.connection(model.Whatsapp{}, fin)
	id := e.pending(w)

	// single queue with a sub-menu: the chatbot root is presented
	e.reply(t, id, "oi")
	e.clk.Advance(2 * time.Second)
	tk := e.ticket(t, id)
	if tk.QueueID == nil || *tk.QueueID != fin.ID || !tk.IsBot {
		t.Fatalf("ticket after first reply = %+v", tk)
	}
	texts := e.tr.Texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "*[ 1 ]* - Boletos") || !strings.Contains(texts[0], "*[ 3 ]* - Encerrar") {
		t.Fatalf("root menu = %v", texts)
	}

	e.reply(t, id, "1")
	e.clk.Advance(2 * time.Second)
	texts = e.tr.Texts()
	if len(texts) != 2 || !strings.Contains(texts[1], "Sobre boletos:") || !strings.Contains(texts[1], "Voltar") {
		t.Fatalf("sub-menu = %v", texts)
	}

	e.reply(t, id, "1")
	texts = e.tr.Texts()
	if texts[len(texts)-1] != "Acesse o portal." {
		t.Errorf("leaf answer = %q", texts[len(texts)-1])
	}
	tk = e.ticket(t, id)
	if tk.IsBot || tk.QueueOptionID == nil {
		t.Errorf("leaf must hand over to agents: %+v", tk)
	}
	if e.reply(t, id, "2") {
		t.Error("chatbot still handling after leaf")
	}
}

func TestChatbot_InvalidResendsLevel(t *testing.T) {
	e := newEnv(t)
	sales := e.st.AddQueue(model.Queue{CompanyID: 1, Name: "Vendas"})
	fin := queueWithBot(e, sales)
	w := e.connection(model.Whatsapp{}, fin)
	id := e.pending(w)

	e.reply(t, id, "oi")
	e.clk.Advance(2 * time.Second)
	e.reply(t, id, "9")
	e.clk.Advance(2 * time.Second)

	texts := e.tr.Texts()
	if len(texts) != 2 || texts[0] != texts[1] {
		t.Errorf("expected the root menu twice, got %v", texts)
	}
}

func TestChatbot_ForwardAndClose(t *testing.T) {
	t.Run("forward", func(t *testing.T) {
		e := newEnv(t)
		sales := e.st.AddQueue(model.Queue{CompanyID: 1, Name: "Vendas"})
		fin := queueWithBot(e, sales)
		w := e.connection(model.Whatsapp{}, fin)
		id := e.pending(w)

		e.reply(t, id, "oi")
		e.clk.Advance(2 * time.Second)
		e.reply(t, id, "2")
		tk := e.ticket(t, id)
		if tk.QueueID == nil || *tk.QueueID != sales.ID || tk.IsBot {
			t.Errorf("ticket = %+v", tk)
		}
	})
	t.Run("close", func(t *testing.T) {
		e := newEnv(t)
		sales := e.st.AddQueue(model.Queue{CompanyID: 1, Name: "Vendas"})
		fin := queueWithBot(e, sales)
		w := e.connection(model.Whatsapp{}, fin)
		id := e.pending(w)

		e.reply(t, id, "oi")
		e.clk.Advance(2 * time.Second)
		e.reply(t, id, "3")
		if tk := e.ticket(t, id); tk.Status != model.TicketStatusClosed {
			t.Errorf("status = %s", tk.Status)
		}
		texts := e.tr.Texts()
		if texts[len(texts)-1] != "Até mais!" {
			t.Errorf("sent = %v", texts)
		}
	})
}

func TestRenderers(t *testing.T) {
	p := Prompt{Header: "Escolha", Items: numbered([]string{"Vendas", "Suporte"})}

	text := TextRenderer{}.Render(p)
	if !strings.HasPrefix(text.Text, "Escolha\n\n*[ 1 ]* - Vendas\n*[ 2 ]* - Suporte\n") {
		t.Errorf("text = %q", text.Text)
	}

	list := ListRenderer{}.Render(p)
	if list.List == nil || len(list.List.Sections) != 1 {
		t.Fatalf("list = %+v", list)
	}
	rows := list.List.Sections[0].Rows
	if len(rows) != 3 || rows[0].ID != "1" || rows[2].ID != ExitCommand {
		t.Errorf("rows = %+v", rows)
	}

	buttons := ButtonsRenderer{}.Render(p)
	if buttons.Buttons == nil || len(buttons.Buttons.Buttons) != 2 || buttons.Body() != "Escolha" {
		t.Errorf("buttons = %+v", buttons)
	}

	many := Prompt{Header: "Escolha", Items: numbered([]string{"a", "b", "c", "d"})}
	if fb := (ButtonsRenderer{}).Render(many); fb.Buttons != nil || fb.Text == "" {
		t.Errorf("too many buttons must fall back to text: %+v", fb)
	}
}

func TestRendererFor(t *testing.T) {
	tests := []struct {
		style string
		want  Renderer
	}{
		{model.ChatBotText, TextRenderer{}},
		{model.ChatBotList, ListRenderer{}},
		{model.ChatBotButtons, ButtonsRenderer{}},
		{"", TextRenderer{}},
	}
	for _, tt := range tests {
		if got := RendererFor(tt.style); got != tt.want {
			t.Errorf("RendererFor(%q) = %T", tt.style, got)
		}
	}
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		body string
		n    int
		want int
		ok   bool
	}{
		{"1", 4, 0, true},
		{" 4 ", 4, 3, true},
		{"5", 4, 0, false},
		{"0", 4, 0, false},
		{"um", 4, 0, false},
	}
	for _, tt := range tests {
		got, ok := parseChoice(tt.body, tt.n)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseChoice(%q, %d) = %d, %v", tt.body, tt.n, got, ok)
		}
	}
}
