package botmenu

import (
	"strconv"
	"strings"

	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/transport"
)

// Reserved replies understood by every menu.
const (
	ExitCommand = "sair"
	BackCommand = "#"
)

// Prompt — содержимое меню независимо от способа отображения.
type Prompt struct {
	Header string
	Items  []Item
	// Back adds the "return to the main menu" entry.
	Back bool
}

type Item struct {
	ID    string
	Title string
}

// Renderer turns a prompt into the outbound payload of one chatbot style.
type Renderer interface {
	Render(p Prompt) transport.Payload
}

// RendererFor returns the renderer of a CompanySettings.ChatBotType. Unknown styles render as text.
func RendererFor(style string) Renderer {
	switch style {
	case model.ChatBotList:
		return ListRenderer{}
	case model.ChatBotButtons:
		return ButtonsRenderer{}
	}
	return TextRenderer{}
}

type TextRenderer struct{}

func (TextRenderer) Render(p Prompt) transport.Payload {
	var b strings.Builder
	if p.Header != "" {
		b.WriteString(p.Header)
		b.WriteString("\n\n")
	}
	for _, it := range p.Items {
		b.WriteString("*[ " + it.ID + " ]* - " + it.Title + "\n")
	}
	if p.Back {
		b.WriteString("\n*[ # ]* - Voltar ao menu principal")
	}
	b.WriteString("\n*[ Sair ]* - Encerrar atendimento")
	return transport.Payload{Text: b.String()}
}

type ListRenderer struct{}

func (ListRenderer) Render(p Prompt) transport.Payload {
	rows := make([]transport.ListRow, 0, len(p.Items)+2)
	for _, it := range p.Items {
		rows = append(rows, transport.ListRow{ID: it.ID, Title: it.Title})
	}
	if p.Back {
		rows = append(rows, transport.ListRow{ID: BackCommand, Title: "Voltar ao menu principal"})
	}
	rows = append(rows, transport.ListRow{ID: ExitCommand, Title: "Encerrar atendimento"})
	return transport.Payload{List: &transport.List{
		Body:       p.Header,
		ButtonText: "Escolha uma opção",
		Sections:   []transport.ListSection{{Title: "Opções", Rows: rows}},
	}}
}

// maxButtons is the transport limit for quick-reply buttons.
const maxButtons = 3

// ButtonsRenderer falls back to text when the items do not fit in quick-reply buttons.
type ButtonsRenderer struct{}

func (ButtonsRenderer) Render(p Prompt) transport.Payload {
	n := len(p.Items)
	if p.Back {
		n++
	}
	if n > maxButtons {
		return TextRenderer{}.Render(p)
	}
	buttons := make([]transport.Button, 0, n)
	for _, it := range p.Items {
		buttons = append(buttons, transport.Button{ID: it.ID, Text: it.Title})
	}
	if p.Back {
		buttons = append(buttons, transport.Button{ID: BackCommand, Text: "Voltar"})
	}
	return transport.Payload{Buttons: &transport.Buttons{
		Body:    p.Header,
		Footer:  "Digite *sair* para encerrar o atendimento",
		Buttons: buttons,
	}}
}

// numbered builds 1-based menu items.
func numbered(titles []string) []Item {
	items := make([]Item, len(titles))
	for i, t := range titles {
		items[i] = Item{ID: strconv.Itoa(i + 1), Title: t}
	}
	return items
}

// parseChoice reads a 1-based selection. ok is false for anything that is not an index into n entries.
func parseChoice(body string, n int) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil || v < 1 || v > n {
		return 0, false
	}
	return v - 1, true
}

func isExit(body string) bool {
	return strings.EqualFold(strings.TrimSpace(body), ExitCommand)
}
