package integration

import (
	"context"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// TransferMarker in a model answer asks to hand the conversation over to human agents.
const TransferMarker = "Ação: Transferir para o setor de atendimento"

const defaultSystemPrompt = "Você é um assistente de atendimento. Responda de forma breve e educada."

// OpenAI answers with a chat completion. Each integration row carries its own key, model and prompt;
// clients are cached per key and base URL.
type OpenAI struct {
	defaultKey   string
	defaultModel string

	mu      sync.Mutex
	clients map[string]*openai.Client
}

func NewOpenAI(defaultKey, defaultModel string) *OpenAI {
	if defaultModel == "" {
		defaultModel = openai.GPT3Dot5Turbo
	}
	return &OpenAI{defaultKey: defaultKey, defaultModel: defaultModel, clients: make(map[string]*openai.Client)}
}

func (o *OpenAI) client(key, baseURL string) *openai.Client {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := key + "|" + baseURL
	if c, ok := o.clients[id]; ok {
		return c
	}
	cfg := openai.DefaultConfig(key)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	c := openai.NewClientWithConfig(cfg)
	o.clients[id] = c
	return c
}

func (o *OpenAI) Reply(ctx context.Context, req Request) (*Reply, error) {
	in := req.Integration
	key := in.APIKey
	if key == "" {
		key = o.defaultKey
	}
	if key == "" {
		return nil, fmt.Errorf("integration: openai %d has no api key", in.ID)
	}
	model := in.Model
	if model == "" {
		model = o.defaultModel
	}
	system := in.Prompt
	if system == "" {
		system = defaultSystemPrompt
	}
	if c := req.Ticket.Contact; c != nil && c.Name != "" {
		system += "\nO nome do cliente é " + c.Name + "."
	}
	resp, err := o.client(key, in.URL).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Body},
		},
		Temperature: 0.7,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, fmt.Errorf("integration: openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return &Reply{}, nil
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	out := &Reply{}
	if strings.Contains(answer, TransferMarker) {
		answer = strings.TrimSpace(strings.ReplaceAll(answer, TransferMarker, ""))
		out.Done = true
	}
	if answer != "" {
		out.Texts = []string{answer}
	}
	return out, nil
}
