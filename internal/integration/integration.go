// Package integration передаёт диалог внешнему исполнителю (OpenAI, webhook, n8n, typebot, dialogflow,
// flowbuilder), пока тикет не назначен агенту.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/psds-microservice/chat-ticket-service/internal/model"
)

// ErrUnsupported is returned by the registry for integration types without a delegate.
var ErrUnsupported = errors.New("integration: unsupported type")

// Request is what a delegate sees of one inbound message.
type Request struct {
	Integration *model.QueueIntegration
	Ticket      *model.Ticket
	MessageID   string
	Body        string
	MediaURL    string
}

// Reply is the delegate's decision. Zero value means "nothing to say, keep delegating".
type Reply struct {
	Texts []string `json:"replies"`
	// QueueID hands the ticket to a queue and ends the delegation.
	QueueID uint64 `json:"queue_id,omitempty"`
	Close   bool   `json:"close,omitempty"`
	// Done ends the delegation without moving the ticket.
	Done bool `json:"done,omitempty"`
	// FlowID is the flow node to resume from on the next message; empty clears it.
	FlowID string          `json:"flow_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type Delegate interface {
	Reply(ctx context.Context, req Request) (*Reply, error)
}

// DelegateFunc adapts a function to Delegate.
type DelegateFunc func(ctx context.Context, req Request) (*Reply, error)

func (f DelegateFunc) Reply(ctx context.Context, req Request) (*Reply, error) { return f(ctx, req) }

// Registry maps integration types to delegates.
type Registry struct {
	mu        sync.RWMutex
	delegates map[string]Delegate
}

func NewRegistry() *Registry {
	return &Registry{delegates: make(map[string]Delegate)}
}

// NewDefaultRegistry wires OpenAI and the HTTP delegates for every webhook-style type.
func NewDefaultRegistry(openAI *OpenAI, hooks *Webhook) *Registry {
	r := NewRegistry()
	if openAI != nil {
		r.Register(model.IntegrationOpenAI, openAI)
	}
	if hooks != nil {
		for _, typ := range []string{
			model.IntegrationWebhook, model.IntegrationN8N, model.IntegrationTypebot,
			model.IntegrationDialogflow, model.IntegrationFlowBuilder,
		} {
			r.Register(typ, hooks)
		}
	}
	return r
}

func (r *Registry) Register(typ string, d Delegate) {
	r.mu.Lock()
	r.delegates[typ] = d
	r.mu.Unlock()
}

func (r *Registry) Reply(ctx context.Context, req Request) (*Reply, error) {
	if req.Integration == nil {
		return nil, fmt.Errorf("integration: request without integration")
	}
	r.mu.RLock()
	d, ok := r.delegates[req.Integration.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, req.Integration.Type)
	}
	return d.Reply(ctx, req)
}
