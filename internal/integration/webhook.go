package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Webhook posts the message to the integration URL and reads the runner's Reply from the response.
// The same client serves webhook, n8n, typebot, dialogflow and flowbuilder runners; the type travels in
// the payload.
type Webhook struct {
	httpClient *http.Client
}

func NewWebhook(timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{httpClient: &http.Client{Timeout: timeout}}
}

// WebhookPayload — тело POST на URL интеграции.
type WebhookPayload struct {
	Type      string          `json:"type"`
	CompanyID uint64          `json:"company_id"`
	TicketID  uint64          `json:"ticket_id"`
	TicketUID string          `json:"ticket_uuid"`
	Number    string          `json:"number"`
	Name      string          `json:"name"`
	MessageID string          `json:"message_id"`
	Body      string          `json:"body"`
	MediaURL  string          `json:"media_url,omitempty"`
	FlowID    string          `json:"flow_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (w *Webhook) Reply(ctx context.Context, req Request) (*Reply, error) {
	in := req.Integration
	if in.URL == "" {
		return nil, fmt.Errorf("integration: %s %d has no url", in.Type, in.ID)
	}
	payload := WebhookPayload{
		Type:      in.Type,
		CompanyID: req.Ticket.CompanyID,
		TicketID:  req.Ticket.ID,
		TicketUID: req.Ticket.UUID,
		MessageID: req.MessageID,
		Body:      req.Body,
		MediaURL:  req.MediaURL,
		FlowID:    req.Ticket.LastFlowID,
	}
	if len(req.Ticket.DataWebhook) > 0 {
		payload.Data = json.RawMessage(req.Ticket.DataWebhook)
	}
	if c := req.Ticket.Contact; c != nil {
		payload.Number, payload.Name = c.Number, c.Name
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("integration: marshal: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, in.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("integration: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if in.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+in.APIKey)
	}
	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("integration: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("integration: %s %d: status %d", in.Type, in.ID, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("integration: read: %w", err)
	}
	var out Reply
	if len(bytes.TrimSpace(raw)) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("integration: decode reply: %w", err)
	}
	return &out, nil
}
