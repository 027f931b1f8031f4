package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// TicketEventProducer — интерфейс для отправки событий тикета в Kafka (для подмены моком в тестах).
type TicketEventProducer interface {
	ProduceTicketEvent(ctx context.Context, event string, payload map[string]interface{})
}

// Producer пишет события тикетов в топик Kafka (best-effort, не блокирует обработку сообщений).
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer создаёт продюсер. Если brokers пустой или topic пустой — методы no-op.
func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{}
	}
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Enabled reports whether events are actually written.
func (p *Producer) Enabled() bool { return p.writer != nil }

// ProduceTicketEvent отправляет событие в топик. Ключ сообщения ticket_id, чтобы события одного тикета шли по порядку.
func (p *Producer) ProduceTicketEvent(ctx context.Context, event string, payload map[string]interface{}) {
	if p.writer == nil {
		return
	}
	msg := map[string]interface{}{"event": event}
	for k, v := range payload {
		msg[k] = v
	}
	body, err := json.Marshal(msg)
	if err != nil {
		logrus.WithError(err).Warn("kafka: marshal ticket event")
		return
	}
	var key []byte
	if id, ok := payload["ticket_id"].(uint64); ok {
		key = []byte(strconv.FormatUint(id, 10))
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: body}); err != nil {
		logrus.WithError(err).WithField("event", event).Warn("kafka: write ticket event")
	}
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// TicketPayload — снимок тикета для downstream-потребителей.
func TicketPayload(t *model.Ticket) map[string]interface{} {
	payload := map[string]interface{}{
		"ticket_id":    t.ID,
		"uuid":         t.UUID,
		"company_id":   t.CompanyID,
		"contact_id":   t.ContactID,
		"status":       string(t.Status),
		"is_bot":       t.IsBot,
		"last_message": t.LastMessage,
		"updated_at":   t.UpdatedAt,
	}
	if t.WhatsappID != nil {
		payload["whatsapp_id"] = *t.WhatsappID
	}
	if t.QueueID != nil {
		payload["queue_id"] = *t.QueueID
	}
	if t.UserID != nil {
		payload["user_id"] = *t.UserID
	}
	return payload
}

// ParseBrokers разбивает строку брокеров "host1:9092,host2:9092" на слайс.
func ParseBrokers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
