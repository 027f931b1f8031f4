package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/chat-ticket-service/internal/transport"
	"github.com/sirupsen/logrus"
)

// WebhookHandler принимает события адаптера по HTTP и ставит их в очередь.
type WebhookHandler struct {
	events transport.Handler
}

func NewWebhookHandler(events transport.Handler) *WebhookHandler {
	return &WebhookHandler{events: events}
}

func (h *WebhookHandler) Message(c *gin.Context) {
	connID, ok := parseID(c)
	if !ok {
		return
	}
	var ev transport.InboundEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if ev.ID == "" || ev.ChatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and chat_id are required"})
		return
	}
	ev.ConnectionID = connID
	if err := h.events.HandleInbound(c.Request.Context(), ev); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"wid": ev.ID, "connection_id": connID}).Error("handler: accept message")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cannot accept event"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": ev.ID})
}

func (h *WebhookHandler) Ack(c *gin.Context) {
	connID, ok := parseID(c)
	if !ok {
		return
	}
	var r transport.Receipt
	if err := c.ShouldBindJSON(&r); err != nil || r.MessageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	r.ConnectionID = connID
	if err := h.events.HandleReceipt(c.Request.Context(), r); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"wid": r.MessageID, "connection_id": connID}).Error("handler: accept ack")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cannot accept event"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": r.MessageID})
}
