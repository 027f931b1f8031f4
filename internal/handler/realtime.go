package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/chat-ticket-service/internal/eventbus"
)

type RealtimeHandler struct {
	hub *eventbus.Hub
}

func NewRealtimeHandler(hub *eventbus.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Subscribe подписывает websocket на события компании (?company_id=).
func (h *RealtimeHandler) Subscribe(c *gin.Context) {
	companyID := queryUint(c, "company_id")
	if companyID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "company_id is required"})
		return
	}
	h.hub.Serve(c.Writer, c.Request, companyID)
}
