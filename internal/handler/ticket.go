package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/chat-ticket-service/internal/errs"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/store"
	"github.com/psds-microservice/chat-ticket-service/internal/ticket"
	"github.com/sirupsen/logrus"
)

type TicketHandler struct {
	tickets store.TicketStore
	svc     ticket.Servicer
}

func NewTicketHandler(tickets store.TicketStore, svc ticket.Servicer) *TicketHandler {
	return &TicketHandler{tickets: tickets, svc: svc}
}

func (h *TicketHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	t, err := h.tickets.GetTicket(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) List(c *gin.Context) {
	var filter store.TicketFilter
	filter.CompanyID = queryUint(c, "company_id")
	filter.QueueID = queryUint(c, "queue_id")
	filter.UserID = queryUint(c, "user_id")
	filter.ContactID = queryUint(c, "contact_id")
	if v := c.Query("status"); v != "" {
		filter.Status = model.TicketStatus(v)
		if !filter.Status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
	}

	limit := 50
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	items, total, err := h.tickets.ListTickets(c.Request.Context(), filter, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tickets": items,
		"total":   total,
	})
}

type updateTicketRequest struct {
	Status              *string `json:"status,omitempty"`
	QueueID             *uint64 `json:"queue_id,omitempty"`
	UserID              *uint64 `json:"user_id,omitempty"`
	QueueOptionID       *uint64 `json:"queue_option_id,omitempty"`
	IsBot               *bool   `json:"is_bot,omitempty"`
	UseIntegration      *bool   `json:"use_integration,omitempty"`
	IntegrationID       *uint64 `json:"integration_id,omitempty"`
	IsTransfered        bool    `json:"is_transfered,omitempty"`
	MsgTransfer         string  `json:"msg_transfer,omitempty"`
	SendFarewellMessage *bool   `json:"send_farewell_message,omitempty"`
}

// Update применяет изменение через жизненный цикл тикета. Если тикет закрыт, а у контакта уже есть
// открытый, в ответе вернётся открытый тикет (redirected=true).
func (h *TicketHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req updateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	upd := ticket.UpdateRequest{
		QueueID:             req.QueueID,
		UserID:              req.UserID,
		QueueOptionID:       req.QueueOptionID,
		IsBot:               req.IsBot,
		UseIntegration:      req.UseIntegration,
		IntegrationID:       req.IntegrationID,
		IsTransfered:        req.IsTransfered,
		MsgTransfer:         req.MsgTransfer,
		SendFarewellMessage: req.SendFarewellMessage,
	}
	if req.Status != nil {
		st := model.TicketStatus(*req.Status)
		if !st.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		upd.Status = &st
	}
	res, err := h.svc.Update(c.Request.Context(), id, upd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ticket":      res.Ticket,
		"old_status":  res.OldStatus,
		"old_user_id": res.OldUserID,
		"redirected":  res.Redirected,
	})
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func queryUint(c *gin.Context, key string) uint64 {
	v, _ := strconv.ParseUint(c.Query(key), 10, 64)
	return v
}

// writeError maps domain errors to HTTP: typed errors expose their code, sentinels their message.
func writeError(c *gin.Context, err error) {
	status := errs.StatusOf(err)
	body := gin.H{"error": err.Error()}
	if code := errs.CodeOf(err); code != "" {
		body["error"] = code
	} else if errors.Is(err, errs.ErrTicketNotFound) {
		body["error"] = errs.CodeNoTicketFound
	}
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("handler: request failed")
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}
