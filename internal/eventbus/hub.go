package eventbus

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// Hub keeps websocket subscribers grouped by company.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[uint64]map[*client]struct{}
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	companyID uint64
	send      chan []byte
}

type envelope struct {
	Channel string `json:"channel"`
	Event
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[uint64]map[*client]struct{}),
	}
}

// Publish sends ev to every subscriber of the company. Slow subscribers are dropped.
func (h *Hub) Publish(_ context.Context, companyID uint64, ev Event) {
	data, err := json.Marshal(envelope{Channel: "company-" + strconv.FormatUint(companyID, 10), Event: ev})
	if err != nil {
		logrus.WithError(err).Warn("eventbus: marshal event")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[companyID] {
		select {
		case c.send <- data:
		default:
			h.removeLocked(c)
		}
	}
}

// Subscribers returns the number of connected clients of a company.
func (h *Hub) Subscribers(companyID uint64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[companyID])
}

// Serve upgrades the request and subscribes the connection to companyID.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, companyID uint64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("eventbus: upgrade")
		return
	}
	c := &client{hub: h, conn: conn, companyID: companyID, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.clients[companyID] == nil {
		h.clients[companyID] = make(map[*client]struct{})
	}
	h.clients[companyID][c] = struct{}{}
	h.mu.Unlock()
	logrus.WithField("company_id", companyID).Debug("eventbus: subscriber connected")

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(c *client) {
	set := h.clients[c.companyID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.companyID)
	}
	close(c.send)
}

// readPump only drains control frames; clients never publish.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).Debug("eventbus: read")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
