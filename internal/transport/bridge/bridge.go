// Package bridge connects to an external WhatsApp adapter over WebSocket. The adapter speaks the protocol;
// this client exchanges JSON frames with it, reconnecting with backoff.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/psds-microservice/chat-ticket-service/internal/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Frame types on the wire.
const (
	FrameMessage = "message"
	FrameAck     = "ack"
	FrameSend    = "send"
	FrameSent    = "sent"
)

// Frame — конверт всех сообщений между сервисом и адаптером.
type Frame struct {
	Type    string                     `json:"type"`
	Event   *transport.InboundEvent    `json:"event,omitempty"`
	Receipt *transport.Receipt         `json:"receipt,omitempty"`
	Request *transport.OutboundRequest `json:"request,omitempty"`
	Ref     string                     `json:"ref,omitempty"`
	ID      string                     `json:"id,omitempty"`
	Error   string                     `json:"error,omitempty"`
}

var ErrNotConnected = errors.New("bridge: not connected")

type Client struct {
	url         string
	handler     transport.Handler
	limiter     *rate.Limiter
	sendTimeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	waiting map[string]chan Frame
}

// New creates a client. rps <= 0 disables outbound rate limiting.
func New(url string, handler transport.Handler, rps float64) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &Client{
		url:         url,
		handler:     handler,
		limiter:     limiter,
		sendTimeout: 15 * time.Second,
		waiting:     make(map[string]chan Frame),
	}
}

// Run connects and reads frames until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			c.close()
			return nil
		}
		conn, err := c.connect(ctx)
		if err != nil {
			logrus.WithError(err).WithField("backoff", backoff).Warn("bridge: connect failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second
		logrus.WithField("url", c.url).Info("bridge: connected")

		stop := context.AfterFunc(ctx, func() { conn.Close() })
		c.readLoop(ctx, conn)
		stop()
		c.close()
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

func (c *Client) close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	waiting := c.waiting
	c.waiting = make(map[string]chan Frame)
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	for _, ch := range waiting {
		close(ch)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logrus.WithError(err).Warn("bridge: read failed, reconnecting")
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			logrus.WithError(err).Warn("bridge: invalid frame")
			continue
		}
		c.dispatch(ctx, f)
	}
}

func (c *Client) dispatch(ctx context.Context, f Frame) {
	switch f.Type {
	case FrameMessage:
		if f.Event == nil {
			return
		}
		if err := c.handler.HandleInbound(ctx, *f.Event); err != nil {
			logrus.WithError(err).WithField("wid", f.Event.ID).Error("bridge: inbound handler")
		}
	case FrameAck:
		if f.Receipt == nil {
			return
		}
		if err := c.handler.HandleReceipt(ctx, *f.Receipt); err != nil {
			logrus.WithError(err).WithField("wid", f.Receipt.MessageID).Error("bridge: receipt handler")
		}
	case FrameSent:
		c.mu.Lock()
		ch, ok := c.waiting[f.Ref]
		delete(c.waiting, f.Ref)
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	default:
		logrus.WithField("type", f.Type).Debug("bridge: unknown frame")
	}
}

// Send writes a send frame and waits for the adapter to report the transport id.
func (c *Client) Send(ctx context.Context, req transport.OutboundRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	ch := make(chan Frame, 1)
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	c.waiting[req.Ref] = ch
	c.mu.Unlock()

	data, err := json.Marshal(Frame{Type: FrameSend, Request: &req})
	if err != nil {
		c.forget(req.Ref)
		return "", fmt.Errorf("bridge: marshal send: %w", err)
	}
	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.Ref)
		return "", fmt.Errorf("bridge: write send: %w", err)
	}

	timer := time.NewTimer(c.sendTimeout)
	defer timer.Stop()
	select {
	case f, ok := <-ch:
		if !ok {
			return "", ErrNotConnected
		}
		if f.Error != "" {
			return "", fmt.Errorf("bridge: adapter: %s", f.Error)
		}
		return f.ID, nil
	case <-timer.C:
		c.forget(req.Ref)
		return "", fmt.Errorf("bridge: no confirmation for %s", req.Ref)
	case <-ctx.Done():
		c.forget(req.Ref)
		return "", ctx.Err()
	}
}

func (c *Client) forget(ref string) {
	c.mu.Lock()
	delete(c.waiting, ref)
	c.mu.Unlock()
}
