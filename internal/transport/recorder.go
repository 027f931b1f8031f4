package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrSendFailed = errors.New("transport: send failed")

// RecordingSender is an in-memory Sender that assigns sequential wids. Set Fail to make every send fail.
type RecordingSender struct {
	mu   sync.Mutex
	sent []OutboundRequest
	n    int
	Fail bool
}

func (r *RecordingSender) Send(_ context.Context, req OutboundRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail {
		return "", ErrSendFailed
	}
	r.n++
	r.sent = append(r.sent, req)
	return fmt.Sprintf("OUT-%d", r.n), nil
}

func (r *RecordingSender) Sent() []OutboundRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OutboundRequest(nil), r.sent...)
}

// Texts returns the primary body of every sent payload.
func (r *RecordingSender) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.Payload.Body())
	}
	return out
}

func (r *RecordingSender) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
