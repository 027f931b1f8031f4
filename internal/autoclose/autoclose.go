// Package autoclose закрывает тикеты, в которых нет активности дольше, чем ExpiresTicket подключения.
package autoclose

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/psds-microservice/chat-ticket-service/internal/cache"
	"github.com/psds-microservice/chat-ticket-service/internal/clock"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/outbound"
	"github.com/psds-microservice/chat-ticket-service/internal/render"
	"github.com/psds-microservice/chat-ticket-service/internal/store"
	"github.com/psds-microservice/chat-ticket-service/internal/ticket"
	"github.com/sirupsen/logrus"
)

// DefaultExpr runs the sweep every minute.
const DefaultExpr = "* * * * *"

type Deps struct {
	Store     store.Store
	Lifecycle ticket.Servicer
	Sender    outbound.Sender
	// Counters dedupes a tick across replicas; nil sweeps unconditionally.
	Counters cache.Counters
	Clock    clock.Clock
}

type Sweeper struct {
	d    Deps
	expr string
}

func NewSweeper(d Deps, expr string) (*Sweeper, error) {
	if expr == "" {
		expr = DefaultExpr
	}
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("autoclose: invalid cron expression %q", expr)
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	return &Sweeper{d: d, expr: expr}, nil
}

// Run sweeps on every tick of the cron expression until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	logrus.WithField("cron", s.expr).Info("autoclose: runner started")
	for {
		next, err := gronx.NextTickAfter(s.expr, s.d.Clock.Now(), false)
		if err != nil {
			return fmt.Errorf("autoclose: next tick: %w", err)
		}
		fire := make(chan struct{})
		timer := s.d.Clock.AfterFunc(next.Sub(s.d.Clock.Now()), func() { close(fire) })
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-fire:
		}
		if n, err := s.Sweep(ctx, next); err != nil {
			logrus.WithError(err).Warn("autoclose: sweep failed")
		} else if n > 0 {
			logrus.WithField("closed", n).Info("autoclose: sweep done")
		}
	}
}

// Sweep closes every idle ticket of every connection that has ExpiresTicket set. tick identifies the run:
// a ticket is handled at most once per tick even when several replicas sweep.
func (s *Sweeper) Sweep(ctx context.Context, tick time.Time) (int, error) {
	conns, err := s.d.Store.ListWhatsapps(ctx)
	if err != nil {
		return 0, err
	}
	now := s.d.Clock.Now()
	closed := 0
	for i := range conns {
		w := &conns[i]
		if w.ExpiresTicket <= 0 {
			continue
		}
		idle, err := s.d.Store.ListIdleTickets(ctx, w.ID, now.Add(-time.Duration(w.ExpiresTicket)*time.Minute))
		if err != nil {
			return closed, err
		}
		for _, t := range idle {
			ok, err := s.closeIdle(ctx, w, t.ID, tick)
			if err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{"ticket_id": t.ID, "company_id": t.CompanyID}).Warn("autoclose: close")
				continue
			}
			if ok {
				closed++
			}
		}
	}
	return closed, nil
}

func (s *Sweeper) closeIdle(ctx context.Context, w *model.Whatsapp, ticketID uint64, tick time.Time) (bool, error) {
	if s.d.Counters != nil {
		first, err := s.d.Counters.MarkOnce(ctx, fmt.Sprintf("autoclose:%d:%d", ticketID, tick.Unix()), time.Hour)
		if err != nil {
			return false, err
		}
		if !first {
			return false, nil
		}
	}
	t, err := s.d.Store.GetTicket(ctx, ticketID)
	if err != nil {
		return false, err
	}
	if t.IsGroup || !(t.Status == model.TicketStatusOpen || t.Status == model.TicketStatusPending) {
		return false, nil
	}
	if w.ExpiresInactiveMessage != "" {
		outbound.SendText(ctx, s.d.Sender, t, render.Text(w.ExpiresInactiveMessage, render.ForTicket(t, s.d.Clock.Now())))
	}
	closed := model.TicketStatusClosed
	noFarewell := false
	if _, err := s.d.Lifecycle.Update(ctx, t.ID, ticket.UpdateRequest{Status: &closed, SendFarewellMessage: &noFarewell}); err != nil {
		return false, err
	}
	logrus.WithFields(logrus.Fields{"ticket_id": t.ID, "company_id": t.CompanyID}).Info("autoclose: closed idle ticket")
	return true, nil
}
