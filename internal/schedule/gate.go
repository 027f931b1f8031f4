// Package schedule решает, находится ли компания/очередь/подключение в рабочем времени,
// и подавляет ли cool-down повторные ответы бота.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/psds-microservice/chat-ticket-service/internal/clock"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/store"
)

type State struct {
	InActivity bool
	// Type is the schedule source that was evaluated.
	Type string
}

type Gate struct {
	catalog store.CatalogStore
	clock   clock.Clock
	loc     *time.Location
}

// NewGate evaluates schedules in loc (nil means UTC).
func NewGate(catalog store.CatalogStore, clk clock.Clock, loc *time.Location) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	return &Gate{catalog: catalog, clock: clk, loc: loc}
}

// CurrentScheduleState evaluates the schedule selected by the company's ScheduleType.
func (g *Gate) CurrentScheduleState(ctx context.Context, companyID, queueID, connectionID uint64) (State, error) {
	settings, err := g.catalog.Settings(ctx, companyID)
	if err != nil {
		return State{}, err
	}
	st := State{InActivity: true, Type: settings.ScheduleType}
	var raw []byte
	switch settings.ScheduleType {
	case model.ScheduleCompany:
		c, err := g.catalog.GetCompany(ctx, companyID)
		if err != nil {
			return st, nil
		}
		raw = c.Schedules
	case model.ScheduleQueue:
		if queueID == 0 {
			return st, nil
		}
		q, err := g.catalog.GetQueue(ctx, companyID, queueID)
		if err != nil {
			return st, nil
		}
		raw = q.Schedules
	case model.ScheduleConnection:
		if connectionID == 0 {
			return st, nil
		}
		w, err := g.catalog.GetWhatsapp(ctx, connectionID)
		if err != nil {
			return st, nil
		}
		raw = w.Schedules
	default:
		return st, nil
	}
	entries, err := Parse(raw)
	if err != nil {
		return st, err
	}
	st.InActivity = InSchedule(entries, g.clock.Now().In(g.loc))
	return st, nil
}

// Parse decodes a schedules JSON column. Empty input yields no entries.
func Parse(raw []byte) ([]model.ScheduleEntry, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var entries []model.ScheduleEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("schedule: decode: %w", err)
	}
	return entries, nil
}

// InSchedule reports whether now falls in one of today's intervals. An empty schedule means
// "not configured" and always counts as in activity; a configured schedule without an entry for
// today counts as closed.
func InSchedule(entries []model.ScheduleEntry, now time.Time) bool {
	if len(entries) == 0 {
		return true
	}
	day := strings.ToLower(now.Weekday().String())
	minute := now.Hour()*60 + now.Minute()
	for _, e := range entries {
		if strings.ToLower(e.WeekdayEn) != day {
			continue
		}
		return within(e.StartTimeA, e.EndTimeA, minute) || within(e.StartTimeB, e.EndTimeB, minute)
	}
	return false
}

func within(start, end string, minute int) bool {
	s, ok1 := parseHM(start)
	e, ok2 := parseHM(end)
	if !ok1 || !ok2 || s == e {
		return false
	}
	if e < s {
		return minute >= s || minute < e
	}
	return minute >= s && minute < e
}

func parseHM(v string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// BotSuppressed reports whether the bot must stay silent: the per-ticket reply cap is reached, or the
// cool-down anchored on ChatbotAt has not elapsed.
func BotSuppressed(t *model.Ticket, tr *model.TicketTracking, w *model.Whatsapp, now time.Time) bool {
	if w == nil {
		return false
	}
	if w.MaxUseBotQueues > 0 && t.AmountUsedBotQueues >= w.MaxUseBotQueues {
		return true
	}
	if w.TimeUseBotQueues > 0 && tr != nil && tr.ChatbotAt != nil {
		return now.Before(tr.ChatbotAt.Add(time.Duration(w.TimeUseBotQueues) * time.Minute))
	}
	return false
}

// VacationActive reports whether the connection's collective vacation covers now.
func VacationActive(w *model.Whatsapp, now time.Time) bool {
	if w == nil || w.CollectiveVacationStart == nil || w.CollectiveVacationEnd == nil || w.CollectiveVacationMessage == "" {
		return false
	}
	return !now.Before(*w.CollectiveVacationStart) && !now.After(*w.CollectiveVacationEnd)
}
