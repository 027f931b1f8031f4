// Package memstore is an in-memory store.Store for component tests. It enforces the same uniqueness rules as the
// Postgres schema: one open|pending|group ticket per (contact, whatsapp), one message per (wid, company),
// one contact per (number, company).
package memstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/chat-ticket-service/internal/clock"
	"github.com/psds-microservice/chat-ticket-service/internal/errs"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/store"
)

type Store struct {
	clock clock.Clock

	mu             sync.Mutex
	seq            uint64
	tickets        map[uint64]model.Ticket
	trackings      map[uint64]model.TicketTracking // by ticket id
	messages       map[uint64]model.Message
	contacts       map[uint64]model.Contact
	queues         map[uint64]model.Queue
	options        map[uint64]model.QueueOption
	whatsapps      map[uint64]model.Whatsapp
	whatsappQueues map[uint64][]uint64
	companies      map[uint64]model.Company
	settings       map[uint64]model.CompanySettings
	users          map[uint64]model.User
	integrations   map[uint64]model.QueueIntegration
	logs           []model.LogTicket
	ratings        []model.UserRating
}

var _ store.Store = (*Store)(nil)

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{
		clock:          clk,
		tickets:        make(map[uint64]model.Ticket),
		trackings:      make(map[uint64]model.TicketTracking),
		messages:       make(map[uint64]model.Message),
		contacts:       make(map[uint64]model.Contact),
		queues:         make(map[uint64]model.Queue),
		options:        make(map[uint64]model.QueueOption),
		whatsapps:      make(map[uint64]model.Whatsapp),
		whatsappQueues: make(map[uint64][]uint64),
		companies:      make(map[uint64]model.Company),
		settings:       make(map[uint64]model.CompanySettings),
		users:          make(map[uint64]model.User),
		integrations:   make(map[uint64]model.QueueIntegration),
	}
}

func (s *Store) nextID() uint64 {
	s.seq++
	return s.seq
}

// --- tickets ---

func (s *Store) GetTicket(_ context.Context, id uint64) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, errs.ErrTicketNotFound
	}
	s.fillTicket(&t)
	return &t, nil
}

func (s *Store) fillTicket(t *model.Ticket) {
	if c, ok := s.contacts[t.ContactID]; ok {
		t.Contact = &c
	}
	t.Queue = nil
	if t.QueueID != nil {
		if q, ok := s.queueLocked(*t.QueueID); ok {
			t.Queue = q
		}
	}
	t.Whatsapp = nil
	if t.WhatsappID != nil {
		if w, ok := s.whatsappLocked(*t.WhatsappID); ok {
			t.Whatsapp = w
		}
	}
	t.User = nil
	if t.UserID != nil {
		if u, ok := s.users[*t.UserID]; ok {
			t.User = &u
		}
	}
}

func (s *Store) queueLocked(id uint64) (*model.Queue, bool) {
	q, ok := s.queues[id]
	if !ok {
		return nil, false
	}
	q.Chatbots = nil
	for _, o := range s.options {
		if o.QueueID == id {
			q.Chatbots = append(q.Chatbots, o)
		}
	}
	sort.Slice(q.Chatbots, func(i, j int) bool {
		if q.Chatbots[i].SortOrder != q.Chatbots[j].SortOrder {
			return q.Chatbots[i].SortOrder < q.Chatbots[j].SortOrder
		}
		return q.Chatbots[i].ID < q.Chatbots[j].ID
	})
	return &q, true
}

func (s *Store) whatsappLocked(id uint64) (*model.Whatsapp, bool) {
	w, ok := s.whatsapps[id]
	if !ok {
		return nil, false
	}
	w.Queues = nil
	for _, qid := range s.whatsappQueues[id] {
		if q, ok := s.queueLocked(qid); ok {
			w.Queues = append(w.Queues, *q)
		}
	}
	sort.SliceStable(w.Queues, func(i, j int) bool { return w.Queues[i].OrderQueue < w.Queues[j].OrderQueue })
	return &w, true
}

func (s *Store) FindOpenTicket(_ context.Context, contactID uint64, whatsappID *uint64) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.openLocked(contactID, whatsappID, 0)
	if t == nil {
		return nil, errs.ErrTicketNotFound
	}
	out := *t
	return &out, nil
}

func (s *Store) openLocked(contactID uint64, whatsappID *uint64, except uint64) *model.Ticket {
	var found *model.Ticket
	for id := range s.tickets {
		t := s.tickets[id]
		if id == except || t.ContactID != contactID || !model.SameID(t.WhatsappID, whatsappID) || !t.Status.IsOpen() {
			continue
		}
		if found == nil || t.UpdatedAt.After(found.UpdatedAt) {
			found = &t
		}
	}
	return found
}

func (s *Store) LatestTicket(_ context.Context, contactID uint64, whatsappID *uint64) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *model.Ticket
	for id := range s.tickets {
		t := s.tickets[id]
		if t.ContactID != contactID || !model.SameID(t.WhatsappID, whatsappID) {
			continue
		}
		if found == nil || t.UpdatedAt.After(found.UpdatedAt) ||
			(t.UpdatedAt.Equal(found.UpdatedAt) && t.ID > found.ID) {
			found = &t
		}
	}
	if found == nil {
		return nil, errs.ErrTicketNotFound
	}
	return found, nil
}

func (s *Store) CreateTicket(_ context.Context, t *model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Status.IsOpen() && s.openLocked(t.ContactID, t.WhatsappID, 0) != nil {
		return errs.ErrDuplicate
	}
	now := s.clock.Now()
	t.ID = s.nextID()
	if t.UUID == "" {
		t.UUID = uuid.NewString()
	}
	t.CreatedAt, t.UpdatedAt = now, now
	row := *t
	row.Contact, row.Queue, row.Whatsapp, row.User = nil, nil, nil, nil
	s.tickets[t.ID] = row
	s.trackings[t.ID] = model.TicketTracking{
		ID:         s.nextID(),
		TicketID:   t.ID,
		CompanyID:  t.CompanyID,
		WhatsappID: t.WhatsappID,
		QueueID:    t.QueueID,
		UserID:     t.UserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

func (s *Store) SaveTicket(_ context.Context, t *model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; !ok {
		return errs.ErrTicketNotFound
	}
	if t.Status.IsOpen() && s.openLocked(t.ContactID, t.WhatsappID, t.ID) != nil {
		return errs.ErrDuplicate
	}
	t.UpdatedAt = s.clock.Now()
	row := *t
	row.Contact, row.Queue, row.Whatsapp, row.User = nil, nil, nil, nil
	s.tickets[t.ID] = row
	return nil
}

func (s *Store) ListTickets(_ context.Context, f store.TicketFilter, limit, offset int) ([]model.Ticket, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []model.Ticket
	for _, t := range s.tickets {
		if f.CompanyID != 0 && t.CompanyID != f.CompanyID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.QueueID != 0 && (t.QueueID == nil || *t.QueueID != f.QueueID) {
			continue
		}
		if f.UserID != 0 && (t.UserID == nil || *t.UserID != f.UserID) {
			continue
		}
		if f.ContactID != 0 && t.ContactID != f.ContactID {
			continue
		}
		items = append(items, t)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	total := int64(len(items))
	if offset > 0 {
		if offset >= len(items) {
			items = nil
		} else {
			items = items[offset:]
		}
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items, total, nil
}

func (s *Store) CountPendingInQueue(_ context.Context, companyID, queueID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tickets {
		if t.CompanyID == companyID && t.QueueID != nil && *t.QueueID == queueID && t.Status == model.TicketStatusPending {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListIdleTickets(_ context.Context, whatsappID uint64, before time.Time) ([]model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []model.Ticket
	for _, t := range s.tickets {
		if t.WhatsappID == nil || *t.WhatsappID != whatsappID {
			continue
		}
		if t.Status != model.TicketStatusOpen && t.Status != model.TicketStatusPending {
			continue
		}
		if t.UpdatedAt.Before(before) {
			items = append(items, t)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.Before(items[j].UpdatedAt) })
	return items, nil
}

func (s *Store) MoveMessages(_ context.Context, fromTicketID, toTicketID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.messages {
		if m.TicketID == fromTicketID {
			m.TicketID = toTicketID
			s.messages[id] = m
			n++
		}
	}
	return n, nil
}

func (s *Store) Tracking(_ context.Context, t *model.Ticket) (*model.TicketTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.trackings[t.ID]
	if !ok {
		now := s.clock.Now()
		tr = model.TicketTracking{
			ID:         s.nextID(),
			TicketID:   t.ID,
			CompanyID:  t.CompanyID,
			WhatsappID: t.WhatsappID,
			QueueID:    t.QueueID,
			UserID:     t.UserID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		s.trackings[t.ID] = tr
	}
	return &tr, nil
}

func (s *Store) SaveTracking(_ context.Context, tr *model.TicketTracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr.UpdatedAt = s.clock.Now()
	s.trackings[tr.TicketID] = *tr
	return nil
}

func (s *Store) CreateLog(_ context.Context, l *model.LogTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = s.nextID()
	l.CreatedAt = s.clock.Now()
	s.logs = append(s.logs, *l)
	return nil
}

func (s *Store) CreateRating(_ context.Context, r *model.UserRating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.nextID()
	r.CreatedAt = s.clock.Now()
	s.ratings = append(s.ratings, *r)
	return nil
}

// --- messages ---

func (s *Store) CreateMessage(_ context.Context, m *model.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.messages {
		if existing.WID == m.WID && existing.CompanyID == m.CompanyID {
			*m = existing
			return false, nil
		}
	}
	now := s.clock.Now()
	m.ID = s.nextID()
	m.CreatedAt, m.UpdatedAt = now, now
	row := *m
	row.Ticket, row.Contact = nil, nil
	s.messages[m.ID] = row
	return true, nil
}

func (s *Store) FindMessageByWID(_ context.Context, companyID uint64, wid string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.WID == wid && m.CompanyID == companyID {
			return &m, nil
		}
	}
	return nil, errs.ErrMessageNotFound
}

func (s *Store) FindMessageForAck(_ context.Context, companyID uint64, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.CompanyID == companyID && m.LocalID != "" && m.LocalID == id {
			return &m, nil
		}
	}
	for _, m := range s.messages {
		if m.CompanyID == companyID && m.WID == id {
			return &m, nil
		}
	}
	if pk, err := strconv.ParseUint(id, 10, 64); err == nil {
		if m, ok := s.messages[pk]; ok && m.CompanyID == companyID {
			return &m, nil
		}
	}
	return nil, errs.ErrMessageNotFound
}

func (s *Store) RaiseAck(_ context.Context, messageID uint64, level int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.Ack >= level {
		return false, nil
	}
	m.Ack = level
	m.UpdatedAt = s.clock.Now()
	s.messages[messageID] = m
	return true, nil
}

func (s *Store) UpdateMessageBody(_ context.Context, messageID uint64, body string, edited bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return errs.ErrMessageNotFound
	}
	m.Body = body
	m.IsEdited = edited
	m.UpdatedAt = s.clock.Now()
	s.messages[messageID] = m
	return nil
}

func (s *Store) GetMessage(_ context.Context, id uint64) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, errs.ErrMessageNotFound
	}
	if t, ok := s.tickets[m.TicketID]; ok {
		if c, ok := s.contacts[t.ContactID]; ok {
			t.Contact = &c
		}
		m.Ticket = &t
	}
	if m.ContactID != nil {
		if c, ok := s.contacts[*m.ContactID]; ok {
			m.Contact = &c
		}
	}
	return &m, nil
}

// --- contacts ---

func (s *Store) UpsertContact(_ context.Context, c *model.Contact) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for id, existing := range s.contacts {
		if existing.Number != c.Number || existing.CompanyID != c.CompanyID {
			continue
		}
		if c.Name != "" && (existing.Name == "" || existing.Name == existing.Number) {
			existing.Name = c.Name
		}
		if c.RemoteJid != "" {
			existing.RemoteJid = c.RemoteJid
		}
		if c.LID != "" {
			existing.LID = c.LID
		}
		if c.IsGroup {
			existing.IsGroup = true
		}
		existing.UpdatedAt = now
		s.contacts[id] = existing
		return &existing, nil
	}
	row := *c
	row.ID = s.nextID()
	row.CreatedAt, row.UpdatedAt = now, now
	s.contacts[row.ID] = row
	return &row, nil
}

func (s *Store) FindContactByLID(_ context.Context, companyID uint64, lid string) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.CompanyID == companyID && c.LID != "" && c.LID == lid {
			return &c, nil
		}
	}
	return nil, errs.ErrContactNotFound
}

func (s *Store) GetContact(_ context.Context, id uint64) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, errs.ErrContactNotFound
	}
	return &c, nil
}

// --- catalog ---

func (s *Store) GetQueue(_ context.Context, companyID, id uint64) (*model.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queueLocked(id)
	if !ok || q.CompanyID != companyID {
		return nil, errs.ErrQueueNotFound
	}
	return q, nil
}

func (s *Store) GetQueueOption(_ context.Context, id uint64) (*model.QueueOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.options[id]
	if !ok {
		return nil, errs.ErrQueueNotFound
	}
	return &o, nil
}

func (s *Store) GetWhatsapp(_ context.Context, id uint64) (*model.Whatsapp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.whatsappLocked(id)
	if !ok {
		return nil, errs.ErrConnectionNotFound
	}
	return w, nil
}

func (s *Store) ListWhatsapps(_ context.Context) ([]model.Whatsapp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]model.Whatsapp, 0, len(s.whatsapps))
	for _, w := range s.whatsapps {
		items = append(items, w)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *Store) GetCompany(_ context.Context, id uint64) (*model.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok {
		return nil, errs.ErrCompanyNotFound
	}
	return &c, nil
}

func (s *Store) Settings(_ context.Context, companyID uint64) (*model.CompanySettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.settings[companyID]
	if !ok {
		return model.DefaultSettings(companyID), nil
	}
	return &cs, nil
}

func (s *Store) GetUser(_ context.Context, id uint64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errs.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) GetIntegration(_ context.Context, id uint64) (*model.QueueIntegration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qi, ok := s.integrations[id]
	if !ok {
		return nil, errs.ErrIntegrationNotFound
	}
	return &qi, nil
}
