package memstore

import (
	"sort"

	"github.com/psds-microservice/chat-ticket-service/internal/model"
)

// Seeding and inspection helpers used by tests. IDs of zero are assigned.

func (s *Store) AddQueue(q model.Queue) *model.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == 0 {
		q.ID = s.nextID()
	}
	q.Chatbots = nil
	s.queues[q.ID] = q
	return &q
}

func (s *Store) AddQueueOption(o model.QueueOption) *model.QueueOption {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		o.ID = s.nextID()
	}
	s.options[o.ID] = o
	return &o
}

// AddWhatsapp stores a connection and attaches the given queues to it.
func (s *Store) AddWhatsapp(w model.Whatsapp, queueIDs ...uint64) *model.Whatsapp {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == 0 {
		w.ID = s.nextID()
	}
	w.Queues = nil
	s.whatsapps[w.ID] = w
	s.whatsappQueues[w.ID] = append([]uint64(nil), queueIDs...)
	return &w
}

func (s *Store) AddCompany(c model.Company) *model.Company {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.nextID()
	}
	s.companies[c.ID] = c
	return &c
}

func (s *Store) PutSettings(cs model.CompanySettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[cs.CompanyID] = cs
}

func (s *Store) AddUser(u model.User) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.nextID()
	}
	s.users[u.ID] = u
	return &u
}

func (s *Store) AddIntegration(qi model.QueueIntegration) *model.QueueIntegration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if qi.ID == 0 {
		qi.ID = s.nextID()
	}
	s.integrations[qi.ID] = qi
	return &qi
}

func (s *Store) AddContact(c model.Contact) *model.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.nextID()
	}
	c.CreatedAt, c.UpdatedAt = s.clock.Now(), s.clock.Now()
	s.contacts[c.ID] = c
	return &c
}

// PutTicket stores t as-is, bypassing the uniqueness check. A tracking row is created when missing.
func (s *Store) PutTicket(t model.Ticket) *model.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.nextID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	t.Contact, t.Queue, t.Whatsapp, t.User = nil, nil, nil, nil
	s.tickets[t.ID] = t
	if _, ok := s.trackings[t.ID]; !ok {
		s.trackings[t.ID] = model.TicketTracking{
			ID: s.nextID(), TicketID: t.ID, CompanyID: t.CompanyID,
			WhatsappID: t.WhatsappID, QueueID: t.QueueID, UserID: t.UserID,
		}
	}
	return &t
}

func (s *Store) PutTracking(tr model.TicketTracking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr.ID == 0 {
		tr.ID = s.nextID()
	}
	s.trackings[tr.TicketID] = tr
}

func (s *Store) Logs(ticketID uint64) []model.LogTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.LogTicket
	for _, l := range s.logs {
		if l.TicketID == ticketID {
			out = append(out, l)
		}
	}
	return out
}

func (s *Store) Ratings() []model.UserRating {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.UserRating(nil), s.ratings...)
}

// Tickets returns every ticket of a contact, oldest first.
func (s *Store) Tickets(contactID uint64) []model.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Ticket
	for _, t := range s.tickets {
		if t.ContactID == contactID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Messages returns every message of a ticket, oldest first.
func (s *Store) Messages(ticketID uint64) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
