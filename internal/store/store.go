// Package store описывает хранилище тикетов, сообщений, контактов и справочников.
// Реализации: gormstore (Postgres) и memstore (in-memory, для тестов).
package store

import (
	"context"
	"time"

	"github.com/psds-microservice/chat-ticket-service/internal/model"
)

// TicketFilter — фильтр списка тикетов для API.
type TicketFilter struct {
	CompanyID uint64
	Status    model.TicketStatus
	QueueID   uint64
	UserID    uint64
	ContactID uint64
}

// TicketStore: not-found lookups return errs.ErrTicketNotFound; uniqueness races return errs.ErrDuplicate.
type TicketStore interface {
	// GetTicket loads a ticket with Contact, Queue (+Chatbots), Whatsapp (+Queues) and User.
	GetTicket(ctx context.Context, id uint64) (*model.Ticket, error)
	// FindOpenTicket returns the open|pending|group ticket for the pair.
	FindOpenTicket(ctx context.Context, contactID uint64, whatsappID *uint64) (*model.Ticket, error)
	// LatestTicket returns the most recently updated ticket of the pair in any status.
	LatestTicket(ctx context.Context, contactID uint64, whatsappID *uint64) (*model.Ticket, error)
	// CreateTicket inserts the ticket and its tracking row in one transaction.
	CreateTicket(ctx context.Context, t *model.Ticket) error
	SaveTicket(ctx context.Context, t *model.Ticket) error
	ListTickets(ctx context.Context, filter TicketFilter, limit, offset int) ([]model.Ticket, int64, error)
	CountPendingInQueue(ctx context.Context, companyID, queueID uint64) (int64, error)
	// ListIdleTickets returns open|pending tickets of a connection not updated since before.
	ListIdleTickets(ctx context.Context, whatsappID uint64, before time.Time) ([]model.Ticket, error)
	// MoveMessages re-points every message of one ticket to another.
	MoveMessages(ctx context.Context, fromTicketID, toTicketID uint64) (int64, error)

	// Tracking returns the tracking row of a ticket, creating it when missing.
	Tracking(ctx context.Context, t *model.Ticket) (*model.TicketTracking, error)
	SaveTracking(ctx context.Context, tr *model.TicketTracking) error

	CreateLog(ctx context.Context, l *model.LogTicket) error
	CreateRating(ctx context.Context, r *model.UserRating) error
}

type MessageStore interface {
	// CreateMessage inserts m unless (wid, company) already exists; created reports which happened.
	CreateMessage(ctx context.Context, m *model.Message) (created bool, err error)
	FindMessageByWID(ctx context.Context, companyID uint64, wid string) (*model.Message, error)
	// FindMessageForAck tries LocalID, then WID, then the primary key for numeric ids.
	FindMessageForAck(ctx context.Context, companyID uint64, id string) (*model.Message, error)
	// RaiseAck sets ack to level only when the stored ack is lower. Reports whether a row changed.
	RaiseAck(ctx context.Context, messageID uint64, level int) (bool, error)
	UpdateMessageBody(ctx context.Context, messageID uint64, body string, edited bool) error
	// GetMessage loads a message with Ticket and Contact.
	GetMessage(ctx context.Context, id uint64) (*model.Message, error)
}

type ContactStore interface {
	// UpsertContact inserts or updates the contact keyed by (number, company) and returns the stored row.
	UpsertContact(ctx context.Context, c *model.Contact) (*model.Contact, error)
	FindContactByLID(ctx context.Context, companyID uint64, lid string) (*model.Contact, error)
	GetContact(ctx context.Context, id uint64) (*model.Contact, error)
}

type CatalogStore interface {
	GetQueue(ctx context.Context, companyID, id uint64) (*model.Queue, error)
	GetQueueOption(ctx context.Context, id uint64) (*model.QueueOption, error)
	// GetWhatsapp loads a connection with Queues ordered by OrderQueue and their Chatbots.
	GetWhatsapp(ctx context.Context, id uint64) (*model.Whatsapp, error)
	ListWhatsapps(ctx context.Context) ([]model.Whatsapp, error)
	GetCompany(ctx context.Context, id uint64) (*model.Company, error)
	// Settings never fails on a missing row: it returns model.DefaultSettings.
	Settings(ctx context.Context, companyID uint64) (*model.CompanySettings, error)
	GetUser(ctx context.Context, id uint64) (*model.User, error)
	GetIntegration(ctx context.Context, id uint64) (*model.QueueIntegration, error)
}

// Store объединяет все интерфейсы хранилища.
type Store interface {
	TicketStore
	MessageStore
	ContactStore
	CatalogStore
}
