package gormstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/chat-ticket-service/internal/errs"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func withTicketGraph(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Contact").
		Preload("Queue").
		Preload("Queue.Chatbots", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Preload("Whatsapp").
		Preload("Whatsapp.Queues", func(db *gorm.DB) *gorm.DB { return db.Order("order_queue ASC") }).
		Preload("Whatsapp.Queues.Chatbots", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Preload("User")
}

func pair(db *gorm.DB, contactID uint64, whatsappID *uint64) *gorm.DB {
	db = db.Where("contact_id = ?", contactID)
	if whatsappID == nil {
		return db.Where("whatsapp_id IS NULL")
	}
	return db.Where("whatsapp_id = ?", *whatsappID)
}

func (s *Store) GetTicket(ctx context.Context, id uint64) (*model.Ticket, error) {
	var t model.Ticket
	if err := withTicketGraph(s.db.WithContext(ctx)).First(&t, id).Error; err != nil {
		return nil, translate(err, errs.ErrTicketNotFound)
	}
	return &t, nil
}

func (s *Store) FindOpenTicket(ctx context.Context, contactID uint64, whatsappID *uint64) (*model.Ticket, error) {
	var t model.Ticket
	err := pair(s.db.WithContext(ctx), contactID, whatsappID).
		Where("status IN ?", model.OpenStatuses).
		Order("updated_at DESC").
		First(&t).Error
	if err != nil {
		return nil, translate(err, errs.ErrTicketNotFound)
	}
	return &t, nil
}

func (s *Store) LatestTicket(ctx context.Context, contactID uint64, whatsappID *uint64) (*model.Ticket, error) {
	var t model.Ticket
	err := pair(s.db.WithContext(ctx), contactID, whatsappID).
		Order("updated_at DESC").Order("id DESC").
		First(&t).Error
	if err != nil {
		return nil, translate(err, errs.ErrTicketNotFound)
	}
	return &t, nil
}

func (s *Store) CreateTicket(ctx context.Context, t *model.Ticket) error {
	if t.UUID == "" {
		t.UUID = uuid.NewString()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(t).Error; err != nil {
			return err
		}
		tr := model.TicketTracking{
			TicketID:   t.ID,
			CompanyID:  t.CompanyID,
			WhatsappID: t.WhatsappID,
			QueueID:    t.QueueID,
			UserID:     t.UserID,
		}
		return tx.Create(&tr).Error
	})
	return translate(err, errs.ErrTicketNotFound)
}

func (s *Store) SaveTicket(ctx context.Context, t *model.Ticket) error {
	return translate(s.db.WithContext(ctx).Omit(clause.Associations).Save(t).Error, errs.ErrTicketNotFound)
}

func (s *Store) ListTickets(ctx context.Context, filter store.TicketFilter, limit, offset int) ([]model.Ticket, int64, error) {
	var items []model.Ticket
	var total int64
	tx := s.db.WithContext(ctx).Model(&model.Ticket{})
	if filter.CompanyID != 0 {
		tx = tx.Where("company_id = ?", filter.CompanyID)
	}
	if filter.Status != "" {
		tx = tx.Where("status = ?", filter.Status)
	}
	if filter.QueueID != 0 {
		tx = tx.Where("queue_id = ?", filter.QueueID)
	}
	if filter.UserID != 0 {
		tx = tx.Where("user_id = ?", filter.UserID)
	}
	if filter.ContactID != 0 {
		tx = tx.Where("contact_id = ?", filter.ContactID)
	}
	// Count total before pagination
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if offset > 0 {
		tx = tx.Offset(offset)
	}
	if err := tx.Order("updated_at DESC").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) CountPendingInQueue(ctx context.Context, companyID, queueID uint64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Ticket{}).
		Where("company_id = ? AND queue_id = ? AND status = ?", companyID, queueID, model.TicketStatusPending).
		Count(&n).Error
	return n, err
}

func (s *Store) ListIdleTickets(ctx context.Context, whatsappID uint64, before time.Time) ([]model.Ticket, error) {
	var items []model.Ticket
	err := s.db.WithContext(ctx).
		Where("whatsapp_id = ? AND status IN ? AND updated_at < ?", whatsappID,
			[]model.TicketStatus{model.TicketStatusOpen, model.TicketStatusPending}, before).
		Order("updated_at ASC").
		Find(&items).Error
	return items, err
}

func (s *Store) MoveMessages(ctx context.Context, fromTicketID, toTicketID uint64) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("ticket_id = ?", fromTicketID).
		Update("ticket_id", toTicketID)
	return res.RowsAffected, res.Error
}

func (s *Store) Tracking(ctx context.Context, t *model.Ticket) (*model.TicketTracking, error) {
	var tr model.TicketTracking
	db := s.db.WithContext(ctx)
	err := db.Where(model.TicketTracking{TicketID: t.ID}).
		Attrs(model.TicketTracking{CompanyID: t.CompanyID, WhatsappID: t.WhatsappID, QueueID: t.QueueID, UserID: t.UserID}).
		FirstOrCreate(&tr).Error
	if err != nil && isDuplicate(err) {
		// создан параллельно, перечитываем
		err = db.Where("ticket_id = ?", t.ID).First(&tr).Error
	}
	if err != nil {
		return nil, translate(err, errs.ErrTicketNotFound)
	}
	return &tr, nil
}

func (s *Store) SaveTracking(ctx context.Context, tr *model.TicketTracking) error {
	return s.db.WithContext(ctx).Save(tr).Error
}

func (s *Store) CreateLog(ctx context.Context, l *model.LogTicket) error {
	return s.db.WithContext(ctx).Create(l).Error
}

func (s *Store) CreateRating(ctx context.Context, r *model.UserRating) error {
	return s.db.WithContext(ctx).Create(r).Error
}
