package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/psds-microservice/chat-ticket-service/internal/errs"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) (bool, error) {
	db := s.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wid"}, {Name: "company_id"}},
		DoNothing: true,
	}).Omit(clause.Associations).Create(m)
	if res.Error != nil {
		return false, translate(res.Error, errs.ErrMessageNotFound)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	var existing model.Message
	if err := db.Where("wid = ? AND company_id = ?", m.WID, m.CompanyID).First(&existing).Error; err != nil {
		return false, translate(err, errs.ErrMessageNotFound)
	}
	*m = existing
	return false, nil
}

func (s *Store) FindMessageByWID(ctx context.Context, companyID uint64, wid string) (*model.Message, error) {
	var m model.Message
	if err := s.db.WithContext(ctx).Where("wid = ? AND company_id = ?", wid, companyID).First(&m).Error; err != nil {
		return nil, translate(err, errs.ErrMessageNotFound)
	}
	return &m, nil
}

type ackLookup struct {
	where string
	arg   interface{}
}

// FindMessageForAck tries local_id, then wid, then the primary key for numeric ids. Only a missing row moves
// on to the next lookup.
func (s *Store) FindMessageForAck(ctx context.Context, companyID uint64, id string) (*model.Message, error) {
	lookups := []ackLookup{{"local_id = ? AND company_id = ?", id}, {"wid = ? AND company_id = ?", id}}
	if pk, err := strconv.ParseUint(id, 10, 64); err == nil {
		lookups = append(lookups, ackLookup{"id = ? AND company_id = ?", pk})
	}
	db := s.db.WithContext(ctx)
	for _, l := range lookups {
		var m model.Message
		err := db.Where(l.where, l.arg, companyID).First(&m).Error
		if err == nil {
			return &m, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("find message for ack: %w", err)
		}
	}
	return nil, errs.ErrMessageNotFound
}

func (s *Store) RaiseAck(ctx context.Context, messageID uint64, level int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND ack < ?", messageID, level).
		Update("ack", level)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) UpdateMessageBody(ctx context.Context, messageID uint64, body string, edited bool) error {
	res := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{"body": body, "is_edited": edited})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrMessageNotFound
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id uint64) (*model.Message, error) {
	var m model.Message
	err := s.db.WithContext(ctx).
		Preload("Ticket").
		Preload("Ticket.Contact").
		Preload("Contact").
		First(&m, id).Error
	if err != nil {
		return nil, translate(err, errs.ErrMessageNotFound)
	}
	return &m, nil
}
