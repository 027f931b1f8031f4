package gormstore

import (
	"context"
	"errors"

	"github.com/psds-microservice/chat-ticket-service/internal/errs"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"gorm.io/gorm"
)

func (s *Store) GetQueue(ctx context.Context, companyID, id uint64) (*model.Queue, error) {
	var q model.Queue
	err := s.db.WithContext(ctx).
		Preload("Chatbots", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Where("id = ? AND company_id = ?", id, companyID).
		First(&q).Error
	if err != nil {
		return nil, translate(err, errs.ErrQueueNotFound)
	}
	return &q, nil
}

func (s *Store) GetQueueOption(ctx context.Context, id uint64) (*model.QueueOption, error) {
	var o model.QueueOption
	if err := s.db.WithContext(ctx).First(&o, id).Error; err != nil {
		return nil, translate(err, errs.ErrQueueNotFound)
	}
	return &o, nil
}

func (s *Store) GetWhatsapp(ctx context.Context, id uint64) (*model.Whatsapp, error) {
	var w model.Whatsapp
	err := s.db.WithContext(ctx).
		Preload("Queues", func(db *gorm.DB) *gorm.DB { return db.Order("order_queue ASC") }).
		Preload("Queues.Chatbots", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		First(&w, id).Error
	if err != nil {
		return nil, translate(err, errs.ErrConnectionNotFound)
	}
	return &w, nil
}

func (s *Store) ListWhatsapps(ctx context.Context) ([]model.Whatsapp, error) {
	var items []model.Whatsapp
	err := s.db.WithContext(ctx).Order("id ASC").Find(&items).Error
	return items, err
}

func (s *Store) GetCompany(ctx context.Context, id uint64) (*model.Company, error) {
	var c model.Company
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, translate(err, errs.ErrCompanyNotFound)
	}
	return &c, nil
}

func (s *Store) Settings(ctx context.Context, companyID uint64) (*model.CompanySettings, error) {
	var cs model.CompanySettings
	err := s.db.WithContext(ctx).Where("company_id = ?", companyID).First(&cs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.DefaultSettings(companyID), nil
	}
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

func (s *Store) GetUser(ctx context.Context, id uint64) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err, errs.ErrUserNotFound)
	}
	return &u, nil
}

func (s *Store) GetIntegration(ctx context.Context, id uint64) (*model.QueueIntegration, error) {
	var qi model.QueueIntegration
	if err := s.db.WithContext(ctx).First(&qi, id).Error; err != nil {
		return nil, translate(err, errs.ErrIntegrationNotFound)
	}
	return &qi, nil
}
