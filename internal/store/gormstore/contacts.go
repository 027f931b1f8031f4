package gormstore

import (
	"context"
	"errors"

	"github.com/psds-microservice/chat-ticket-service/internal/errs"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
)

// UpsertContact: сначала попытка найти/создать, при гонке на уникальном индексе перечитать и обновить.
func (s *Store) UpsertContact(ctx context.Context, c *model.Contact) (*model.Contact, error) {
	db := s.db.WithContext(ctx)
	for attempt := 0; attempt < 2; attempt++ {
		var existing model.Contact
		err := db.Where("number = ? AND company_id = ?", c.Number, c.CompanyID).First(&existing).Error
		if err == nil {
			if mergeContact(&existing, c) {
				if err := db.Save(&existing).Error; err != nil {
					return nil, err
				}
			}
			return &existing, nil
		}
		if translate(err, errs.ErrContactNotFound) != errs.ErrContactNotFound {
			return nil, err
		}
		created := *c
		err = db.Create(&created).Error
		if err == nil {
			return &created, nil
		}
		if !errors.Is(translate(err, errs.ErrContactNotFound), errs.ErrDuplicate) {
			return nil, err
		}
	}
	return nil, errs.ErrDuplicate
}

// mergeContact copies identifying fields from the incoming contact. Names are only filled in, never overwritten
// by a push name, unless the stored name is still the bare number.
func mergeContact(dst, src *model.Contact) bool {
	changed := false
	if src.Name != "" && (dst.Name == "" || dst.Name == dst.Number) && dst.Name != src.Name {
		dst.Name = src.Name
		changed = true
	}
	if src.RemoteJid != "" && dst.RemoteJid != src.RemoteJid {
		dst.RemoteJid = src.RemoteJid
		changed = true
	}
	if src.LID != "" && dst.LID != src.LID {
		dst.LID = src.LID
		changed = true
	}
	if src.IsGroup && !dst.IsGroup {
		dst.IsGroup = true
		changed = true
	}
	return changed
}

func (s *Store) FindContactByLID(ctx context.Context, companyID uint64, lid string) (*model.Contact, error) {
	var c model.Contact
	if err := s.db.WithContext(ctx).Where("lid = ? AND company_id = ?", lid, companyID).First(&c).Error; err != nil {
		return nil, translate(err, errs.ErrContactNotFound)
	}
	return &c, nil
}

func (s *Store) GetContact(ctx context.Context, id uint64) (*model.Contact, error) {
	var c model.Contact
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, translate(err, errs.ErrContactNotFound)
	}
	return &c, nil
}
