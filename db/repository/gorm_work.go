package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"dealgraph.org/db"
)

func (s *metadataStore) CreateQAItem(ctx context.Context, scope Scope, item *db.QAItem) error {
	if _, err := s.dealForOrg(ctx, scope, item.DealID); err != nil {
		return err
	}
	if item.DateAdded.IsZero() {
		item.DateAdded = time.Now().UTC()
	}
	return s.gdb.WithContext(ctx).Create(item).Error
}

func (s *metadataStore) ListQAItems(ctx context.Context, scope Scope, dealID string) ([]db.QAItem, error) {
	if _, err := s.dealForOrg(ctx, scope, dealID); err != nil {
		return nil, err
	}
	var items []db.QAItem
	err := s.gdb.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("date_added DESC").
		Find(&items).Error
	return items, err
}

// UpdateQAItem applies the update only if the stored updated_at still matches
// what the caller read. A concurrent edit surfaces as ErrStaleUpdate.
func (s *metadataStore) UpdateQAItem(ctx context.Context, scope Scope, item *db.QAItem, expectedUpdatedAt time.Time) error {
	var current db.QAItem
	err := s.gdb.WithContext(ctx).
		Joins("JOIN deals ON deals.id = qa_items.deal_id").
		Where("qa_items.id = ? AND deals.organization_id = ?", item.ID, scope.OrgID).
		First(&current).Error
	if err != nil {
		return notFound(err)
	}
	res := s.gdb.WithContext(ctx).Model(&db.QAItem{}).
		Where("id = ? AND updated_at = ?", item.ID, expectedUpdatedAt).
		Updates(map[string]interface{}{
			"question":      item.Question,
			"category":      item.Category,
			"priority":      item.Priority,
			"answer":        item.Answer,
			"date_answered": item.DateAnswered,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleUpdate
	}
	return nil
}

func (s *metadataStore) DeleteQAItem(ctx context.Context, scope Scope, itemID string) error {
	res := s.gdb.WithContext(ctx).
		Where("id IN (?)", s.gdb.Model(&db.QAItem{}).Select("qa_items.id").
			Joins("JOIN deals ON deals.id = qa_items.deal_id").
			Where("qa_items.id = ? AND deals.organization_id = ?", itemID, scope.OrgID)).
		Delete(&db.QAItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *metadataStore) CreateIRL(ctx context.Context, scope Scope, irl *db.IRL, items []db.IRLItem) error {
	if _, err := s.dealForOrg(ctx, scope, irl.DealID); err != nil {
		return err
	}
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(irl).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].IRLID = irl.ID
			items[i].SortOrder = i
		}
		if len(items) == 0 {
			return nil
		}
		return tx.CreateInBatches(items, 100).Error
	})
}

func (s *metadataStore) irlForOrg(ctx context.Context, scope Scope, irlID string) (*db.IRL, error) {
	var irl db.IRL
	err := s.gdb.WithContext(ctx).
		Joins("JOIN deals ON deals.id = irls.deal_id").
		Where("irls.id = ? AND deals.organization_id = ?", irlID, scope.OrgID).
		First(&irl).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &irl, nil
}

func (s *metadataStore) GetIRL(ctx context.Context, scope Scope, irlID string) (*db.IRL, []db.IRLItem, error) {
	irl, err := s.irlForOrg(ctx, scope, irlID)
	if err != nil {
		return nil, nil, err
	}
	var items []db.IRLItem
	err = s.gdb.WithContext(ctx).
		Where("irl_id = ?", irlID).
		Order("sort_order ASC").
		Find(&items).Error
	return irl, items, err
}

func (s *metadataStore) ListIRLs(ctx context.Context, scope Scope, dealID string) ([]db.IRL, error) {
	if _, err := s.dealForOrg(ctx, scope, dealID); err != nil {
		return nil, err
	}
	var irls []db.IRL
	err := s.gdb.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("created_at DESC").
		Find(&irls).Error
	return irls, err
}

func (s *metadataStore) UpdateIRLItem(ctx context.Context, scope Scope, item *db.IRLItem) error {
	if _, err := s.irlForOrg(ctx, scope, item.IRLID); err != nil {
		return err
	}
	return s.gdb.WithContext(ctx).Save(item).Error
}
