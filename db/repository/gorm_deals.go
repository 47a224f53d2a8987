package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"dealgraph.org/db"
)

// metadataStore implements every metadata repository interface on a single
// GORM connection. Split across files by entity.
type metadataStore struct {
	gdb *gorm.DB
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// dealForOrg loads a deal only when it belongs to the scope's organization.
// Cross-tenant lookups are indistinguishable from missing rows.
func (s *metadataStore) dealForOrg(ctx context.Context, scope Scope, dealID string) (*db.Deal, error) {
	var deal db.Deal
	err := s.gdb.WithContext(ctx).
		Where("id = ? AND organization_id = ?", dealID, scope.OrgID).
		First(&deal).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &deal, nil
}

func (s *metadataStore) CreateOrganization(ctx context.Context, org *db.Organization) error {
	return s.gdb.WithContext(ctx).Create(org).Error
}

func (s *metadataStore) GetOrganization(ctx context.Context, scope Scope, orgID string) (*db.Organization, error) {
	if !scope.Superadmin && scope.OrgID != orgID {
		return nil, ErrNotFound
	}
	var org db.Organization
	if err := s.gdb.WithContext(ctx).First(&org, "id = ?", orgID).Error; err != nil {
		return nil, notFound(err)
	}
	return &org, nil
}

func (s *metadataStore) AddMember(ctx context.Context, scope Scope, member *db.OrganizationMember) error {
	if !scope.Superadmin && scope.OrgID != member.OrganizationID {
		return ErrNotFound
	}
	return s.gdb.WithContext(ctx).Create(member).Error
}

func (s *metadataStore) MemberRole(ctx context.Context, orgID, userID string) (string, error) {
	var member db.OrganizationMember
	err := s.gdb.WithContext(ctx).
		Where("organization_id = ? AND user_id = ?", orgID, userID).
		First(&member).Error
	if err != nil {
		return "", notFound(err)
	}
	return member.Role, nil
}

func (s *metadataStore) CreateDeal(ctx context.Context, scope Scope, deal *db.Deal) error {
	if deal.OrganizationID != scope.OrgID {
		return fmt.Errorf("deal organization mismatch")
	}
	return s.gdb.WithContext(ctx).Create(deal).Error
}

func (s *metadataStore) GetDeal(ctx context.Context, scope Scope, dealID string) (*db.Deal, error) {
	return s.dealForOrg(ctx, scope, dealID)
}

func (s *metadataStore) ListDeals(ctx context.Context, scope Scope) ([]db.Deal, error) {
	var deals []db.Deal
	err := s.gdb.WithContext(ctx).
		Where("organization_id = ?", scope.OrgID).
		Order("created_at DESC").
		Find(&deals).Error
	return deals, err
}

func (s *metadataStore) UpdateDeal(ctx context.Context, scope Scope, deal *db.Deal) error {
	if _, err := s.dealForOrg(ctx, scope, deal.ID); err != nil {
		return err
	}
	return s.gdb.WithContext(ctx).Save(deal).Error
}

func (s *metadataStore) DeleteDeal(ctx context.Context, scope Scope, dealID string) error {
	if _, err := s.dealForOrg(ctx, scope, dealID); err != nil {
		return err
	}
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		docIDs := tx.Model(&db.Document{}).Select("id").Where("deal_id = ?", dealID)
		if err := tx.Where("document_id IN (?)", docIDs).Delete(&db.DocumentChunk{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id IN (?)", docIDs).Delete(&db.FinancialMetric{}).Error; err != nil {
			return err
		}
		convIDs := tx.Model(&db.Conversation{}).Select("id").Where("deal_id = ?", dealID)
		if err := tx.Where("conversation_id IN (?)", convIDs).Delete(&db.Message{}).Error; err != nil {
			return err
		}
		irlIDs := tx.Model(&db.IRL{}).Select("id").Where("deal_id = ?", dealID)
		if err := tx.Where("irl_id IN (?)", irlIDs).Delete(&db.IRLItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("deal_id = ?", dealID).Delete(&db.IRL{}).Error; err != nil {
			return err
		}
		for _, model := range []interface{}{
			&db.Document{}, &db.Folder{}, &db.Finding{}, &db.Contradiction{},
			&db.QAItem{}, &db.Conversation{}, &db.CIM{},
		} {
			if err := tx.Where("deal_id = ?", dealID).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&db.Deal{}, "id = ?", dealID).Error
	})
}
