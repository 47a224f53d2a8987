package repository

import (
	"context"

	"dealgraph.org/db"
)

func (s *metadataStore) convForOrg(ctx context.Context, scope Scope, convID string) (*db.Conversation, error) {
	var conv db.Conversation
	err := s.gdb.WithContext(ctx).
		Joins("JOIN deals ON deals.id = conversations.deal_id").
		Where("conversations.id = ? AND deals.organization_id = ?", convID, scope.OrgID).
		First(&conv).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

func (s *metadataStore) CreateConversation(ctx context.Context, scope Scope, conv *db.Conversation) error {
	if _, err := s.dealForOrg(ctx, scope, conv.DealID); err != nil {
		return err
	}
	return s.gdb.WithContext(ctx).Create(conv).Error
}

func (s *metadataStore) GetConversation(ctx context.Context, scope Scope, convID string) (*db.Conversation, error) {
	return s.convForOrg(ctx, scope, convID)
}

func (s *metadataStore) ListConversations(ctx context.Context, scope Scope, dealID string) ([]db.Conversation, error) {
	if _, err := s.dealForOrg(ctx, scope, dealID); err != nil {
		return nil, err
	}
	var convs []db.Conversation
	err := s.gdb.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("updated_at DESC").
		Find(&convs).Error
	return convs, err
}

func (s *metadataStore) AppendMessage(ctx context.Context, scope Scope, msg *db.Message) error {
	conv, err := s.convForOrg(ctx, scope, msg.ConversationID)
	if err != nil {
		return err
	}
	if err := s.gdb.WithContext(ctx).Create(msg).Error; err != nil {
		return err
	}
	// Bump the conversation so listings sort by activity.
	return s.gdb.WithContext(ctx).Model(conv).Update("updated_at", msg.CreatedAt).Error
}

// ListMessages returns the most recent messages in chronological order.
func (s *metadataStore) ListMessages(ctx context.Context, scope Scope, convID string, limit int) ([]db.Message, error) {
	if _, err := s.convForOrg(ctx, scope, convID); err != nil {
		return nil, err
	}
	q := s.gdb.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var msgs []db.Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *metadataStore) CreateCIM(ctx context.Context, scope Scope, cim *db.CIM) error {
	if _, err := s.dealForOrg(ctx, scope, cim.DealID); err != nil {
		return err
	}
	return s.gdb.WithContext(ctx).Create(cim).Error
}

func (s *metadataStore) GetCIM(ctx context.Context, scope Scope, cimID string) (*db.CIM, error) {
	var cim db.CIM
	err := s.gdb.WithContext(ctx).
		Joins("JOIN deals ON deals.id = cims.deal_id").
		Where("cims.id = ? AND deals.organization_id = ?", cimID, scope.OrgID).
		First(&cim).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &cim, nil
}

func (s *metadataStore) ListCIMs(ctx context.Context, scope Scope, dealID string) ([]db.CIM, error) {
	if _, err := s.dealForOrg(ctx, scope, dealID); err != nil {
		return nil, err
	}
	var cims []db.CIM
	err := s.gdb.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("created_at DESC").
		Find(&cims).Error
	return cims, err
}

func (s *metadataStore) UpdateCIM(ctx context.Context, scope Scope, cim *db.CIM) error {
	if _, err := s.GetCIM(ctx, scope, cim.ID); err != nil {
		return err
	}
	return s.gdb.WithContext(ctx).Save(cim).Error
}
