package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"dealgraph.org/db"
)

// docForOrg loads a document only when its deal belongs to the scope's
// organization.
func (s *metadataStore) docForOrg(ctx context.Context, scope Scope, documentID string) (*db.Document, error) {
	var doc db.Document
	err := s.gdb.WithContext(ctx).
		Joins("JOIN deals ON deals.id = documents.deal_id").
		Where("documents.id = ? AND deals.organization_id = ?", documentID, scope.OrgID).
		First(&doc).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

func (s *metadataStore) CreateDocument(ctx context.Context, scope Scope, doc *db.Document) error {
	if _, err := s.dealForOrg(ctx, scope, doc.DealID); err != nil {
		return err
	}
	return s.gdb.WithContext(ctx).Create(doc).Error
}

func (s *metadataStore) GetDocument(ctx context.Context, scope Scope, documentID string) (*db.Document, error) {
	return s.docForOrg(ctx, scope, documentID)
}

func (s *metadataStore) ListDocuments(ctx context.Context, scope Scope, dealID, folderPath string) ([]db.Document, error) {
	if _, err := s.dealForOrg(ctx, scope, dealID); err != nil {
		return nil, err
	}
	q := s.gdb.WithContext(ctx).Where("deal_id = ?", dealID)
	if folderPath != "" {
		q = q.Where("folder_path = ?", folderPath)
	}
	var docs []db.Document
	err := q.Order("created_at DESC").Find(&docs).Error
	return docs, err
}

func (s *metadataStore) DeleteDocument(ctx context.Context, scope Scope, documentID string) error {
	if _, err := s.docForOrg(ctx, scope, documentID); err != nil {
		return err
	}
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&db.DocumentChunk{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", documentID).Delete(&db.FinancialMetric{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", documentID).Delete(&db.Finding{}).Error; err != nil {
			return err
		}
		return tx.Delete(&db.Document{}, "id = ?", documentID).Error
	})
}

// UpdateStatus runs unscoped: it is called from job handlers that already
// resolved tenancy when the job was enqueued.
func (s *metadataStore) UpdateStatus(ctx context.Context, documentID, status, stage string) error {
	updates := map[string]interface{}{
		"processing_status": status,
		"updated_at":        time.Now().UTC(),
	}
	if stage != "" {
		updates["last_completed_stage"] = stage
	}
	res := s.gdb.WithContext(ctx).Model(&db.Document{}).
		Where("id = ?", documentID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *metadataStore) RecordRetry(ctx context.Context, documentID string, entry map[string]interface{}) error {
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc db.Document
		if err := tx.First(&doc, "id = ?", documentID).Error; err != nil {
			return notFound(err)
		}
		history := append(doc.RetryHistory, entry)
		if len(history) > db.RetryHistoryCap {
			history = history[len(history)-db.RetryHistoryCap:]
		}
		return tx.Model(&doc).Update("retry_history", history).Error
	})
}

func (s *metadataStore) RecordError(ctx context.Context, documentID string, procErr map[string]interface{}) error {
	res := s.gdb.WithContext(ctx).Model(&db.Document{}).
		Where("id = ?", documentID).
		Updates(map[string]interface{}{
			"processing_error": db.JSONMap(procErr),
			"error_count":      gorm.Expr("error_count + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *metadataStore) SetParseNotes(ctx context.Context, documentID string, notes map[string]interface{}) error {
	res := s.gdb.WithContext(ctx).Model(&db.Document{}).
		Where("id = ?", documentID).
		Update("parse_notes", db.JSONMap(notes))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *metadataStore) SetReliability(ctx context.Context, scope Scope, documentID, reliability string) error {
	if _, err := s.docForOrg(ctx, scope, documentID); err != nil {
		return err
	}
	return s.gdb.WithContext(ctx).Model(&db.Document{}).
		Where("id = ?", documentID).
		Update("reliability_status", reliability).Error
}

// ReplaceChunks makes re-parsing idempotent: the previous chunk set is
// dropped and the new one written in a single transaction.
func (s *metadataStore) ReplaceChunks(ctx context.Context, documentID string, chunks []db.DocumentChunk) error {
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&db.DocumentChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 200).Error
	})
}

func (s *metadataStore) ListChunks(ctx context.Context, documentID string) ([]db.DocumentChunk, error) {
	var chunks []db.DocumentChunk
	err := s.gdb.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	return chunks, err
}

func (s *metadataStore) SetChunkEpisode(ctx context.Context, chunkID, episodeID string) error {
	return s.gdb.WithContext(ctx).Model(&db.DocumentChunk{}).
		Where("id = ?", chunkID).
		Update("episode_id", episodeID).Error
}

func (s *metadataStore) CreateFolder(ctx context.Context, scope Scope, folder *db.Folder) error {
	if _, err := s.dealForOrg(ctx, scope, folder.DealID); err != nil {
		return err
	}
	return s.gdb.WithContext(ctx).Create(folder).Error
}

func (s *metadataStore) ListFolders(ctx context.Context, scope Scope, dealID string) ([]db.Folder, error) {
	if _, err := s.dealForOrg(ctx, scope, dealID); err != nil {
		return nil, err
	}
	var folders []db.Folder
	err := s.gdb.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("path ASC, sort_order ASC").
		Find(&folders).Error
	return folders, err
}

func (s *metadataStore) DeleteFolder(ctx context.Context, scope Scope, dealID, path string) error {
	if _, err := s.dealForOrg(ctx, scope, dealID); err != nil {
		return err
	}
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Documents fall back to the root folder rather than disappearing.
		if err := tx.Model(&db.Document{}).
			Where("deal_id = ? AND folder_path = ?", dealID, path).
			Update("folder_path", "/").Error; err != nil {
			return err
		}
		return tx.Where("deal_id = ? AND (path = ? OR parent_path = ?)", dealID, path, path).
			Delete(&db.Folder{}).Error
	})
}
