package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"dealgraph.org/db"
)

func (s *metadataStore) findingForOrg(ctx context.Context, scope Scope, findingID string) (*db.Finding, error) {
	var finding db.Finding
	err := s.gdb.WithContext(ctx).
		Joins("JOIN deals ON deals.id = findings.deal_id").
		Where("findings.id = ? AND deals.organization_id = ?", findingID, scope.OrgID).
		First(&finding).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &finding, nil
}

func (s *metadataStore) CreateFindings(ctx context.Context, findings []db.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	return s.gdb.WithContext(ctx).CreateInBatches(findings, 100).Error
}

func (s *metadataStore) GetFinding(ctx context.Context, scope Scope, findingID string) (*db.Finding, error) {
	return s.findingForOrg(ctx, scope, findingID)
}

func (s *metadataStore) ListFindings(ctx context.Context, scope Scope, dealID string, status string) ([]db.Finding, error) {
	if _, err := s.dealForOrg(ctx, scope, dealID); err != nil {
		return nil, err
	}
	q := s.gdb.WithContext(ctx).Where("deal_id = ?", dealID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var findings []db.Finding
	err := q.Order("created_at DESC").Find(&findings).Error
	return findings, err
}

func (s *metadataStore) ListFindingsByDocument(ctx context.Context, documentID string) ([]db.Finding, error) {
	var findings []db.Finding
	err := s.gdb.WithContext(ctx).
		Where("document_id = ?", documentID).
		Find(&findings).Error
	return findings, err
}

func (s *metadataStore) UpdateFinding(ctx context.Context, scope Scope, finding *db.Finding) error {
	if _, err := s.findingForOrg(ctx, scope, finding.ID); err != nil {
		return err
	}
	return s.gdb.WithContext(ctx).Save(finding).Error
}

// RecordCorrection writes the append-only correction row and applies the
// corrected text to the finding atomically. The finding remembers when it was
// last corrected so repeated automated analysis does not overwrite analyst
// input.
func (s *metadataStore) RecordCorrection(ctx context.Context, scope Scope, corr *db.FindingCorrection) error {
	finding, err := s.findingForOrg(ctx, scope, corr.FindingID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(corr).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{"last_corrected_at": now}
		if corr.CorrectionType == "value" || corr.CorrectionType == "text" {
			updates["text"] = corr.CorrectedValue
		}
		return tx.Model(finding).Updates(updates).Error
	})
}

func (s *metadataStore) RecordFeedback(ctx context.Context, scope Scope, fb *db.ValidationFeedback) error {
	finding, err := s.findingForOrg(ctx, scope, fb.FindingID)
	if err != nil {
		return err
	}
	status := "validated"
	if fb.Action == "reject" {
		status = "rejected"
	}
	history := append(finding.ValidationHistory, map[string]interface{}{
		"action":     fb.Action,
		"analyst_id": fb.AnalystID,
		"reason":     fb.Reason,
		"at":         time.Now().UTC().Format(time.RFC3339),
	})
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(fb).Error; err != nil {
			return err
		}
		return tx.Model(finding).Updates(map[string]interface{}{
			"status":             status,
			"validation_history": history,
		}).Error
	})
}

func (s *metadataStore) ListCorrections(ctx context.Context, scope Scope, findingID string) ([]db.FindingCorrection, error) {
	if _, err := s.findingForOrg(ctx, scope, findingID); err != nil {
		return nil, err
	}
	var corrections []db.FindingCorrection
	err := s.gdb.WithContext(ctx).
		Where("finding_id = ?", findingID).
		Order("created_at ASC").
		Find(&corrections).Error
	return corrections, err
}

func (s *metadataStore) CountSourceErrors(ctx context.Context, documentID string) (int64, error) {
	var count int64
	err := s.gdb.WithContext(ctx).Model(&db.FindingCorrection{}).
		Joins("JOIN findings ON findings.id = finding_corrections.finding_id").
		Where("findings.document_id = ? AND finding_corrections.validation_status = ?",
			documentID, "source_error").
		Count(&count).Error
	return count, err
}

func (s *metadataStore) FlagSiblings(ctx context.Context, documentID, exceptFindingID, reason string) (int64, error) {
	res := s.gdb.WithContext(ctx).Model(&db.Finding{}).
		Where("document_id = ? AND id <> ? AND status = ?", documentID, exceptFindingID, "pending").
		Updates(map[string]interface{}{
			"needs_review":  true,
			"review_reason": reason,
		})
	return res.RowsAffected, res.Error
}

func (s *metadataStore) CreateMetrics(ctx context.Context, metrics []db.FinancialMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	return s.gdb.WithContext(ctx).CreateInBatches(metrics, 100).Error
}

func (s *metadataStore) ListMetrics(ctx context.Context, scope Scope, documentID string) ([]db.FinancialMetric, error) {
	if _, err := s.docForOrg(ctx, scope, documentID); err != nil {
		return nil, err
	}
	var metrics []db.FinancialMetric
	err := s.gdb.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("source_sheet ASC, source_cell ASC").
		Find(&metrics).Error
	return metrics, err
}

func (s *metadataStore) CreateContradiction(ctx context.Context, c *db.Contradiction) error {
	return s.gdb.WithContext(ctx).Create(c).Error
}

func (s *metadataStore) ListContradictions(ctx context.Context, scope Scope, dealID string) ([]db.Contradiction, error) {
	if _, err := s.dealForOrg(ctx, scope, dealID); err != nil {
		return nil, err
	}
	var items []db.Contradiction
	err := s.gdb.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("created_at DESC").
		Find(&items).Error
	return items, err
}

func (s *metadataStore) ResolveContradiction(ctx context.Context, scope Scope, id, status, resolution, userID string) error {
	var c db.Contradiction
	err := s.gdb.WithContext(ctx).
		Joins("JOIN deals ON deals.id = contradictions.deal_id").
		Where("contradictions.id = ? AND deals.organization_id = ?", id, scope.OrgID).
		First(&c).Error
	if err != nil {
		return notFound(err)
	}
	return s.gdb.WithContext(ctx).Model(&c).Updates(map[string]interface{}{
		"status":      status,
		"resolution":  resolution,
		"resolved_by": userID,
	}).Error
}
