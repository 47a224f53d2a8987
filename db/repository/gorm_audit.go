package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"dealgraph.org/common"
	"dealgraph.org/config"
	"dealgraph.org/db"
)

func (s *metadataStore) Record(ctx context.Context, event *db.AuditLog) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := s.gdb.WithContext(ctx).Create(event).Error; err != nil {
		// Audit failures are logged loudly but never fail the business
		// operation they describe.
		common.Logger.WithError(err).WithField("event_type", event.EventType).
			Error("failed to record audit event")
		return err
	}
	return nil
}

func (s *metadataStore) List(ctx context.Context, scope Scope, eventType string, since time.Time, limit int) ([]db.AuditLog, error) {
	if !scope.Superadmin && scope.Role != "admin" {
		return nil, ErrNotFound
	}
	q := s.gdb.WithContext(ctx).Model(&db.AuditLog{})
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var events []db.AuditLog
	err := q.Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}

// IsEnabled consults FEATURE_* environment overrides first, then the stored
// flag. Unknown flags are off.
func (s *metadataStore) IsEnabled(ctx context.Context, name string) bool {
	if enabled, ok := config.FlagOverride(name); ok {
		return enabled
	}
	var flag db.FeatureFlag
	if err := s.gdb.WithContext(ctx).First(&flag, "name = ?", name).Error; err != nil {
		return false
	}
	return flag.Enabled
}

func (s *metadataStore) Set(ctx context.Context, scope Scope, name string, enabled bool, riskLevel string) error {
	if !scope.Superadmin {
		return ErrNotFound
	}
	flag := db.FeatureFlag{
		Name:      name,
		Enabled:   enabled,
		RiskLevel: riskLevel,
		UpdatedAt: time.Now().UTC(),
	}
	return s.gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "risk_level", "updated_at"}),
	}).Create(&flag).Error
}

func (s *metadataStore) ListFlags(ctx context.Context, scope Scope) ([]db.FeatureFlag, error) {
	if !scope.Superadmin {
		return nil, ErrNotFound
	}
	var flags []db.FeatureFlag
	err := s.gdb.WithContext(ctx).Order("name ASC").Find(&flags).Error
	return flags, err
}
