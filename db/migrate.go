package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dealgraph.org/common"
)

// NewGormDB opens a GORM connection for the metadata schema. Hot-path SQL
// stays on the pgx pool; GORM carries the entity CRUD.
func NewGormDB(connString string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(connString), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm connection: %w", err)
	}
	return gdb, nil
}

// appendOnlyTables never accept UPDATE or DELETE after insert. Corrections
// and feedback form the audit trail for analyst activity; audit_logs is the
// security trail.
var appendOnlyTables = []string{
	"audit_logs",
	"finding_corrections",
	"validation_feedbacks",
}

const appendOnlyTriggerFn = `
CREATE OR REPLACE FUNCTION reject_mutation() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION '% rows are append-only', TG_TABLE_NAME;
END;
$$ LANGUAGE plpgsql;
`

// Migrate creates or updates the metadata schema and installs the
// append-only triggers.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}

	if err := gdb.Exec(appendOnlyTriggerFn).Error; err != nil {
		return fmt.Errorf("failed to create append-only trigger function: %w", err)
	}
	for _, table := range appendOnlyTables {
		trigger := fmt.Sprintf(`
DO $$ BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = '%[1]s_append_only') THEN
        CREATE TRIGGER %[1]s_append_only
        BEFORE UPDATE OR DELETE ON %[1]s
        FOR EACH ROW EXECUTE FUNCTION reject_mutation();
    END IF;
END $$;`, table)
		if err := gdb.Exec(trigger).Error; err != nil {
			return fmt.Errorf("failed to install append-only trigger on %s: %w", table, err)
		}
	}

	common.Logger.WithField("models", len(AllModels())).Info("database migration complete")
	return nil
}
