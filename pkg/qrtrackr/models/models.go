package models

import (
	"fmt"

	"gorm.io/gorm"
)

// legacyCounterColumn is the historical name of the scan counter.
const legacyCounterColumn = "access_count"

// AllModels returns all models for migration
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&APIKey{},
		&TrackingLink{},
		&ScanEvent{},
	}
}

// AutoMigrate runs GORM auto-migration for all models and then folds any
// legacy schema left by older installs into the current one.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return err
	}
	return Upgrade(db)
}

// Upgrade consolidates the legacy access_count column into scans.
// Older installs wrote either column depending on the code path, so the
// larger of the two is kept.
func Upgrade(db *gorm.DB) error {
	if !db.Migrator().HasColumn(&TrackingLink{}, legacyCounterColumn) {
		return nil
	}

	table := TrackingLink{}.TableName()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(fmt.Sprintf(
			"UPDATE %s SET scans = %s WHERE %s IS NOT NULL AND %s > scans",
			table, legacyCounterColumn, legacyCounterColumn, legacyCounterColumn,
		)).Error; err != nil {
			return err
		}
		return tx.Exec(fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, legacyCounterColumn)).Error
	})
	if err != nil {
		return fmt.Errorf("fold %s into scans: %w", legacyCounterColumn, err)
	}
	return nil
}

// DropData removes the tracking tables. Users and API keys are kept.
func DropData(db *gorm.DB) error {
	return db.Migrator().DropTable(&ScanEvent{}, &TrackingLink{})
}
