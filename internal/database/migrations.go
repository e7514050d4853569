package database

import (
	"errors"
	"time"

	"github.com/klaseapp/klase/backend/internal/kvstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationDropUnscopedDraftKeys = "2026-08-10_drop_unscoped_draft_keys"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDropUnscopedDraftKeys, apply: dropUnscopedDraftKeys},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// dropUnscopedDraftKeys removes draft entries written before keys carried the
// user segment; they can no longer be resolved to a scope.
func dropUnscopedDraftKeys(db *gorm.DB) error {
	return db.
		Where("key LIKE 'draft:%'").
		Where("length(key) - length(replace(key, ':', '')) < 4").
		Delete(&kvstore.Entry{}).Error
}
