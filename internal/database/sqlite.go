package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/klaseapp/klase/backend/internal/flags"
	"github.com/klaseapp/klase/backend/internal/kvstore"
	"github.com/klaseapp/klase/backend/internal/notifications"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations
// for the workspace tables.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&kvstore.Entry{},
		&notifications.Notification{},
		&flags.SavedPost{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
