package flags

import (
	"context"
	"errors"
	"time"

	"github.com/klaseapp/klase/backend/internal/kvstore"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SavedPost is the remote mirror row for a bookmarked post.
type SavedPost struct {
	Tenant           string `gorm:"column:tenant;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	PostID           string `gorm:"column:post_id;primaryKey;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SavedPost) TableName() string {
	return "saved_posts"
}

// DatabaseSyncer mirrors saved marks into the saved_posts table.
type DatabaseSyncer struct {
	db    *gorm.DB
	clock func() time.Time
}

// DatabaseSyncerConfig describes the dependencies of the database syncer.
type DatabaseSyncerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// NewDatabaseSyncer constructs a syncer over the provided database handle.
func NewDatabaseSyncer(cfg DatabaseSyncerConfig) (*DatabaseSyncer, error) {
	if cfg.Database == nil {
		return nil, errors.New("flags: database handle is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &DatabaseSyncer{db: cfg.Database, clock: clock}, nil
}

// Upsert records the bookmark, tolerating repeats.
func (s *DatabaseSyncer) Upsert(ctx context.Context, scope kvstore.Scope, id string) error {
	row := SavedPost{
		Tenant:           scope.Tenant,
		UserID:           scope.UserID,
		PostID:           id,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

// Delete removes the bookmark row. Deleting an absent row is not an error.
func (s *DatabaseSyncer) Delete(ctx context.Context, scope kvstore.Scope, id string) error {
	return s.db.WithContext(ctx).
		Where("tenant = ? AND user_id = ? AND post_id = ?", scope.Tenant, scope.UserID, id).
		Delete(&SavedPost{}).Error
}
