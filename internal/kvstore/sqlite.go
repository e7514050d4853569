package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is the GORM model backing the SQLite key-value backend. A zero
// ExpiresAtSeconds means the entry never expires.
type Entry struct {
	Key              string `gorm:"column:key;primaryKey;size:512;not null"`
	Value            string `gorm:"column:value;type:text;not null"`
	ExpiresAtSeconds int64  `gorm:"column:expires_at_s;not null;default:0;index"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "kv_entries"
}

// SQLiteBackend stores facade entries in a kv_entries table. Expired rows are
// treated as misses on read and reclaimed lazily or by Sweep.
type SQLiteBackend struct {
	db    *gorm.DB
	clock func() time.Time
}

// SQLiteBackendConfig describes the dependencies of the SQLite backend.
type SQLiteBackendConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// NewSQLiteBackend constructs a backend over the provided database handle.
func NewSQLiteBackend(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("kvstore: database handle is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SQLiteBackend{db: cfg.Database, clock: clock}, nil
}

// Get returns the raw value stored under key, reporting a miss for absent or
// expired entries. An expired row is deleted best-effort on the way out.
func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry Entry
	err := b.db.WithContext(ctx).Where("key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if b.expired(entry) {
		_ = b.db.WithContext(ctx).Where("key = ?", key).Delete(&Entry{}).Error
		return nil, false, nil
	}
	return []byte(entry.Value), true, nil
}

// Set upserts the value under key.
func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := b.clock().UTC()
	entry := Entry{
		Key:              key,
		Value:            string(value),
		UpdatedAtSeconds: now.Unix(),
	}
	if ttl > 0 {
		entry.ExpiresAtSeconds = now.Add(ttl).Unix()
	}
	return b.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			UpdateAll: true,
		}).
		Create(&entry).Error
}

// Remove deletes the entry under key.
func (b *SQLiteBackend) Remove(ctx context.Context, key string) error {
	return b.db.WithContext(ctx).Where("key = ?", key).Delete(&Entry{}).Error
}

// Keys lists live keys beneath prefix.
func (b *SQLiteBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	now := b.clock().UTC().Unix()
	var keys []string
	err := b.db.WithContext(ctx).
		Model(&Entry{}).
		Where("key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Where("expires_at_s = 0 OR expires_at_s > ?", now).
		Order("key ASC").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Sweep deletes every expired row and returns the number reclaimed.
func (b *SQLiteBackend) Sweep(ctx context.Context) (int64, error) {
	now := b.clock().UTC().Unix()
	result := b.db.WithContext(ctx).
		Where("expires_at_s > 0 AND expires_at_s <= ?", now).
		Delete(&Entry{})
	return result.RowsAffected, result.Error
}

func (b *SQLiteBackend) expired(entry Entry) bool {
	return entry.ExpiresAtSeconds > 0 && entry.ExpiresAtSeconds <= b.clock().UTC().Unix()
}

func escapeLike(value string) string {
	escaped := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '%', '_', '\\':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, value[i])
	}
	return string(escaped)
}
