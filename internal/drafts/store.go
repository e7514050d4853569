package drafts

import (
	"context"
	"errors"
	"time"

	"github.com/klaseapp/klase/backend/internal/kvstore"
	"go.uber.org/zap"
)

const (
	draftNamespace = "draft"

	// DefaultRetention bounds how long an abandoned draft is kept around.
	DefaultRetention = 24 * time.Hour
)

var (
	errMissingKV = errors.New("key-value store is required")
	noOpLogger   = zap.NewNop()
)

// StoreConfig describes the dependencies of the draft store.
type StoreConfig struct {
	KV        *kvstore.Store
	Clock     func() time.Time
	Retention time.Duration
	Logger    *zap.Logger
}

// Store persists composer drafts through the key-value facade, one record per
// (scope, composer session). Like the facade underneath it, the store never
// surfaces storage failures: a broken backend degrades autosave to a no-op.
type Store struct {
	kv        *kvstore.Store
	clock     func() time.Time
	retention time.Duration
	logger    *zap.Logger
}

// NewStore constructs the draft store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.KV == nil {
		return nil, errMissingKV
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{kv: cfg.KV, clock: clock, retention: retention, logger: logger}, nil
}

// Load returns the persisted draft for the composer session, or nil when none
// survives.
func (s *Store) Load(ctx context.Context, scope kvstore.Scope, sessionID string) *DraftRecord {
	var record DraftRecord
	if !s.kv.Get(ctx, scope.Key(draftNamespace, sessionID), &record) {
		return nil
	}
	return &record
}

// Save overwrites the draft for the composer session, stamping SavedAt.
// Content-free payloads are rejected so recovery never restores an empty
// form; the return reports whether a write happened.
func (s *Store) Save(ctx context.Context, scope kvstore.Scope, sessionID string, fields ComposerFields) bool {
	if !fields.HasContent() {
		return false
	}
	record := DraftRecord{Fields: fields, SavedAt: s.clock().UTC()}
	s.kv.SetWithTTL(ctx, scope.Key(draftNamespace, sessionID), record, s.retention)
	return true
}

// Discard removes the draft for the composer session, typically after a
// successful submit.
func (s *Store) Discard(ctx context.Context, scope kvstore.Scope, sessionID string) {
	s.kv.Remove(ctx, scope.Key(draftNamespace, sessionID))
}

// HasUnsavedChanges compares the in-memory form state against the persisted
// record. With no record on disk, any meaningful content counts as unsaved.
func (s *Store) HasUnsavedChanges(ctx context.Context, scope kvstore.Scope, sessionID string, fields ComposerFields) bool {
	record := s.Load(ctx, scope, sessionID)
	if record == nil {
		return fields.HasContent()
	}
	return !record.Fields.Equal(fields)
}

// CleanupOld scans the scope's draft namespace and deletes records whose
// SavedAt falls outside the retention window, along with records that can no
// longer be decoded. Returns the number of keys removed.
func (s *Store) CleanupOld(ctx context.Context, scope kvstore.Scope) int {
	cutoff := s.clock().UTC().Add(-s.retention)
	removed := 0
	for _, key := range s.kv.Keys(ctx, scope.Prefix(draftNamespace)) {
		var record DraftRecord
		if !s.kv.Get(ctx, key, &record) {
			s.kv.Remove(ctx, key)
			removed++
			continue
		}
		if record.SavedAt.Before(cutoff) {
			s.kv.Remove(ctx, key)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("stale drafts removed",
			zap.String("tenant", scope.Tenant),
			zap.String("role", scope.Role),
			zap.Int("removed", removed))
	}
	return removed
}
