package flags

import (
	"context"
	"errors"
	"sync"

	"github.com/klaseapp/klase/backend/internal/kvstore"
	"go.uber.org/zap"
)

const savedNamespace = "saved_marks"

// maxPendingSyncOps bounds the retry queue for failed remote calls. Overflow
// drops the oldest operation; the local set stays authoritative either way.
const maxPendingSyncOps = 64

var errMissingSyncer = errors.New("remote syncer is required")

// RemoteSyncer mirrors saved marks to the remote deliveries table.
type RemoteSyncer interface {
	Upsert(ctx context.Context, scope kvstore.Scope, id string) error
	Delete(ctx context.Context, scope kvstore.Scope, id string) error
}

type pendingSyncOp struct {
	scope  kvstore.Scope
	id     string
	delete bool
}

// SavedStore is the flag store for bookmarked posts. The local set is the
// source of truth for the session: a mutation lands locally first, then a
// best-effort remote mirror call is issued. A remote failure is logged and
// queued for one retry on the next mutation; local state is never rolled
// back.
type SavedStore struct {
	set    *SetStore
	remote RemoteSyncer
	logger *zap.Logger

	mu      sync.Mutex
	pending []pendingSyncOp
}

// SavedStoreConfig describes the dependencies of the saved-marks store.
type SavedStoreConfig struct {
	KV     *kvstore.Store
	Remote RemoteSyncer
	Logger *zap.Logger
}

// NewSavedStore constructs the saved-marks store.
func NewSavedStore(cfg SavedStoreConfig) (*SavedStore, error) {
	if cfg.Remote == nil {
		return nil, errMissingSyncer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	set, err := NewSetStore(SetStoreConfig{KV: cfg.KV, Namespace: savedNamespace, Logger: logger})
	if err != nil {
		return nil, err
	}
	return &SavedStore{set: set, remote: cfg.Remote, logger: logger}, nil
}

// Save marks the post locally and mirrors the mark remotely best-effort.
func (s *SavedStore) Save(ctx context.Context, scope kvstore.Scope, id string) {
	if id == "" {
		return
	}
	s.set.Mark(ctx, scope, id)
	s.sync(ctx, pendingSyncOp{scope: scope, id: id})
}

// Unsave removes the mark locally and mirrors the removal remotely
// best-effort.
func (s *SavedStore) Unsave(ctx context.Context, scope kvstore.Scope, id string) {
	if id == "" {
		return
	}
	s.set.Unmark(ctx, scope, id)
	s.sync(ctx, pendingSyncOp{scope: scope, id: id, delete: true})
}

// IsSaved reports whether the post is bookmarked in this session.
func (s *SavedStore) IsSaved(ctx context.Context, scope kvstore.Scope, id string) bool {
	return s.set.IsMarked(ctx, scope, id)
}

// All returns the scope's bookmarked post ids in sorted order.
func (s *SavedStore) All(ctx context.Context, scope kvstore.Scope) []string {
	return s.set.All(ctx, scope)
}

// Count returns the number of bookmarked posts, derived from the set.
func (s *SavedStore) Count(ctx context.Context, scope kvstore.Scope) int {
	return s.set.Count(ctx, scope)
}

// PendingSyncOps reports the depth of the remote retry queue.
func (s *SavedStore) PendingSyncOps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// sync drains previously failed operations, then issues the current one.
// Failures never propagate to the caller.
func (s *SavedStore) sync(ctx context.Context, op pendingSyncOp) {
	s.mu.Lock()
	retries := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, retry := range retries {
		if err := s.apply(ctx, retry); err != nil {
			s.logger.Warn("saved mark remote retry failed, dropping",
				zap.String("post_id", retry.id),
				zap.Bool("delete", retry.delete),
				zap.Error(err))
		}
	}

	if err := s.apply(ctx, op); err != nil {
		s.logger.Warn("saved mark remote sync failed, local state kept",
			zap.String("post_id", op.id),
			zap.Bool("delete", op.delete),
			zap.Error(err))
		s.enqueue(op)
	}
}

func (s *SavedStore) apply(ctx context.Context, op pendingSyncOp) error {
	if op.delete {
		return s.remote.Delete(ctx, op.scope, op.id)
	}
	return s.remote.Upsert(ctx, op.scope, op.id)
}

func (s *SavedStore) enqueue(op pendingSyncOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= maxPendingSyncOps {
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, op)
}
