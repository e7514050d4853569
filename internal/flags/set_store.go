package flags

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/klaseapp/klase/backend/internal/kvstore"
	"go.uber.org/zap"
)

var (
	errMissingKV        = errors.New("key-value store is required")
	errMissingNamespace = errors.New("flag namespace is required")
	noOpLogger          = zap.NewNop()
)

// SetStore is a set-membership cache (read marks, saved marks) mirrored to
// durable storage as a JSON array on every mutation. Instances are
// constructed explicitly and injected, never held as package state, so tests
// and tenants get isolated sets.
//
// Counts are always derived from the set itself; there is no separate
// counter to drift out of sync.
type SetStore struct {
	kv        *kvstore.Store
	namespace string
	logger    *zap.Logger

	mu   sync.Mutex
	sets map[string]map[string]struct{}
}

// SetStoreConfig describes the dependencies of a flag set store.
type SetStoreConfig struct {
	KV        *kvstore.Store
	Namespace string
	Logger    *zap.Logger
}

// NewSetStore constructs a flag store over the given namespace.
func NewSetStore(cfg SetStoreConfig) (*SetStore, error) {
	if cfg.KV == nil {
		return nil, errMissingKV
	}
	if cfg.Namespace == "" {
		return nil, errMissingNamespace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &SetStore{
		kv:        cfg.KV,
		namespace: cfg.Namespace,
		logger:    logger,
		sets:      make(map[string]map[string]struct{}),
	}, nil
}

// Mark adds id to the scope's set. Marking an already marked id changes
// nothing and skips the storage mirror.
func (s *SetStore) Mark(ctx context.Context, scope kvstore.Scope, id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.loadLocked(ctx, scope)
	if _, marked := set[id]; marked {
		return
	}
	set[id] = struct{}{}
	s.mirrorLocked(ctx, scope, set)
}

// Unmark removes id from the scope's set. Unmarking an absent id is a no-op.
func (s *SetStore) Unmark(ctx context.Context, scope kvstore.Scope, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.loadLocked(ctx, scope)
	if _, marked := set[id]; !marked {
		return
	}
	delete(set, id)
	s.mirrorLocked(ctx, scope, set)
}

// IsMarked reports membership of id in the scope's set.
func (s *SetStore) IsMarked(ctx context.Context, scope kvstore.Scope, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, marked := s.loadLocked(ctx, scope)[id]
	return marked
}

// All returns the scope's marked ids in sorted order.
func (s *SetStore) All(ctx context.Context, scope kvstore.Scope) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.loadLocked(ctx, scope)
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the size of the scope's set.
func (s *SetStore) Count(ctx context.Context, scope kvstore.Scope) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loadLocked(ctx, scope))
}

// loadLocked returns the in-memory set for the scope, hydrating it from
// storage on first touch. Callers must hold mu.
func (s *SetStore) loadLocked(ctx context.Context, scope kvstore.Scope) map[string]struct{} {
	key := scope.Key(s.namespace, "")
	if set, ok := s.sets[key]; ok {
		return set
	}
	var ids []string
	s.kv.Get(ctx, key, &ids)
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	s.sets[key] = set
	return set
}

func (s *SetStore) mirrorLocked(ctx context.Context, scope kvstore.Scope, set map[string]struct{}) {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	s.kv.Set(ctx, scope.Key(s.namespace, ""), ids)
}
