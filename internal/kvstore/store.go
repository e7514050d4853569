package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingBackend = errors.New("storage backend is required")
	noOpLogger        = zap.NewNop()
)

const (
	opStoreNew = "kvstore.new"
	opGet      = "kvstore.get"
	opSet      = "kvstore.set"
	opRemove   = "kvstore.remove"
	opKeys     = "kvstore.keys"
)

// Backend abstracts the durable byte store underneath the facade. A ttl of
// zero means the entry never expires.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Config describes the dependencies of the persistence facade.
type Config struct {
	Backend Backend
	Logger  *zap.Logger
}

// Store is the key-value persistence facade. Callers never see storage or
// serialization errors: failures are logged and degrade to a miss on reads
// and a dropped write on mutations, so a full or corrupted backing store can
// only ever disable a feature, not crash it.
type Store struct {
	backend Backend
	logger  *zap.Logger
}

// New constructs the facade.
func New(cfg Config) (*Store, error) {
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{backend: cfg.Backend, logger: logger}, nil
}

// Get decodes the value stored under key into out and reports whether a value
// was found. Corrupt JSON and backend failures count as misses.
func (s *Store) Get(ctx context.Context, key string, out any) bool {
	raw, found, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logDegraded(opGet, "backend_read_failed", key, err)
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.logDegraded(opGet, "decode_failed", key, err)
		return false
	}
	return true
}

// Set persists value under key without an expiry.
func (s *Store) Set(ctx context.Context, key string, value any) {
	s.SetWithTTL(ctx, key, value, 0)
}

// SetWithTTL persists value under key, expiring it after ttl when positive.
func (s *Store) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logDegraded(opSet, "encode_failed", key, err)
		return
	}
	if err := s.backend.Set(ctx, key, raw, ttl); err != nil {
		s.logDegraded(opSet, "backend_write_failed", key, err)
	}
}

// Remove deletes the entry under key. Removing an absent key is a no-op.
func (s *Store) Remove(ctx context.Context, key string) {
	if err := s.backend.Remove(ctx, key); err != nil {
		s.logDegraded(opRemove, "backend_delete_failed", key, err)
	}
}

// Keys enumerates the stored keys beneath prefix. Backend failures yield an
// empty listing.
func (s *Store) Keys(ctx context.Context, prefix string) []string {
	keys, err := s.backend.Keys(ctx, prefix)
	if err != nil {
		s.logDegraded(opKeys, "backend_scan_failed", prefix, err)
		return nil
	}
	return keys
}

func (s *Store) logDegraded(operation, reason, key string, err error) {
	s.logger.Warn("kv store degraded",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("key", key),
		zap.Error(err))
}
