package flags

import (
	"context"
	"sync"
	"time"

	"github.com/klaseapp/klase/backend/internal/kvstore"
)

const lastSeenNamespace = "last_seen"

// LastSeenStore remembers, per scope, when each feed was last viewed.
// Persisted as a feed-keyed map of RFC 3339 instants.
type LastSeenStore struct {
	kv    *kvstore.Store
	clock func() time.Time

	mu sync.Mutex
}

// NewLastSeenStore constructs the store. A nil clock defaults to time.Now.
func NewLastSeenStore(kv *kvstore.Store, clock func() time.Time) (*LastSeenStore, error) {
	if kv == nil {
		return nil, errMissingKV
	}
	if clock == nil {
		clock = time.Now
	}
	return &LastSeenStore{kv: kv, clock: clock}, nil
}

// Touch records now as the last-seen instant for the feed.
func (s *LastSeenStore) Touch(ctx context.Context, scope kvstore.Scope, feed string) {
	if feed == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := s.load(ctx, scope)
	seen[feed] = s.clock().UTC()
	s.kv.Set(ctx, scope.Key(lastSeenNamespace, ""), seen)
}

// LastSeen returns the recorded instant for the feed, reporting false when
// the feed has never been viewed.
func (s *LastSeenStore) LastSeen(ctx context.Context, scope kvstore.Scope, feed string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	instant, ok := s.load(ctx, scope)[feed]
	return instant, ok
}

func (s *LastSeenStore) load(ctx context.Context, scope kvstore.Scope) map[string]time.Time {
	seen := map[string]time.Time{}
	s.kv.Get(ctx, scope.Key(lastSeenNamespace, ""), &seen)
	return seen
}
