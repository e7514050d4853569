package preferences

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/klaseapp/klase/backend/internal/drafts"
	"github.com/klaseapp/klase/backend/internal/kvstore"
	"go.uber.org/zap"
)

const (
	preferencesNamespace = "composer_prefs"
	templatesNamespace   = "composer_tpl"
)

var (
	errMissingKV         = errors.New("key-value store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ComposerPreferences remembers the last choices made in the composer, one
// record per scope. Saved as a full overwrite on submit, never expired.
type ComposerPreferences struct {
	LastPostType string            `json:"last_post_type"`
	LastClassID  string            `json:"last_class_id"`
	LastFilter   map[string]string `json:"last_filter,omitempty"`
}

// Template is a named, reusable preset of composer field values.
type Template struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Fields     drafts.ComposerFields `json:"fields"`
	CreatedAt  time.Time             `json:"created_at"`
	UsageCount int                   `json:"usage_count"`
}

// TemplatePatch carries the fields of a merge-patch update; nil members are
// left untouched. The id is immutable.
type TemplatePatch struct {
	Name   *string
	Fields *drafts.ComposerFields
}

// IDProvider issues identifiers for new templates.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig describes the dependencies of the preferences store.
type StoreConfig struct {
	KV         *kvstore.Store
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store persists composer preferences and templates through the key-value
// facade. Template mutations are read-modify-write cycles over the scope's
// template list, serialized by an internal mutex so concurrent requests
// cannot lose writes.
type Store struct {
	kv         *kvstore.Store
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger

	mu sync.Mutex
}

// NewStore constructs the preferences store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.KV == nil {
		return nil, errMissingKV
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{kv: cfg.KV, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// GetComposerPreferences returns the scope's saved choices, zero-valued when
// none have been recorded.
func (s *Store) GetComposerPreferences(ctx context.Context, scope kvstore.Scope) ComposerPreferences {
	var prefs ComposerPreferences
	s.kv.Get(ctx, scope.Key(preferencesNamespace, ""), &prefs)
	return prefs
}

// SaveComposerPreferences overwrites the scope's saved choices.
func (s *Store) SaveComposerPreferences(ctx context.Context, scope kvstore.Scope, prefs ComposerPreferences) {
	s.kv.Set(ctx, scope.Key(preferencesNamespace, ""), prefs)
}

// ListTemplates returns the scope's templates in creation order.
func (s *Store) ListTemplates(ctx context.Context, scope kvstore.Scope) []Template {
	var templates []Template
	s.kv.Get(ctx, scope.Key(templatesNamespace, ""), &templates)
	return templates
}

// SaveTemplate appends a new template with a generated immutable id, a
// creation timestamp, and a zero usage count. The second return is false when
// id generation fails, in which case nothing is written.
func (s *Store) SaveTemplate(ctx context.Context, scope kvstore.Scope, name string, fields drafts.ComposerFields) (Template, bool) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logger.Error("template id generation failed",
			zap.String("tenant", scope.Tenant),
			zap.Error(err))
		return Template{}, false
	}
	template := Template{
		ID:        id,
		Name:      name,
		Fields:    fields,
		CreatedAt: s.clock().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	templates := s.ListTemplates(ctx, scope)
	templates = append(templates, template)
	s.kv.Set(ctx, scope.Key(templatesNamespace, ""), templates)
	return template, true
}

// UpdateTemplate applies a merge patch to the template with the given id,
// reporting false without writing when the id is unknown.
func (s *Store) UpdateTemplate(ctx context.Context, scope kvstore.Scope, id string, patch TemplatePatch) bool {
	return s.mutateTemplate(ctx, scope, id, func(template *Template) {
		if patch.Name != nil {
			template.Name = *patch.Name
		}
		if patch.Fields != nil {
			template.Fields = *patch.Fields
		}
	})
}

// IncrementTemplateUsage bumps the usage counter of the template with the
// given id.
func (s *Store) IncrementTemplateUsage(ctx context.Context, scope kvstore.Scope, id string) bool {
	return s.mutateTemplate(ctx, scope, id, func(template *Template) {
		template.UsageCount++
	})
}

// DeleteTemplate removes the template with the given id, reporting whether a
// template was removed.
func (s *Store) DeleteTemplate(ctx context.Context, scope kvstore.Scope, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	templates := s.ListTemplates(ctx, scope)
	remaining := make([]Template, 0, len(templates))
	removed := false
	for _, template := range templates {
		if template.ID == id {
			removed = true
			continue
		}
		remaining = append(remaining, template)
	}
	if removed {
		s.kv.Set(ctx, scope.Key(templatesNamespace, ""), remaining)
	}
	return removed
}

func (s *Store) mutateTemplate(ctx context.Context, scope kvstore.Scope, id string, mutate func(*Template)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	templates := s.ListTemplates(ctx, scope)
	for index := range templates {
		if templates[index].ID != id {
			continue
		}
		mutate(&templates[index])
		s.kv.Set(ctx, scope.Key(templatesNamespace, ""), templates)
		return true
	}
	return false
}
