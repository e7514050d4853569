package preferences

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/klaseapp/klase/backend/internal/drafts"
	"github.com/klaseapp/klase/backend/internal/kvstore"
)

type memoryBackend struct {
	entries map[string][]byte
}

func (b *memoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, ok := b.entries[key]
	return raw, ok, nil
}

func (b *memoryBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	b.entries[key] = value
	return nil
}

func (b *memoryBackend) Remove(_ context.Context, key string) error {
	delete(b.entries, key)
	return nil
}

func (b *memoryBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for key := range b.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("tpl-%d", p.next), nil
}

type failingIDProvider struct{}

func (failingIDProvider) NewID() (string, error) {
	return "", fmt.Errorf("entropy exhausted")
}

func newTestStore(t *testing.T, provider IDProvider) *Store {
	t.Helper()
	kv, err := kvstore.New(kvstore.Config{Backend: &memoryBackend{entries: map[string][]byte{}}})
	if err != nil {
		t.Fatalf("unexpected facade error: %v", err)
	}
	if provider == nil {
		provider = &sequenceIDProvider{}
	}
	store, err := NewStore(StoreConfig{KV: kv, IDProvider: provider})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

func testScope(t *testing.T) kvstore.Scope {
	t.Helper()
	scope, err := kvstore.NewScope("escola-azul", "secretaria", "user-2")
	if err != nil {
		t.Fatalf("unexpected scope error: %v", err)
	}
	return scope
}

func TestComposerPreferencesOverwrite(t *testing.T) {
	store := newTestStore(t, nil)
	scope := testScope(t)
	ctx := context.Background()

	if prefs := store.GetComposerPreferences(ctx, scope); prefs.LastPostType != "" {
		t.Fatalf("expected zero-valued preferences, got %#v", prefs)
	}

	store.SaveComposerPreferences(ctx, scope, ComposerPreferences{
		LastPostType: "announcement",
		LastClassID:  "class-1a",
		LastFilter:   map[string]string{"period": "week"},
	})
	store.SaveComposerPreferences(ctx, scope, ComposerPreferences{
		LastPostType: "event",
		LastClassID:  "class-2c",
	})

	prefs := store.GetComposerPreferences(ctx, scope)
	if prefs.LastPostType != "event" || prefs.LastClassID != "class-2c" {
		t.Fatalf("save must fully overwrite, got %#v", prefs)
	}
	if prefs.LastFilter != nil {
		t.Fatalf("overwrite must not merge old filter settings, got %#v", prefs.LastFilter)
	}
}

func TestSaveTemplateAssignsDistinctIDs(t *testing.T) {
	store := newTestStore(t, nil)
	scope := testScope(t)
	ctx := context.Background()

	const count = 5
	for i := 0; i < count; i++ {
		_, ok := store.SaveTemplate(ctx, scope, fmt.Sprintf("modelo %d", i), drafts.ComposerFields{Title: "t"})
		if !ok {
			t.Fatalf("unexpected save failure at %d", i)
		}
	}

	templates := store.ListTemplates(ctx, scope)
	if len(templates) != count {
		t.Fatalf("expected %d templates, got %d", count, len(templates))
	}
	seen := map[string]bool{}
	for _, template := range templates {
		if seen[template.ID] {
			t.Fatalf("duplicate template id %s", template.ID)
		}
		seen[template.ID] = true
		if template.UsageCount != 0 {
			t.Fatalf("new template must start at zero usage, got %d", template.UsageCount)
		}
		if template.CreatedAt.IsZero() {
			t.Fatal("expected CreatedAt to be stamped")
		}
	}
}

func TestSaveTemplateIDFailureWritesNothing(t *testing.T) {
	store := newTestStore(t, failingIDProvider{})
	scope := testScope(t)
	ctx := context.Background()

	if _, ok := store.SaveTemplate(ctx, scope, "modelo", drafts.ComposerFields{Title: "t"}); ok {
		t.Fatal("expected save to report failure")
	}
	if templates := store.ListTemplates(ctx, scope); len(templates) != 0 {
		t.Fatalf("failed save must not persist, got %d templates", len(templates))
	}
}

func TestUpdateTemplateMergePatch(t *testing.T) {
	store := newTestStore(t, nil)
	scope := testScope(t)
	ctx := context.Background()

	created, _ := store.SaveTemplate(ctx, scope, "original", drafts.ComposerFields{Title: "velho"})

	newName := "renomeado"
	if !store.UpdateTemplate(ctx, scope, created.ID, TemplatePatch{Name: &newName}) {
		t.Fatal("expected update to succeed")
	}

	templates := store.ListTemplates(ctx, scope)
	if templates[0].Name != "renomeado" {
		t.Fatalf("expected patched name, got %q", templates[0].Name)
	}
	if templates[0].Fields.Title != "velho" {
		t.Fatal("unpatched fields must be untouched")
	}
	if templates[0].ID != created.ID {
		t.Fatal("template id must be immutable")
	}

	if store.UpdateTemplate(ctx, scope, "missing-id", TemplatePatch{Name: &newName}) {
		t.Fatal("unknown id must be a failing no-op")
	}
}

func TestIncrementTemplateUsage(t *testing.T) {
	store := newTestStore(t, nil)
	scope := testScope(t)
	ctx := context.Background()

	created, _ := store.SaveTemplate(ctx, scope, "modelo", drafts.ComposerFields{Title: "t"})
	for i := 0; i < 3; i++ {
		if !store.IncrementTemplateUsage(ctx, scope, created.ID) {
			t.Fatalf("unexpected increment failure at %d", i)
		}
	}

	if got := store.ListTemplates(ctx, scope)[0].UsageCount; got != 3 {
		t.Fatalf("expected usage count 3, got %d", got)
	}
	if store.IncrementTemplateUsage(ctx, scope, "missing-id") {
		t.Fatal("unknown id must be a failing no-op")
	}
}

func TestDeleteTemplate(t *testing.T) {
	store := newTestStore(t, nil)
	scope := testScope(t)
	ctx := context.Background()

	first, _ := store.SaveTemplate(ctx, scope, "primeiro", drafts.ComposerFields{Title: "1"})
	second, _ := store.SaveTemplate(ctx, scope, "segundo", drafts.ComposerFields{Title: "2"})

	if !store.DeleteTemplate(ctx, scope, first.ID) {
		t.Fatal("expected delete to succeed")
	}
	templates := store.ListTemplates(ctx, scope)
	if len(templates) != 1 || templates[0].ID != second.ID {
		t.Fatalf("unexpected templates after delete: %#v", templates)
	}
	if store.DeleteTemplate(ctx, scope, first.ID) {
		t.Fatal("deleting an absent id must report false")
	}
}
