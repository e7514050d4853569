package notifications

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/klaseapp/klase/backend/internal/kvstore"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("n-%d", p.next), nil
}

func newTestService(t *testing.T, dispatcher *Dispatcher) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&Notification{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Dispatcher: dispatcher,
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return service
}

func serviceScope(t *testing.T) kvstore.Scope {
	t.Helper()
	scope, err := kvstore.NewScope("escola-azul", "teacher", "user-1")
	if err != nil {
		t.Fatalf("unexpected scope error: %v", err)
	}
	return scope
}

func TestServiceCreatePublishesPushEvent(t *testing.T) {
	dispatcher := NewDispatcher(0)
	service := newTestService(t, dispatcher)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "escola-azul", "user-1")
	defer cleanup()

	created, err := service.Create(ctx, CreateInput{
		Tenant: "escola-azul",
		UserID: "user-1",
		Type:   TypeActivityAssigned,
		Title:  "Nova atividade",
		Body:   "Entrega até sexta.",
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	select {
	case event := <-stream:
		if event.NotificationID != created.NotificationID {
			t.Fatalf("push event must reference the created row, got %s", event.NotificationID)
		}
		if event.Type != TypeActivityAssigned {
			t.Fatalf("unexpected event type %s", event.Type)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected a push event for the created notification")
	}
}

func TestServiceListRecentNewestFirst(t *testing.T) {
	service := newTestService(t, nil)
	scope := serviceScope(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		instant := base.Add(time.Duration(i) * time.Minute)
		service.clock = func() time.Time { return instant }
		if _, err := service.Create(ctx, CreateInput{
			Tenant: scope.Tenant,
			UserID: scope.UserID,
			Type:   TypeNewPost,
			Title:  fmt.Sprintf("aviso %d", i),
		}); err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
	}

	rows, err := service.ListRecent(ctx, scope, 2)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected limit to apply, got %d rows", len(rows))
	}
	if rows[0].Title != "aviso 2" || rows[1].Title != "aviso 1" {
		t.Fatalf("expected newest first, got %q then %q", rows[0].Title, rows[1].Title)
	}
}

func TestServiceUnreadCountAndMarkRead(t *testing.T) {
	service := newTestService(t, nil)
	scope := serviceScope(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		row, err := service.Create(ctx, CreateInput{
			Tenant: scope.Tenant,
			UserID: scope.UserID,
			Type:   TypeNewPost,
			Title:  "aviso",
		})
		if err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
		ids = append(ids, row.NotificationID)
	}

	count, err := service.UnreadCount(ctx, scope)
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 unread, got %d", count)
	}

	if err := service.MarkRead(ctx, scope, ids[:2]); err != nil {
		t.Fatalf("unexpected mark error: %v", err)
	}
	count, _ = service.UnreadCount(ctx, scope)
	if count != 1 {
		t.Fatalf("expected 1 unread after marking, got %d", count)
	}
}

func TestServiceMarkReadIsScopeBound(t *testing.T) {
	service := newTestService(t, nil)
	scope := serviceScope(t)
	ctx := context.Background()

	row, err := service.Create(ctx, CreateInput{
		Tenant: "escola-verde",
		UserID: scope.UserID,
		Type:   TypeNewPost,
		Title:  "aviso de outra escola",
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if err := service.MarkRead(ctx, scope, []string{row.NotificationID}); err != nil {
		t.Fatalf("unexpected mark error: %v", err)
	}

	otherScope, err := kvstore.NewScope("escola-verde", "teacher", scope.UserID)
	if err != nil {
		t.Fatalf("unexpected scope error: %v", err)
	}
	count, err := service.UnreadCount(ctx, otherScope)
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 1 {
		t.Fatal("a mark from another tenant's scope must not apply")
	}
}
