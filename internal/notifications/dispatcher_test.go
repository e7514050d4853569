package notifications

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewDispatcher(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "escola-azul", "user-1")
	defer cleanup()

	dispatcher.Publish(Event{
		Tenant:         "escola-azul",
		UserID:         "user-1",
		NotificationID: "n-1",
		Type:           TypeNewPost,
		Title:          "Novo aviso",
		CreatedAt:      time.Now().UTC(),
	})

	select {
	case received := <-stream:
		if received.Type != TypeNewPost {
			t.Fatalf("expected event type %s, got %s", TypeNewPost, received.Type)
		}
		if received.NotificationID != "n-1" {
			t.Fatalf("unexpected notification id %s", received.NotificationID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected push event within deadline")
	}
}

func TestDispatcherIsolatesUsersAndTenants(t *testing.T) {
	dispatcher := NewDispatcher(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sameTenant, cleanupSame := dispatcher.Subscribe(ctx, "escola-azul", "user-2")
	defer cleanupSame()
	otherTenant, cleanupOther := dispatcher.Subscribe(ctx, "escola-verde", "user-1")
	defer cleanupOther()
	target, cleanupTarget := dispatcher.Subscribe(ctx, "escola-azul", "user-1")
	defer cleanupTarget()

	dispatcher.Publish(Event{Tenant: "escola-azul", UserID: "user-1", Type: TypeNewPost})

	select {
	case <-sameTenant:
		t.Fatal("event must not reach another user in the same tenant")
	case <-otherTenant:
		t.Fatal("event must not reach the same user id in another tenant")
	case received := <-target:
		if received.UserID != "user-1" {
			t.Fatalf("unexpected recipient %s", received.UserID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected push event for the target user")
	}
}

func TestDispatcherSubscriptionTornDownByContext(t *testing.T) {
	dispatcher := NewDispatcher(1)
	ctx, cancel := context.WithCancel(context.Background())

	stream, _ := dispatcher.Subscribe(ctx, "escola-azul", "user-1")
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dispatcher.mu.RLock()
		remaining := len(dispatcher.subscribers)
		dispatcher.mu.RUnlock()
		if remaining == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	dispatcher.Publish(Event{Tenant: "escola-azul", UserID: "user-1", Type: TypeNewPost})
	select {
	case _, ok := <-stream:
		if ok {
			t.Fatal("cancelled subscription must not receive events")
		}
	default:
	}
}

func TestDispatcherDropsWhenBufferFull(t *testing.T) {
	dispatcher := NewDispatcher(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "escola-azul", "user-1")
	defer cleanup()

	dispatcher.Publish(Event{Tenant: "escola-azul", UserID: "user-1", NotificationID: "n-1", Type: TypeNewPost})
	dispatcher.Publish(Event{Tenant: "escola-azul", UserID: "user-1", NotificationID: "n-2", Type: TypeNewPost})

	received := <-stream
	if received.NotificationID != "n-1" {
		t.Fatalf("expected the first event to survive, got %s", received.NotificationID)
	}
	select {
	case extra := <-stream:
		t.Fatalf("overflow event must be dropped, got %s", extra.NotificationID)
	default:
	}
}
