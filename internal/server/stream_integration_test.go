package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/klaseapp/klase/backend/internal/notifications"
)

func TestNotificationStreamEmitsCreatedEvents(t *testing.T) {
	server := newTestServer(t)
	token := signSessionToken(t, "user-1", "escola-azul", "teacher")

	streamRequest, err := http.NewRequest(http.MethodGet, server.url+"/notifications/stream", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamRequest.Header.Set("Authorization", "Bearer "+token)
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if contentType := streamResp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected content type: %s", contentType)
	}

	created, err := server.service.Create(t.Context(), notifications.CreateInput{
		Tenant: "escola-azul",
		UserID: "user-1",
		Type:   notifications.TypeActivityAssigned,
		Title:  "Math worksheet assigned",
	})
	if err != nil {
		t.Fatalf("failed to create notification: %v", err)
	}

	streamReader := bufio.NewReader(streamResp.Body)
	currentEventType := ""
	deadline := time.After(5 * time.Second)
	type readResult struct {
		line string
		err  error
	}
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for stream event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			if currentEventType != streamEventNotification {
				continue
			}
			dataJSON := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var payload streamEventPayload
			if err := json.Unmarshal([]byte(dataJSON), &payload); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if payload.ID != created.NotificationID {
				t.Fatalf("unexpected notification id: %s", payload.ID)
			}
			if payload.Type != string(notifications.TypeActivityAssigned) {
				t.Fatalf("unexpected notification type: %s", payload.Type)
			}
			return
		}
	}
}

func TestNotificationStreamIsScopedToTheUser(t *testing.T) {
	server := newTestServer(t)
	token := signSessionToken(t, "user-1", "escola-azul", "teacher")

	streamRequest, err := http.NewRequest(http.MethodGet, server.url+"/notifications/stream", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamRequest.Header.Set("Authorization", "Bearer "+token)
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})

	// An event for a different user followed by one for the subscriber; only
	// the second may surface.
	if _, err := server.service.Create(t.Context(), notifications.CreateInput{
		Tenant: "escola-azul",
		UserID: "user-2",
		Type:   notifications.TypeNewPost,
		Title:  "Not for user-1",
	}); err != nil {
		t.Fatalf("failed to create notification: %v", err)
	}
	mine, err := server.service.Create(t.Context(), notifications.CreateInput{
		Tenant: "escola-azul",
		UserID: "user-1",
		Type:   notifications.TypeNewPost,
		Title:  "For user-1",
	})
	if err != nil {
		t.Fatalf("failed to create notification: %v", err)
	}

	streamReader := bufio.NewReader(streamResp.Body)
	deadline := time.After(5 * time.Second)
	type readResult struct {
		line string
		err  error
	}
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for stream event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			dataJSON := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var payload streamEventPayload
			if err := json.Unmarshal([]byte(dataJSON), &payload); err != nil {
				continue
			}
			if payload.ID == "" {
				continue
			}
			if payload.ID != mine.NotificationID {
				t.Fatalf("received another user's event: %#v", payload)
			}
			return
		}
	}
}
