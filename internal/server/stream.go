package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	streamEventNotification = "notification"
	streamEventHeartbeat    = "heartbeat"
	streamHeartbeatInterval = 25 * time.Second
)

type streamEventPayload struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// handleNotificationsStream serves the push channel as server-sent events.
// The subscription lives exactly as long as the request: client disconnect
// cancels the request context, which tears the subscriber down.
func (h *httpHandler) handleNotificationsStream(c *gin.Context) {
	scope := requestScope(c)
	ctx := c.Request.Context()

	stream, cancel := h.dispatcher.Subscribe(ctx, scope.Tenant, scope.UserID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(streamEventNotification, streamEventPayload{
				ID:        event.NotificationID,
				Type:      string(event.Type),
				Title:     event.Title,
				CreatedAt: event.CreatedAt,
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, time.Now().UTC().Unix())
			return true
		}
	})
}
