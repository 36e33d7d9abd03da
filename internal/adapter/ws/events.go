package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Event type constants for WebSocket messages.
const (
	EventTaskQueued     = "task.queued"
	EventTaskCompleted  = "task.completed"
	EventTaskDiscarded  = "task.discarded"
	EventWindowStarted  = "window.started"
	EventWindowFinished = "window.finished"
)

// TaskEvent is broadcast when a cell task is queued, completed, or discarded.
type TaskEvent struct {
	Row       int       `json:"row"`
	Column    int       `json:"column"`
	Timestamp time.Time `json:"timestamp"`
}

// WindowEvent is broadcast when a drain window starts or finishes.
type WindowEvent struct {
	WindowID  string    `json:"window_id"`
	Processed int       `json:"processed,omitempty"`
	Rearmed   bool      `json:"rearmed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
