package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventTranscriptEntry = "transcript.entry"
	EventTurnStatus      = "turn.status"
	EventFeedbackPrompt  = "feedback.prompt"
)

// TranscriptEntryEvent is broadcast when a transcript entry is appended.
type TranscriptEntryEvent struct {
	SessionID string `json:"session_id"`
	EntryID   string `json:"entry_id"`
	Role      string `json:"role"`
	Text      string `json:"text"`
}

// TurnStatusEvent is broadcast when a turn starts or settles.
type TurnStatusEvent struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"` // "pending", a run status, or "failed"
}

// FeedbackPromptEvent is broadcast when a rating capture opens or closes.
type FeedbackPromptEvent struct {
	SessionID string `json:"session_id"`
	Open      bool   `json:"open"`
}

// BroadcastEvent marshals a typed event payload and broadcasts it.
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
