// Package conversation defines the thread and message types exchanged
// with the upstream agent API.
package conversation

import "encoding/json"

// Conversation is the client-side handle on an upstream thread. The id is
// opaque and assigned by upstream on first run creation.
type Conversation struct {
	ThreadID string `json:"thread_id"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single message on a thread. Content preserves the raw
// polymorphic upstream shape (string, object, or typed-part array); Text
// is the normalized plain text derived from it exactly once.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Role      Role            `json:"role"`
	CreatedAt int64           `json:"created_at"`
	Content   json.RawMessage `json:"content,omitempty"`
	Text      string          `json:"text"`
}
