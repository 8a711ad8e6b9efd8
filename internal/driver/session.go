package driver

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sablehq/parley/internal/domain"
	"github.com/sablehq/parley/internal/domain/conversation"
)

// Entry is one rendered transcript line.
type Entry struct {
	ID        string            `json:"id"`
	Role      conversation.Role `json:"role"`
	Text      string            `json:"text"`
	CreatedAt time.Time         `json:"created_at"`
}

// Session holds all mutable state for one widget conversation: the thread
// handle, the turn-serialization flag, the pending-rating flag, and the
// transcript. State is scoped here rather than package-level so many
// conversations can run concurrently in one process.
type Session struct {
	ID string

	mu              sync.Mutex
	conv            conversation.Conversation
	sending         bool
	feedbackPending bool
	transcript      []Entry

	// Identity of the last assistant message rendered on this session,
	// used to tell a fresh reply from a stale one when a later run ends
	// without producing new text.
	lastAssistantID string
	lastAssistantAt int64
}

// NewSession creates an empty session with a fresh id.
func NewSession() *Session {
	return &Session{ID: uuid.NewString()}
}

// ThreadID returns the upstream thread id, or "" before the first turn.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.ThreadID
}

// FeedbackPending reports whether a rating capture is currently open.
func (s *Session) FeedbackPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedbackPending
}

// Transcript returns a copy of the rendered transcript.
func (s *Session) Transcript() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Reset drops the conversation: a new thread is created on the next turn.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv = conversation.Conversation{}
	s.feedbackPending = false
	s.transcript = nil
	s.lastAssistantID = ""
	s.lastAssistantAt = 0
}

// beginTurn acquires the sending flag. At most one turn may be in flight
// per session.
func (s *Session) beginTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sending {
		return domain.ErrTurnInFlight
	}
	s.sending = true
	return nil
}

// endTurn releases the sending flag. It runs on every exit path.
func (s *Session) endTurn() {
	s.mu.Lock()
	s.sending = false
	s.mu.Unlock()
}

func (s *Session) setThreadID(id string) {
	s.mu.Lock()
	s.conv.ThreadID = id
	s.mu.Unlock()
}

// assistantSeen reports whether the message was already rendered on a
// prior turn: same upstream id, or (when ids are absent) a creation
// timestamp no newer than the last rendered reply.
func (s *Session) assistantSeen(id string, createdAt int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && id == s.lastAssistantID {
		return true
	}
	if id == "" && createdAt != 0 && createdAt <= s.lastAssistantAt {
		return true
	}
	return false
}

func (s *Session) noteAssistant(id string, createdAt int64) {
	s.mu.Lock()
	s.lastAssistantID = id
	s.lastAssistantAt = createdAt
	s.mu.Unlock()
}

func (s *Session) append(role conversation.Role, text string) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.transcript = append(s.transcript, e)
	s.mu.Unlock()
	return e
}

// openFeedback flips the pending flag on. Returns false when a capture
// is already open, in which case the caller must not open a second one.
func (s *Session) openFeedback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feedbackPending {
		return false
	}
	s.feedbackPending = true
	return true
}

func (s *Session) closeFeedback() {
	s.mu.Lock()
	s.feedbackPending = false
	s.mu.Unlock()
}

// Registry is an in-memory session store keyed by session id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session with the given id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// GetOrCreate returns the session with the given id, creating a fresh one
// when id is "" or unknown.
func (r *Registry) GetOrCreate(id string) *Session {
	if id != "" {
		if s := r.Get(id); s != nil {
			return s
		}
	}
	s := NewSession()
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
