// Package run defines the Run projection for agent invocations over a thread.
package run

// Status represents the upstream-reported state of a run. The proxy only
// ever reads status; transitions happen upstream.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusInProgress     Status = "in_progress"
	StatusRequiresAction Status = "requires_action"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
)

// Terminal reports whether no further status transition will occur.
// requires_action is NOT terminal upstream; the poll loop treats it as a
// stop condition separately because tool-call flows are unsupported.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Run is the projection of one agent invocation returned to callers.
// Timestamps are unix seconds as reported upstream; pointers when unset.
type Run struct {
	ID          string `json:"id"`
	ThreadID    string `json:"thread_id"`
	Status      Status `json:"status"`
	CreatedAt   int64  `json:"created_at"`
	StartedAt   *int64 `json:"started_at,omitempty"`
	CompletedAt *int64 `json:"completed_at,omitempty"`
}
