// Package agentgateway defines the port interface for the upstream
// conversational-agent API.
package agentgateway

import (
	"context"

	"github.com/sablehq/parley/internal/domain/conversation"
	"github.com/sablehq/parley/internal/domain/run"
)

// Gateway is the port interface for the four upstream thread/run/message
// operations. Implementations must validate identifiers before acquiring
// a credential and must never leak upstream error bodies.
type Gateway interface {
	// CreateThreadAndRun starts a new thread seeded with one user message
	// and immediately runs the configured agent over it.
	CreateThreadAndRun(ctx context.Context, text string) (threadID string, r *run.Run, err error)

	// AppendMessage posts a user message onto an existing thread and
	// returns the new message id.
	AppendMessage(ctx context.Context, threadID, text string) (string, error)

	// StartRun starts a run on an existing thread with the configured
	// agent identity.
	StartRun(ctx context.Context, threadID string) (*run.Run, error)

	// GetRunStatus returns the current status of a run.
	GetRunStatus(ctx context.Context, threadID, runID string) (run.Status, error)

	// ListMessages returns all messages on a thread, each with Text
	// already normalized and citation-stripped.
	ListMessages(ctx context.Context, threadID string) ([]conversation.Message, error)
}
