// Package driver orchestrates one full conversation turn: send, run,
// poll, normalize, detect the feedback marker, and render.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sablehq/parley/internal/adapter/otel"
	"github.com/sablehq/parley/internal/adapter/ws"
	"github.com/sablehq/parley/internal/domain"
	"github.com/sablehq/parley/internal/domain/conversation"
	"github.com/sablehq/parley/internal/domain/run"
	"github.com/sablehq/parley/internal/feedback"
	"github.com/sablehq/parley/internal/forms"
	"github.com/sablehq/parley/internal/lifecycle"
	"github.com/sablehq/parley/internal/normalize"
	"github.com/sablehq/parley/internal/port/agentgateway"
	"github.com/sablehq/parley/internal/port/broadcast"
)

// failureText is the single chat bubble shown for any failed turn.
const failureText = "Sorry, something went wrong. Please try again."

// TurnResult is what one completed turn hands back to the caller.
// FeedbackPrompt is true only when this turn opened a rating capture.
type TurnResult struct {
	SessionID      string     `json:"sessionId"`
	Reply          string     `json:"reply"`
	FeedbackPrompt bool       `json:"feedbackPrompt"`
	Status         run.Status `json:"status"`
}

// Driver runs the turn protocol over a lifecycle controller and gateway.
type Driver struct {
	lc      *lifecycle.Controller
	gw      agentgateway.Gateway
	hub     broadcast.Broadcaster // optional
	metrics *otel.Metrics         // optional
}

// New creates a conversation driver. hub may be nil when no real-time
// stream is attached.
func New(lc *lifecycle.Controller, gw agentgateway.Gateway, hub broadcast.Broadcaster) *Driver {
	return &Driver{lc: lc, gw: gw, hub: hub}
}

// SetMetrics attaches metric instruments to the driver.
func (d *Driver) SetMetrics(m *otel.Metrics) {
	d.metrics = m
}

// SendTurn runs one full turn on the session. Turns on a session are
// strictly serialized; the sending flag is released on every exit path.
func (d *Driver) SendTurn(ctx context.Context, s *Session, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.MissingField("text")
	}
	if err := s.beginTurn(); err != nil {
		return nil, err
	}
	defer s.endTurn()

	started := time.Now()
	if d.metrics != nil {
		d.metrics.TurnsStarted.Add(ctx, 1)
	}

	// Machine-generated turns stand in for form submissions and are not
	// echoed verbatim to the user.
	if !forms.Synthetic(text) {
		e := s.append(conversation.RoleUser, text)
		d.broadcastEntry(ctx, s, e)
	}
	d.broadcastStatus(ctx, s, "pending")

	threadID, runID, err := d.lc.Begin(ctx, s.ThreadID(), text)
	if err != nil {
		return nil, d.fail(ctx, s, fmt.Errorf("begin turn: %w", err))
	}
	s.setThreadID(threadID)

	status, err := d.lc.Await(ctx, threadID, runID)
	if err != nil {
		return nil, d.fail(ctx, s, fmt.Errorf("await run: %w", err))
	}

	// Messages are fetched regardless of which condition ended the poll.
	msgs, err := d.gw.ListMessages(ctx, threadID)
	if err != nil {
		return nil, d.fail(ctx, s, fmt.Errorf("list messages: %w", err))
	}

	if d.metrics != nil {
		d.metrics.TurnsCompleted.Add(ctx, 1)
		d.metrics.TurnDuration.Record(ctx, time.Since(started).Seconds())
	}

	result := &TurnResult{SessionID: s.ID, Status: status}

	msg, ok := latestAssistant(msgs)
	if !ok || s.assistantSeen(msg.ID, msg.CreatedAt) {
		// requires_action, an empty thread, or a run that ended without
		// a new reply: no further text produced. Re-rendering the prior
		// turn's reply would duplicate it in the transcript.
		d.broadcastStatus(ctx, s, string(status))
		return result, nil
	}
	s.noteAssistant(msg.ID, msg.CreatedAt)

	display, found := feedback.DetectAndStrip(replyText(msg))
	if found && s.openFeedback() {
		result.FeedbackPrompt = true
		d.broadcastFeedback(ctx, s, true)
	}
	result.Reply = display

	if display != "" {
		e := s.append(conversation.RoleAssistant, display)
		d.broadcastEntry(ctx, s, e)
	}
	d.broadcastStatus(ctx, s, string(status))
	return result, nil
}

// SubmitRating turns a 1..5 rating into a synthetic marker turn, closes
// the rating capture, and re-enters the normal turn protocol.
func (d *Driver) SubmitRating(ctx context.Context, s *Session, rating int) (*TurnResult, error) {
	if rating < 1 || rating > 5 {
		return nil, domain.MissingField("rating")
	}
	s.closeFeedback()
	d.broadcastFeedback(ctx, s, false)
	return d.SendTurn(ctx, s, forms.RatingCommand(rating))
}

// fail renders the generic failure bubble and passes the error through.
func (d *Driver) fail(ctx context.Context, s *Session, err error) error {
	slog.Error("turn failed", "session_id", s.ID, "error", err)
	if d.metrics != nil {
		d.metrics.TurnsFailed.Add(ctx, 1)
	}
	e := s.append(conversation.RoleAssistant, failureText)
	d.broadcastEntry(ctx, s, e)
	d.broadcastStatus(ctx, s, "failed")
	return err
}

// latestAssistant selects the most recent assistant message: by creation
// timestamp descending when timestamps are present, otherwise the last
// assistant entry in arrival order.
func latestAssistant(msgs []conversation.Message) (conversation.Message, bool) {
	assistant := make([]conversation.Message, 0, len(msgs))
	timestamped := false
	for _, m := range msgs {
		if m.Role != conversation.RoleAssistant {
			continue
		}
		if m.CreatedAt != 0 {
			timestamped = true
		}
		assistant = append(assistant, m)
	}
	if len(assistant) == 0 {
		return conversation.Message{}, false
	}

	if timestamped {
		sort.SliceStable(assistant, func(i, j int) bool {
			return assistant[i].CreatedAt > assistant[j].CreatedAt
		})
		return assistant[0], true
	}
	return assistant[len(assistant)-1], true
}

// replyText derives the display text for a reply. The hosted surface
// shows every text-bearing part of a multi-part reply; the proxy message
// listing keeps one part per message.
func replyText(m conversation.Message) string {
	if len(m.Content) > 0 {
		if all := normalize.StripCitations(normalize.InboundTextAll(m.Content)); all != "" {
			return all
		}
	}
	return m.Text
}

func (d *Driver) broadcastEntry(ctx context.Context, s *Session, e Entry) {
	if d.hub == nil {
		return
	}
	d.hub.BroadcastEvent(ctx, ws.EventTranscriptEntry, ws.TranscriptEntryEvent{
		SessionID: s.ID,
		EntryID:   e.ID,
		Role:      string(e.Role),
		Text:      e.Text,
	})
}

func (d *Driver) broadcastStatus(ctx context.Context, s *Session, status string) {
	if d.hub == nil {
		return
	}
	d.hub.BroadcastEvent(ctx, ws.EventTurnStatus, ws.TurnStatusEvent{
		SessionID: s.ID,
		Status:    status,
	})
}

func (d *Driver) broadcastFeedback(ctx context.Context, s *Session, open bool) {
	if d.hub == nil {
		return
	}
	d.hub.BroadcastEvent(ctx, ws.EventFeedbackPrompt, ws.FeedbackPromptEvent{
		SessionID: s.ID,
		Open:      open,
	})
}
