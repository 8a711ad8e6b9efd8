package driver_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sablehq/parley/internal/domain"
	"github.com/sablehq/parley/internal/domain/conversation"
	"github.com/sablehq/parley/internal/domain/run"
	"github.com/sablehq/parley/internal/driver"
	"github.com/sablehq/parley/internal/lifecycle"
)

// fakeGateway scripts one assistant reply per turn and a status sequence
// that completes immediately.
type fakeGateway struct {
	replies  []string
	turn     int
	msgs     []conversation.Message
	failList bool
	fixed    bool       // when set, record() is a no-op and msgs is returned as-is
	silent   bool       // when set, runs produce no new assistant message
	status   run.Status // status reported by polls; completed when unset

	block   chan struct{} // when non-nil, GetRunStatus blocks until closed
	polling chan struct{} // closed once the first poll begins
}

func (g *fakeGateway) reply() string {
	if g.turn < len(g.replies) {
		return g.replies[g.turn]
	}
	return "ok"
}

func (g *fakeGateway) CreateThreadAndRun(_ context.Context, text string) (string, *run.Run, error) {
	g.record(text)
	return "thread_1", &run.Run{ID: "run_1", ThreadID: "thread_1", Status: run.StatusQueued}, nil
}

func (g *fakeGateway) AppendMessage(_ context.Context, _, text string) (string, error) {
	g.record(text)
	return "msg_1", nil
}

func (g *fakeGateway) record(text string) {
	if g.fixed {
		return
	}
	g.msgs = append(g.msgs, conversation.Message{
		Role:      conversation.RoleUser,
		CreatedAt: int64(len(g.msgs) + 1),
		Text:      text,
	})
	if !g.silent {
		g.msgs = append(g.msgs, conversation.Message{
			Role:      conversation.RoleAssistant,
			CreatedAt: int64(len(g.msgs) + 1),
			Text:      g.reply(),
		})
	}
	g.turn++
}

func (g *fakeGateway) StartRun(_ context.Context, threadID string) (*run.Run, error) {
	return &run.Run{ID: "run_n", ThreadID: threadID, Status: run.StatusQueued}, nil
}

func (g *fakeGateway) GetRunStatus(context.Context, string, string) (run.Status, error) {
	if g.polling != nil {
		select {
		case <-g.polling:
		default:
			close(g.polling)
		}
	}
	if g.block != nil {
		<-g.block
	}
	if g.status != "" {
		return g.status, nil
	}
	return run.StatusCompleted, nil
}

func (g *fakeGateway) ListMessages(context.Context, string) ([]conversation.Message, error) {
	if g.failList {
		return nil, domain.ErrTransport
	}
	out := make([]conversation.Message, len(g.msgs))
	copy(out, g.msgs)
	return out, nil
}

func newDriver(gw *fakeGateway) *driver.Driver {
	lc := lifecycle.New(gw,
		lifecycle.WithSleep(func(context.Context, time.Duration) error { return nil }))
	return driver.New(lc, gw, nil)
}

func TestSendTurnRendersReply(t *testing.T) {
	gw := &fakeGateway{replies: []string{"Here is your answer."}}
	d := newDriver(gw)
	s := driver.NewSession()

	res, err := d.SendTurn(context.Background(), s, "Where is my order?")
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	if res.Reply != "Here is your answer." {
		t.Fatalf("got reply %q", res.Reply)
	}
	if res.FeedbackPrompt {
		t.Fatal("no marker, no prompt")
	}
	if s.ThreadID() != "thread_1" {
		t.Fatalf("thread id not captured: %q", s.ThreadID())
	}

	entries := s.Transcript()
	if len(entries) != 2 {
		t.Fatalf("expected user+assistant entries, got %d", len(entries))
	}
	if entries[0].Role != conversation.RoleUser || entries[1].Role != conversation.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", entries)
	}
}

func TestSendTurnRejectsEmptyInput(t *testing.T) {
	d := newDriver(&fakeGateway{})
	s := driver.NewSession()

	if _, err := d.SendTurn(context.Background(), s, "   "); !errors.Is(err, domain.ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if len(s.Transcript()) != 0 {
		t.Fatal("nothing should have been sent")
	}
}

func TestSendTurnReusesThread(t *testing.T) {
	gw := &fakeGateway{replies: []string{"first", "second"}}
	d := newDriver(gw)
	s := driver.NewSession()
	ctx := context.Background()

	if _, err := d.SendTurn(ctx, s, "one"); err != nil {
		t.Fatal(err)
	}
	res, err := d.SendTurn(ctx, s, "two")
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "second" {
		t.Fatalf("expected latest assistant reply, got %q", res.Reply)
	}
}

func TestFeedbackMarkerOpensCaptureOnce(t *testing.T) {
	gw := &fakeGateway{replies: []string{
		"Great, thanks!\n\nfeedback 1 to 5 please",
		"Still here.\nfeedback 1-5",
	}}
	d := newDriver(gw)
	s := driver.NewSession()
	ctx := context.Background()

	res, err := d.SendTurn(ctx, s, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "Great, thanks!" {
		t.Fatalf("marker not stripped: %q", res.Reply)
	}
	if !res.FeedbackPrompt {
		t.Fatal("expected rating capture to open")
	}
	if !s.FeedbackPending() {
		t.Fatal("pending flag not set")
	}

	// Second marked reply while a capture is pending: still stripped,
	// but no second capture opens.
	res, err = d.SendTurn(ctx, s, "more")
	if err != nil {
		t.Fatal(err)
	}
	if res.FeedbackPrompt {
		t.Fatal("second capture must not open while one is pending")
	}
	if strings.Contains(res.Reply, "feedback") {
		t.Fatalf("marker leaked: %q", res.Reply)
	}
}

func TestSubmitRatingSendsMarkerTurn(t *testing.T) {
	gw := &fakeGateway{replies: []string{
		"Bye!\nfeedback 1 to 5",
		"Thanks for the rating!",
	}}
	d := newDriver(gw)
	s := driver.NewSession()
	ctx := context.Background()

	if _, err := d.SendTurn(ctx, s, "hello"); err != nil {
		t.Fatal(err)
	}

	res, err := d.SubmitRating(ctx, s, 3)
	if err != nil {
		t.Fatalf("SubmitRating: %v", err)
	}
	if res.Reply != "Thanks for the rating!" {
		t.Fatalf("got %q", res.Reply)
	}
	if s.FeedbackPending() {
		t.Fatal("pending flag should be cleared")
	}

	// The raw marker turn was sent upstream but never echoed.
	sent := gw.msgs[len(gw.msgs)-2].Text
	if sent != "FEEDBACK_RATING 3" {
		t.Fatalf("expected marker turn upstream, got %q", sent)
	}
	for _, e := range s.Transcript() {
		if strings.Contains(e.Text, "FEEDBACK_RATING") {
			t.Fatalf("marker text leaked into transcript: %q", e.Text)
		}
	}
}

func TestSubmitRatingRejectsOutOfRange(t *testing.T) {
	d := newDriver(&fakeGateway{})
	s := driver.NewSession()
	for _, n := range []int{0, 6, -1} {
		if _, err := d.SubmitRating(context.Background(), s, n); !errors.Is(err, domain.ErrMissingField) {
			t.Fatalf("rating %d: expected rejection, got %v", n, err)
		}
	}
}

func TestTurnFailureRendersBubbleAndReleasesLock(t *testing.T) {
	gw := &fakeGateway{failList: true}
	d := newDriver(gw)
	s := driver.NewSession()
	ctx := context.Background()

	if _, err := d.SendTurn(ctx, s, "hello"); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}

	entries := s.Transcript()
	last := entries[len(entries)-1]
	if last.Role != conversation.RoleAssistant || last.Text == "" {
		t.Fatalf("expected failure bubble, got %+v", last)
	}

	// Lock released: a new turn may start.
	gw.failList = false
	if _, err := d.SendTurn(ctx, s, "retry"); err != nil {
		t.Fatalf("expected lock released, got %v", err)
	}
}

func TestConcurrentTurnRejected(t *testing.T) {
	gw := &fakeGateway{
		replies: []string{"slow answer"},
		block:   make(chan struct{}),
		polling: make(chan struct{}),
	}
	d := newDriver(gw)
	s := driver.NewSession()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := d.SendTurn(ctx, s, "first")
		done <- err
	}()

	<-gw.polling
	if _, err := d.SendTurn(ctx, s, "second"); !errors.Is(err, domain.ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}

	close(gw.block)
	if err := <-done; err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
}

func TestRequiresActionTurnProducesNoReply(t *testing.T) {
	gw := &fakeGateway{replies: []string{"First answer"}}
	d := newDriver(gw)
	s := driver.NewSession()
	ctx := context.Background()

	res, err := d.SendTurn(ctx, s, "one")
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "First answer" {
		t.Fatalf("got %q", res.Reply)
	}

	// The second run stops on requires_action without a new assistant
	// message; the prior reply must not be rendered again.
	gw.silent = true
	gw.status = run.StatusRequiresAction

	res, err = d.SendTurn(ctx, s, "two")
	if err != nil {
		t.Fatalf("requires_action is not an error: %v", err)
	}
	if res.Status != run.StatusRequiresAction {
		t.Fatalf("status = %q, want requires_action", res.Status)
	}
	if res.Reply != "" {
		t.Fatalf("expected no reply, got %q", res.Reply)
	}

	seen := 0
	for _, e := range s.Transcript() {
		if e.Text == "First answer" {
			seen++
		}
	}
	if seen != 1 {
		t.Fatalf("reply rendered %d times, want once", seen)
	}
}

func TestMultiPartReplyShowsAllTextParts(t *testing.T) {
	gw := &fakeGateway{fixed: true}
	gw.msgs = []conversation.Message{
		{
			Role:      conversation.RoleAssistant,
			CreatedAt: 10,
			Content: []byte(`[
				{"type":"text","text":{"value":"Part one."}},
				{"type":"image_file","image_file":{"file_id":"f1"}},
				{"type":"text","text":{"value":"Part two【 1:0 † src 】."}}
			]`),
			Text: "Part one.",
		},
	}

	d := newDriver(gw)
	s := driver.NewSession()

	res, err := d.SendTurn(context.Background(), s, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "Part one.\n\n[image]\n\nPart two." {
		t.Fatalf("got %q, want all parts joined and citation-stripped", res.Reply)
	}
}

func TestLatestAssistantPrefersNewestTimestamp(t *testing.T) {
	gw := &fakeGateway{fixed: true}
	// Out-of-order history: timestamp ordering must win over position.
	gw.msgs = []conversation.Message{
		{Role: conversation.RoleAssistant, CreatedAt: 30, Text: "newest"},
		{Role: conversation.RoleUser, CreatedAt: 10, Text: "q"},
		{Role: conversation.RoleAssistant, CreatedAt: 20, Text: "older"},
	}

	d := newDriver(gw)
	s := driver.NewSession()

	res, err := d.SendTurn(context.Background(), s, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "newest" {
		t.Fatalf("expected timestamp-latest reply, got %q", res.Reply)
	}
}

func TestLatestAssistantFallsBackToArrivalOrder(t *testing.T) {
	gw := &fakeGateway{fixed: true}
	// No timestamps: the collection's own order places the latest last.
	gw.msgs = []conversation.Message{
		{Role: conversation.RoleAssistant, Text: "first"},
		{Role: conversation.RoleAssistant, Text: "last"},
	}

	d := newDriver(gw)
	s := driver.NewSession()

	res, err := d.SendTurn(context.Background(), s, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "last" {
		t.Fatalf("expected last-in-order reply, got %q", res.Reply)
	}
}
