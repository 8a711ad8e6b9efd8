package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sablehq/parley/internal/domain"
	"github.com/sablehq/parley/internal/domain/conversation"
	"github.com/sablehq/parley/internal/domain/run"
	"github.com/sablehq/parley/internal/lifecycle"
)

// scriptedGateway replays a fixed status sequence and records calls.
type scriptedGateway struct {
	statuses    []run.Status
	statusCalls int
	appended    []string
	started     int
	created     int
}

func (g *scriptedGateway) CreateThreadAndRun(_ context.Context, text string) (string, *run.Run, error) {
	g.created++
	return "thread_1", &run.Run{ID: "run_1", ThreadID: "thread_1", Status: run.StatusQueued}, nil
}

func (g *scriptedGateway) AppendMessage(_ context.Context, threadID, text string) (string, error) {
	g.appended = append(g.appended, text)
	return "msg_1", nil
}

func (g *scriptedGateway) StartRun(_ context.Context, threadID string) (*run.Run, error) {
	g.started++
	return &run.Run{ID: "run_2", ThreadID: threadID, Status: run.StatusQueued}, nil
}

func (g *scriptedGateway) GetRunStatus(_ context.Context, _, _ string) (run.Status, error) {
	i := g.statusCalls
	g.statusCalls++
	if i >= len(g.statuses) {
		return g.statuses[len(g.statuses)-1], nil
	}
	return g.statuses[i], nil
}

func (g *scriptedGateway) ListMessages(context.Context, string) ([]conversation.Message, error) {
	return nil, nil
}

func fakeSleep(slept *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
}

func TestBeginFirstTurnCreatesThread(t *testing.T) {
	gw := &scriptedGateway{}
	c := lifecycle.New(gw)

	threadID, runID, err := c.Begin(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if threadID != "thread_1" || runID != "run_1" {
		t.Fatalf("got %q/%q", threadID, runID)
	}
	if gw.created != 1 || gw.started != 0 || len(gw.appended) != 0 {
		t.Fatalf("unexpected gateway calls: %+v", gw)
	}
}

func TestBeginLaterTurnAppendsAndStarts(t *testing.T) {
	gw := &scriptedGateway{}
	c := lifecycle.New(gw)

	threadID, runID, err := c.Begin(context.Background(), "thread_1", "again")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if threadID != "thread_1" || runID != "run_2" {
		t.Fatalf("got %q/%q", threadID, runID)
	}
	if gw.created != 0 || gw.started != 1 || len(gw.appended) != 1 {
		t.Fatalf("unexpected gateway calls: %+v", gw)
	}
}

func TestAwaitPollsUntilCompleted(t *testing.T) {
	gw := &scriptedGateway{
		statuses: []run.Status{run.StatusQueued, run.StatusInProgress, run.StatusCompleted},
	}
	var slept []time.Duration
	c := lifecycle.New(gw, lifecycle.WithSleep(fakeSleep(&slept)))

	status, err := c.Await(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if status != run.StatusCompleted {
		t.Fatalf("expected completed, got %s", status)
	}
	if gw.statusCalls != 3 {
		t.Fatalf("expected exactly 3 status calls, got %d", gw.statusCalls)
	}
	if len(slept) != 3 {
		t.Fatalf("expected a sleep before each poll, got %d", len(slept))
	}
	for _, d := range slept {
		if d < lifecycle.DefaultPollInterval {
			t.Fatalf("poll spacing %v under interval", d)
		}
	}
}

func TestAwaitStopsOnRequiresAction(t *testing.T) {
	gw := &scriptedGateway{
		statuses: []run.Status{run.StatusInProgress, run.StatusRequiresAction},
	}
	var slept []time.Duration
	c := lifecycle.New(gw, lifecycle.WithSleep(fakeSleep(&slept)))

	status, err := c.Await(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatalf("requires_action must not be an error, got %v", err)
	}
	if status != run.StatusRequiresAction {
		t.Fatalf("expected requires_action, got %s", status)
	}
}

func TestAwaitTimesOutAfterBudget(t *testing.T) {
	gw := &scriptedGateway{statuses: []run.Status{run.StatusInProgress}}
	var slept []time.Duration
	c := lifecycle.New(gw,
		lifecycle.WithSleep(fakeSleep(&slept)),
		lifecycle.WithMaxPolls(5))

	_, err := c.Await(context.Background(), "thread_1", "run_1")
	if !errors.Is(err, domain.ErrRunTimedOut) {
		t.Fatalf("expected ErrRunTimedOut, got %v", err)
	}
	if gw.statusCalls != 5 {
		t.Fatalf("expected 5 polls, got %d", gw.statusCalls)
	}
}

func TestAwaitHonorsContextCancel(t *testing.T) {
	gw := &scriptedGateway{statuses: []run.Status{run.StatusInProgress}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := lifecycle.New(gw, lifecycle.WithInterval(time.Millisecond))
	if _, err := c.Await(ctx, "thread_1", "run_1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
