// Package lifecycle drives a run from creation through its polling loop
// to a terminal or action-required status.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sablehq/parley/internal/adapter/otel"
	"github.com/sablehq/parley/internal/domain"
	"github.com/sablehq/parley/internal/domain/run"
	"github.com/sablehq/parley/internal/port/agentgateway"
)

const (
	// DefaultPollInterval is the fixed delay between status polls.
	DefaultPollInterval = 1200 * time.Millisecond

	// DefaultMaxPolls bounds the loop so an upstream run that never
	// reaches a terminal status cannot pin a turn forever.
	DefaultMaxPolls = 150
)

// Controller owns the per-turn run lifecycle: create or continue a
// thread, then poll until the run settles.
type Controller struct {
	gw       agentgateway.Gateway
	interval time.Duration
	maxPolls int
	sleep    func(ctx context.Context, d time.Duration) error // for testing
	metrics  *otel.Metrics                                    // optional
}

// Option configures a Controller.
type Option func(*Controller)

// WithInterval overrides the poll interval.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) { c.interval = d }
}

// WithMaxPolls overrides the poll attempt budget.
func WithMaxPolls(n int) Option {
	return func(c *Controller) { c.maxPolls = n }
}

// WithSleep replaces the inter-poll sleep, used by tests to script time.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

// WithMetrics attaches metric instruments to the polling loop.
func WithMetrics(m *otel.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a lifecycle controller over the given gateway.
func New(gw agentgateway.Gateway, opts ...Option) *Controller {
	c := &Controller{
		gw:       gw,
		interval: DefaultPollInterval,
		maxPolls: DefaultMaxPolls,
		sleep:    ctxSleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin starts a run for one user turn. On the first turn of a
// conversation (threadID == "") it creates the thread and run together;
// on later turns it appends the message and starts a fresh run.
func (c *Controller) Begin(ctx context.Context, threadID, text string) (newThreadID, runID string, err error) {
	if threadID == "" {
		tid, r, err := c.gw.CreateThreadAndRun(ctx, text)
		if err != nil {
			return "", "", fmt.Errorf("create thread+run: %w", err)
		}
		return tid, r.ID, nil
	}

	if _, err := c.gw.AppendMessage(ctx, threadID, text); err != nil {
		return "", "", fmt.Errorf("append message: %w", err)
	}
	r, err := c.gw.StartRun(ctx, threadID)
	if err != nil {
		return "", "", fmt.Errorf("start run: %w", err)
	}
	return threadID, r.ID, nil
}

// Await polls the run at a fixed interval until it reaches a terminal
// status or requires_action. requires_action stops the loop without being
// an error: tool-call flows are unsupported, the caller simply gets no
// further text. Exhausting the poll budget returns ErrRunTimedOut.
func (c *Controller) Await(ctx context.Context, threadID, runID string) (run.Status, error) {
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		if err := c.sleep(ctx, c.interval); err != nil {
			return "", err
		}

		if c.metrics != nil {
			c.metrics.Polls.Add(ctx, 1)
		}
		status, err := c.gw.GetRunStatus(ctx, threadID, runID)
		if err != nil {
			return "", fmt.Errorf("poll run status: %w", err)
		}

		if status.Terminal() || status == run.StatusRequiresAction {
			if status == run.StatusRequiresAction {
				slog.Debug("run requires action; stopping poll",
					"thread_id", threadID, "run_id", runID)
			}
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: run %s after %d polls", domain.ErrRunTimedOut, runID, c.maxPolls)
}

// ctxSleep sleeps for d or until the context is cancelled.
func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
