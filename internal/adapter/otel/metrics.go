package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "parley"

// Metrics holds the relay's metric instruments.
type Metrics struct {
	TurnsStarted   metric.Int64Counter
	TurnsCompleted metric.Int64Counter
	TurnsFailed    metric.Int64Counter
	UpstreamCalls  metric.Int64Counter
	Polls          metric.Int64Counter
	TurnDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TurnsStarted, err = meter.Int64Counter("parley.turns.started",
		metric.WithDescription("Number of conversation turns started"))
	if err != nil {
		return nil, err
	}

	m.TurnsCompleted, err = meter.Int64Counter("parley.turns.completed",
		metric.WithDescription("Number of conversation turns completed"))
	if err != nil {
		return nil, err
	}

	m.TurnsFailed, err = meter.Int64Counter("parley.turns.failed",
		metric.WithDescription("Number of conversation turns that failed"))
	if err != nil {
		return nil, err
	}

	m.UpstreamCalls, err = meter.Int64Counter("parley.upstream.calls",
		metric.WithDescription("Number of upstream API calls"))
	if err != nil {
		return nil, err
	}

	m.Polls, err = meter.Int64Counter("parley.run.polls",
		metric.WithDescription("Number of run status polls"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("parley.turn.duration_seconds",
		metric.WithDescription("Conversation turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
