package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RunMetrics instruments the orchestrator's run lifecycle: one counter per
// terminal outcome plus a duration histogram, labeled by environment.
type RunMetrics struct {
	started   metric.Int64Counter
	completed metric.Int64Counter
	cancelled metric.Int64Counter
	paused    metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewRunMetrics registers the run-lifecycle instruments against the given
// Provider's "copilot.orchestrator" meter.
func NewRunMetrics(p *Provider) (*RunMetrics, error) {
	meter := p.Meter("copilot.orchestrator")

	started, err := meter.Int64Counter("copilot.run.started", metric.WithDescription("runs transitioned to running"))
	if err != nil {
		return nil, err
	}
	completed, err := meter.Int64Counter("copilot.run.completed", metric.WithDescription("runs transitioned to complete"))
	if err != nil {
		return nil, err
	}
	cancelled, err := meter.Int64Counter("copilot.run.cancelled", metric.WithDescription("runs cancelled"))
	if err != nil {
		return nil, err
	}
	paused, err := meter.Int64Counter("copilot.run.paused", metric.WithDescription("runs paused on a recoverable error"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("copilot.run.duration",
		metric.WithDescription("seconds from START_RUN to a terminal or paused state"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &RunMetrics{started: started, completed: completed, cancelled: cancelled, paused: paused, duration: duration}, nil
}

func (m *RunMetrics) attrs() metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("environment", Environment()))
}

// RecordStarted increments the started counter.
func (m *RunMetrics) RecordStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.started.Add(ctx, 1, m.attrs())
}

// RecordCompleted increments the completed counter and observes durationSeconds.
func (m *RunMetrics) RecordCompleted(ctx context.Context, durationSeconds float64) {
	if m == nil {
		return
	}
	m.completed.Add(ctx, 1, m.attrs())
	m.duration.Record(ctx, durationSeconds, m.attrs())
}

// RecordCancelled increments the cancelled counter.
func (m *RunMetrics) RecordCancelled(ctx context.Context) {
	if m == nil {
		return
	}
	m.cancelled.Add(ctx, 1, m.attrs())
}

// RecordPaused increments the paused counter.
func (m *RunMetrics) RecordPaused(ctx context.Context) {
	if m == nil {
		return
	}
	m.paused.Add(ctx, 1, m.attrs())
}

// HTTPMetrics instruments the control-plane HTTP surface: a request counter
// and a latency histogram, labeled by route and status class.
type HTTPMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewHTTPMetrics registers the HTTP-layer instruments against the given
// Provider's "copilot.http" meter.
func NewHTTPMetrics(p *Provider) (*HTTPMetrics, error) {
	meter := p.Meter("copilot.http")

	requests, err := meter.Int64Counter("copilot.http.requests", metric.WithDescription("control-plane HTTP requests handled"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("copilot.http.request.duration",
		metric.WithDescription("control-plane HTTP handler latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &HTTPMetrics{requests: requests, latency: latency}, nil
}

// RecordRequest records one handled request's route, HTTP status, and
// handler latency in milliseconds.
func (m *HTTPMetrics) RecordRequest(ctx context.Context, route string, status int, latencyMillis float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("environment", Environment()),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, latencyMillis, attrs)
}
