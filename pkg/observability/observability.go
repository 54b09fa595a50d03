// Package observability records execution metrics through the OpenTelemetry
// metric API. Counters follow the RED pattern (rate, errors, duration) for
// tool and pattern executions. The engine records against the process-global
// meter provider; the embedding binary decides whether and where to export.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Mindburn-Labs/force/core/pkg/force"
)

// Metrics bundles the engine's instruments.
type Metrics struct {
	executions metric.Int64Counter
	failures   metric.Int64Counter
	duration   metric.Float64Histogram
	inFlight   metric.Int64UpDownCounter
	reloads    metric.Int64Counter
}

// New registers the engine's instruments on the global meter. Instrument
// creation errors leave the affected instrument nil; recording methods are
// nil-safe so metrics can never fail an execution.
func New() *Metrics {
	meter := otel.Meter("github.com/Mindburn-Labs/force/core")

	m := &Metrics{}
	m.executions, _ = meter.Int64Counter("force.executions",
		metric.WithDescription("Tool and pattern executions by outcome"))
	m.failures, _ = meter.Int64Counter("force.execution_failures",
		metric.WithDescription("Executions ending in failure or cancellation"))
	m.duration, _ = meter.Float64Histogram("force.execution_duration_ms",
		metric.WithDescription("End-to-end execution duration"),
		metric.WithUnit("ms"))
	m.inFlight, _ = meter.Int64UpDownCounter("force.executions_in_flight",
		metric.WithDescription("Currently running executions"))
	m.reloads, _ = meter.Int64Counter("force.registry_reloads",
		metric.WithDescription("Registry reload cycles"))
	return m
}

// ExecutionStarted marks an execution in flight.
func (m *Metrics) ExecutionStarted(ctx context.Context, kind, refID string) {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Add(ctx, 1, metric.WithAttributes(
		attribute.String("force.kind", kind),
	))
}

// ExecutionFinished records the outcome and duration of one execution.
func (m *Metrics) ExecutionFinished(ctx context.Context, kind, refID string, outcome force.Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("force.kind", kind),
		attribute.String("force.ref_id", refID),
		attribute.String("force.outcome", string(outcome)),
	)
	if m.inFlight != nil {
		m.inFlight.Add(ctx, -1, metric.WithAttributes(attribute.String("force.kind", kind)))
	}
	if m.executions != nil {
		m.executions.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	}
	if m.failures != nil && (outcome == force.OutcomeFailure || outcome == force.OutcomeCancelled) {
		m.failures.Add(ctx, 1, attrs)
	}
}

// ReloadCompleted counts one registry reload cycle.
func (m *Metrics) ReloadCompleted(ctx context.Context, admitted, quarantined int) {
	if m == nil || m.reloads == nil {
		return
	}
	m.reloads.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("force.admitted", admitted),
		attribute.Int("force.quarantined", quarantined),
	))
}
