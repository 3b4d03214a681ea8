// Package observe holds the OpenTelemetry metric instruments of the
// simulation. Tests should build their own Metrics with NewMetrics and a
// ManualReader instead of using Default.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/nidhogg/smallville"

// Metrics holds all metric instruments. Safe for concurrent use.
type Metrics struct {
	// GatewayDuration tracks model call latency by provider and op.
	GatewayDuration metric.Float64Histogram

	// GatewayRequests counts model calls by provider, op and status.
	GatewayRequests metric.Int64Counter

	// GatewayErrors counts failed model calls by provider and error kind.
	GatewayErrors metric.Int64Counter

	// StepOutcomes counts pipeline step results by step and outcome
	// (changed, unchanged, skipped, failed).
	StepOutcomes metric.Int64Counter

	// TickDuration tracks the wall time of one full simulation tick.
	TickDuration metric.Float64Histogram

	// ActiveConversations tracks conversations not yet ended.
	ActiveConversations metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.GatewayDuration, err = m.Float64Histogram("smallville.gateway.duration",
		metric.WithDescription("Latency of model gateway calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TickDuration, err = m.Float64Histogram("smallville.tick.duration",
		metric.WithDescription("Wall time of one simulation tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GatewayRequests, err = m.Int64Counter("smallville.gateway.requests",
		metric.WithDescription("Model gateway calls by provider, op, and status."),
	); err != nil {
		return nil, err
	}
	if met.GatewayErrors, err = m.Int64Counter("smallville.gateway.errors",
		metric.WithDescription("Model gateway failures by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.StepOutcomes, err = m.Int64Counter("smallville.pipeline.steps",
		metric.WithDescription("Pipeline step results by step and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConversations, err = m.Int64UpDownCounter("smallville.conversations.active",
		metric.WithDescription("Conversations that have not ended."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the package-level Metrics built from the global meter
// provider.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordGatewayCall records one model call. kind is empty on success.
func (m *Metrics) RecordGatewayCall(ctx context.Context, provider, op, kind string, elapsed time.Duration) {
	status := "ok"
	if kind != "" {
		status = "error"
		m.GatewayErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
	}
	m.GatewayRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("op", op),
		attribute.String("status", status),
	))
	m.GatewayDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("op", op),
	))
}

// RecordStep records a pipeline step outcome.
func (m *Metrics) RecordStep(ctx context.Context, step, outcome string) {
	m.StepOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("outcome", outcome),
	))
}

// RecordTick records the duration of a tick.
func (m *Metrics) RecordTick(ctx context.Context, elapsed time.Duration) {
	m.TickDuration.Record(ctx, elapsed.Seconds())
}
