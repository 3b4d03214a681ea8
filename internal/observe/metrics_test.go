package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumWhere(t *testing.T, met *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", met.Name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				total += dp.Value
			}
		}
	}
	return total
}

func TestRecordGatewayCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGatewayCall(ctx, "openai", "chat", "", 200*time.Millisecond)
	m.RecordGatewayCall(ctx, "openai", "chat", "transport", time.Second)

	rm := collect(t, reader)

	req := findMetric(rm, "smallville.gateway.requests")
	if req == nil {
		t.Fatal("requests metric not found")
	}
	if got := sumWhere(t, req, "status", "ok"); got != 1 {
		t.Errorf("ok requests = %d, want 1", got)
	}
	if got := sumWhere(t, req, "status", "error"); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}

	errsMet := findMetric(rm, "smallville.gateway.errors")
	if errsMet == nil {
		t.Fatal("errors metric not found")
	}
	if got := sumWhere(t, errsMet, "kind", "transport"); got != 1 {
		t.Errorf("transport errors = %d, want 1", got)
	}

	dur := findMetric(rm, "smallville.gateway.duration")
	if dur == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("duration is not a populated histogram")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestRecordStepAndTick(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStep(ctx, "plans", "changed")
	m.RecordStep(ctx, "plans", "changed")
	m.RecordStep(ctx, "reactions", "unchanged")
	m.RecordTick(ctx, 3*time.Second)

	rm := collect(t, reader)
	steps := findMetric(rm, "smallville.pipeline.steps")
	if steps == nil {
		t.Fatal("steps metric not found")
	}
	if got := sumWhere(t, steps, "step", "plans"); got != 2 {
		t.Errorf("plans steps = %d, want 2", got)
	}
	if findMetric(rm, "smallville.tick.duration") == nil {
		t.Error("tick duration not recorded")
	}
}
