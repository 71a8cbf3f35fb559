package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
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

// counterValue returns the value of the int64 sum data point named name whose
// attribute key equals value.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestLatencyHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	byName := map[string]metric.Float64Histogram{
		"echo.stt.duration":          m.STTDuration,
		"echo.llm.duration":          m.LLMDuration,
		"echo.tts.duration":          m.TTSDuration,
		"echo.interaction.duration":  m.InteractionDuration,
		"echo.http.request.duration": m.HTTPRequestDuration,
	}
	// One fast sample and one past the largest bucket.
	for _, h := range byName {
		h.Record(ctx, 0.02)
		h.Record(ctx, 90)
	}

	rm := collect(t, reader)
	for name := range byName {
		met := findMetric(rm, name)
		if met == nil {
			t.Errorf("%s: not exported", name)
			continue
		}
		if met.Unit != "s" {
			t.Errorf("%s: unit = %q, want s", name, met.Unit)
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) != 1 {
			t.Errorf("%s: want one histogram data point, got %T", name, met.Data)
			continue
		}
		dp := hist.DataPoints[0]
		if dp.Count != 2 {
			t.Errorf("%s: count = %d, want 2", name, dp.Count)
		}
		if len(dp.Bounds) != len(latencyBuckets) {
			t.Errorf("%s: %d bounds, want %d", name, len(dp.Bounds), len(latencyBuckets))
		}
		if last := dp.BucketCounts[len(dp.BucketCounts)-1]; last != 1 {
			t.Errorf("%s: overflow bucket = %d, want 1", name, last)
		}
	}
}

func TestRecordProviderRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "groq", "llm", "ok")
	m.RecordProviderRequest(ctx, "groq", "llm", "ok")
	m.RecordProviderRequest(ctx, "groq", "llm", "error")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "echo.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok = %d, want 2", got)
	}
	if got := counterValue(t, rm, "echo.provider.requests", "status", "error"); got != 1 {
		t.Errorf("error = %d, want 1", got)
	}
}

func TestRecordProviderError(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordProviderError(context.Background(), "openai", "tts")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "echo.provider.errors", "kind", "tts"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestRecordInteraction(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInteraction(ctx, StatusOK, 800*time.Millisecond)
	m.RecordInteraction(ctx, StatusOK, 1200*time.Millisecond)
	m.RecordInteraction(ctx, StatusEmptyTranscript, 300*time.Millisecond)

	rm := collect(t, reader)
	if got := counterValue(t, rm, "echo.interactions", "status", StatusOK); got != 2 {
		t.Errorf("ok = %d, want 2", got)
	}
	if got := counterValue(t, rm, "echo.interactions", "status", StatusEmptyTranscript); got != 1 {
		t.Errorf("empty = %d, want 1", got)
	}

	met := findMetric(rm, "echo.interaction.duration")
	if met == nil {
		t.Fatal("interaction duration not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("duration samples = %d, want 3", total)
	}
}

func TestClientCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrameDropped(ctx, "queue_full")
	m.RecordFrameDropped(ctx, "queue_full")
	m.RecordFrameDropped(ctx, "playback")
	m.RecordUtterance(ctx, "queued")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "echo.client.frames_dropped", "reason", "queue_full"); got != 2 {
		t.Errorf("queue_full = %d, want 2", got)
	}
	if got := counterValue(t, rm, "echo.client.utterances", "outcome", "queued"); got != 1 {
		t.Errorf("queued = %d, want 1", got)
	}
}

func TestActiveInteractions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveInteractions.Add(ctx, 1)
	m.ActiveInteractions.Add(ctx, 1)
	m.ActiveInteractions.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "echo.active_interactions")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("data points = %+v, want value 1", sum.DataPoints)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
