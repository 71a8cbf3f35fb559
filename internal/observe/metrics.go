// Package observe provides the observability primitives shared by the Echo
// server and client: OpenTelemetry metrics and tracing, a Prometheus exporter
// bridge, trace-aware logging and HTTP middleware tying them together.
//
// Tests should build their own [Metrics] with [NewMetrics] and a private
// [metric.MeterProvider]; [DefaultMetrics] uses the global provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/echo"

// Interaction statuses recorded on [Metrics.Interactions].
const (
	StatusOK              = "ok"
	StatusEmptyTranscript = "empty_transcript"
	StatusInvalidSession  = "invalid_session"
	StatusCanceled        = "canceled"
	StatusError           = "error"
)

// Metrics holds every OpenTelemetry instrument used by Echo. All fields are
// safe for concurrent use.
type Metrics struct {
	// ── Latency ──

	STTDuration         metric.Float64Histogram
	LLMDuration         metric.Float64Histogram
	TTSDuration         metric.Float64Histogram
	InteractionDuration metric.Float64Histogram

	// ── Counters ──

	// Interactions counts dialogue turns by attribute "status".
	Interactions metric.Int64Counter

	// ProviderRequests counts provider calls by "provider", "kind", "status".
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures by "provider", "kind".
	ProviderErrors metric.Int64Counter

	// FramesDropped counts capture frames discarded by the client, by "reason".
	FramesDropped metric.Int64Counter

	// Utterances counts segmented utterances by "outcome".
	Utterances metric.Int64Counter

	// ── Gauges ──

	ActiveInteractions metric.Int64UpDownCounter

	// ── HTTP ──

	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Remote STT and LLM
// calls dominate, so the range reaches well past a second.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "echo.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "echo.llm.duration", "Latency of LLM completion."},
		{&met.TTSDuration, "echo.tts.duration", "Latency of text-to-speech synthesis."},
		{&met.InteractionDuration, "echo.interaction.duration", "End-to-end latency of one dialogue turn."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Interactions, "echo.interactions", "Dialogue turns by status."},
		{&met.ProviderRequests, "echo.provider.requests", "Provider API requests by provider, kind and status."},
		{&met.ProviderErrors, "echo.provider.errors", "Provider errors by provider and kind."},
		{&met.FramesDropped, "echo.client.frames_dropped", "Capture frames discarded by reason."},
		{&met.Utterances, "echo.client.utterances", "Segmented utterances by outcome."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveInteractions, err = m.Int64UpDownCounter("echo.active_interactions",
		metric.WithDescription("Dialogue turns currently in flight."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("echo.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first call
// from [otel.GetMeterProvider]. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments ProviderRequests.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments ProviderErrors.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordInteraction increments Interactions and records the turn latency.
func (m *Metrics) RecordInteraction(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Interactions.Add(ctx, 1, attrs)
	m.InteractionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordFrameDropped increments FramesDropped.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordUtterance increments Utterances.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
