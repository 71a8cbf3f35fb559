package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

var hexTraceID = regexp.MustCompile(`^[0-9a-f]{32}$`)

// captureLogs points slog.Default at a buffer for the duration of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	assert.Empty(t, CorrelationID(context.Background()))

	newHarness(t)
	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "interaction")
		id := CorrelationID(ctx)
		span.End()

		require.Regexp(t, hexTraceID, id)
		require.False(t, seen[id], "duplicate trace id %s", id)
		seen[id] = true
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	hs := newHarness(t)

	ctx, parent := StartSpan(context.Background(), "interact")
	_, child := StartSpan(ctx, "stt.transcribe")
	child.End()
	parent.End()

	spans := hs.spans.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "stt.transcribe", spans[0].Name)
	assert.Equal(t, "interact", spans[1].Name)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
	assert.Equal(t, tracerName, spans[1].InstrumentationScope.Name)
}

func TestEndSpan(t *testing.T) {
	hs := newHarness(t)

	_, ok := StartSpan(context.Background(), "ok")
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "failed")
	EndSpan(failed, errors.New("stt: timeout"))

	spans := hs.spans.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.Empty(t, spans[0].Events)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
	assert.Equal(t, "stt: timeout", spans[1].Status.Description)
	assert.NotEmpty(t, spans[1].Events)
}

func TestLogger(t *testing.T) {
	t.Run("without span", func(t *testing.T) {
		buf := captureLogs(t)
		Logger(context.Background()).Info("hello")
		assert.NotContains(t, buf.String(), "trace_id")
	})

	t.Run("with span", func(t *testing.T) {
		newHarness(t)
		buf := captureLogs(t)

		ctx, span := StartSpan(context.Background(), "interact")
		defer span.End()
		Logger(ctx).Info("hello")

		out := buf.String()
		assert.Contains(t, out, "trace_id="+CorrelationID(ctx))
		assert.Contains(t, out, "span_id=")
	})
}
