package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// fieldMap encodes fields the way a core would see them.
func fieldMap(fields []zap.Field) map[string]any {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return enc.Fields
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_Span(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "decide")
	defer span.End()

	got := fieldMap(ContextFields(ctx))
	assert.Equal(t, span.SpanContext().TraceID().String(), got["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), got["span_id"])
	assert.Equal(t, true, got["trace_sampled"])
}

func TestContextFields_UnsampledSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
	ctx, span := tp.Tracer("test").Start(context.Background(), "decide")
	defer span.End()

	got := fieldMap(ContextFields(ctx))
	assert.Contains(t, got, "trace_id")
	assert.NotContains(t, got, "trace_sampled")
}

func TestContextFields_EntityIDs(t *testing.T) {
	ctx := WithThreadID(context.Background(), "thr_1")
	ctx = WithRelationshipID(ctx, "rel-2")
	ctx = WithProposalID(ctx, "prop3")
	ctx = WithRequestID(ctx, "req_456")

	assert.Equal(t, map[string]any{
		"thread_id":       "thr_1",
		"relationship_id": "rel-2",
		"proposal_id":     "prop3",
		"request.id":      "req_456",
	}, fieldMap(ContextFields(ctx)))

	assert.Equal(t, "thr_1", ThreadIDFromContext(ctx))
	assert.Equal(t, "rel-2", RelationshipIDFromContext(ctx))
	assert.Equal(t, "prop3", ProposalIDFromContext(ctx))
	assert.Equal(t, "req_456", RequestIDFromContext(ctx))
}

func TestWithID_IgnoresInvalid(t *testing.T) {
	ctx := WithThreadID(context.Background(), "thr_1")
	for _, bad := range []string{"", "../etc/passwd", "thr 1", "thr.1", strings.Repeat("a", 129)} {
		ctx = WithThreadID(ctx, bad)
		require.Equal(t, "thr_1", ThreadIDFromContext(ctx), bad)
	}
	assert.True(t, ValidID(strings.Repeat("a", 128)))
	assert.True(t, ValidID("3f1c2a9e-6a7b-4a53-9d0e-2b8f4c1d7e65"))
}
