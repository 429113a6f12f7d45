package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vendorflow/internal/sanitize"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 7)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if id := ThreadIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("thread_id", id))
	}
	if id := RelationshipIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("relationship_id", id))
	}
	if id := ProposalIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("proposal_id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}

	return fields
}

type (
	threadCtxKey       struct{}
	relationshipCtxKey struct{}
	proposalCtxKey     struct{}
	requestCtxKey      struct{}
)

// ValidID reports whether id can be attached to a context. IDs are
// non-empty, at most 128 bytes, and limited to letters, digits, hyphen
// and underscore.
func ValidID(id string) bool {
	return sanitize.ValidID(id)
}

func withID(ctx context.Context, key any, id string) context.Context {
	if !ValidID(id) {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key any) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithThreadID adds a thread id to ctx. Invalid ids are ignored since they
// usually come straight from a request path.
func WithThreadID(ctx context.Context, id string) context.Context {
	return withID(ctx, threadCtxKey{}, id)
}

// ThreadIDFromContext returns the thread id, if any.
func ThreadIDFromContext(ctx context.Context) string {
	return idFrom(ctx, threadCtxKey{})
}

// WithRelationshipID adds a relationship id to ctx. Invalid ids are ignored.
func WithRelationshipID(ctx context.Context, id string) context.Context {
	return withID(ctx, relationshipCtxKey{}, id)
}

// RelationshipIDFromContext returns the relationship id, if any.
func RelationshipIDFromContext(ctx context.Context) string {
	return idFrom(ctx, relationshipCtxKey{})
}

// WithProposalID adds a proposal id to ctx. Invalid ids are ignored.
func WithProposalID(ctx context.Context, id string) context.Context {
	return withID(ctx, proposalCtxKey{}, id)
}

// ProposalIDFromContext returns the proposal id, if any.
func ProposalIDFromContext(ctx context.Context) string {
	return idFrom(ctx, proposalCtxKey{})
}

// WithRequestID adds a request id to ctx. Invalid ids are ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id, if any.
func RequestIDFromContext(ctx context.Context) string {
	return idFrom(ctx, requestCtxKey{})
}
