package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DomainTracer wraps a named tracer with helpers for the span shapes
// the engine emits.
type DomainTracer struct {
	tracer trace.Tracer
}

// NewDomainTracer creates a tracer under the given instrumentation name.
func NewDomainTracer(name string) *DomainTracer {
	return &DomainTracer{tracer: otel.Tracer(name)}
}

// StartSpan starts a plain span.
func (t *DomainTracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// StartAssessmentSpan starts a span covering one full risk assessment.
func (t *DomainTracer) StartAssessmentSpan(ctx context.Context, assessmentType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "assessment.assess", trace.WithAttributes(
		attribute.String("assessment.type", assessmentType),
		attribute.String("component", "assessment"),
	))
}

// StartEvaluatorSpan starts a span for one fraud factor evaluator.
func (t *DomainTracer) StartEvaluatorSpan(ctx context.Context, category string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("fraud.evaluate.%s", category), trace.WithAttributes(
		attribute.String("fraud.category", category),
		attribute.String("component", "fraud"),
	))
}

// StartDatabaseSpan starts a client span for a database operation.
func (t *DomainTracer) StartDatabaseSpan(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("db.%s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
			attribute.String("db.system", "postgresql"),
		))
}

// StartCacheSpan starts a client span for a cache lookup or write.
func (t *DomainTracer) StartCacheSpan(ctx context.Context, operation, key string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("cache.%s", operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.operation", operation),
			attribute.String("cache.key", key),
			attribute.String("db.system", "redis"),
		))
}

// TraceID returns the span's trace ID, or empty when unset.
func (t *DomainTracer) TraceID(span trace.Span) string {
	if sc := span.SpanContext(); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// WithSpanError records err on the span and marks it failed. A nil err
// is a no-op so callers can defer it against a named return.
func WithSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
