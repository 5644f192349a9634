// Span correlation helpers. The runtime facade never owns a tracer; it
// annotates whatever span arrives on the caller's context. Every helper
// tolerates a nil or span-free context, so admission and escalation
// paths call them unconditionally.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceContext carries the identifiers of the caller's current trace.
// The runtime copies TraceID onto execution contexts so persisted
// history rows correlate with the trace that admitted them.
type TraceContext struct {
	// TraceID is the 32-hex-character trace identifier.
	TraceID string

	// SpanID is the 16-hex-character span identifier.
	SpanID string

	// Sampled reports whether the trace is being recorded.
	Sampled bool
}

// GetTraceContext reads the span identifiers off ctx. The zero value
// means no valid span; callers fall back to generating their own ids.
func GetTraceContext(ctx context.Context) TraceContext {
	if ctx == nil {
		return TraceContext{}
	}

	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return TraceContext{}
	}

	return TraceContext{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
		Sampled: sc.IsSampled(),
	}
}

// AddSpanEvent marks a governance decision on the caller's span:
//
//	telemetry.AddSpanEvent(ctx, "admission.denied",
//	    attribute.String("tenant_id", tenantID),
//	)
//
// No-op when the span is not recording.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// RecordSpanError records err on the caller's span and flips its status
// to Error. No-op when ctx or err is nil.
func RecordSpanError(ctx context.Context, err error) {
	if ctx == nil || err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanAttributes tags the caller's span, typically with the
// execution and tenant ids once an execution is admitted.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}
