package observability

import "context"

// Span is a no-op tracing span. The core has no tracing backend wired in;
// this exists so call sites can follow the teacher's
// "ctx, span := StartSpan(...); defer span.End()" convention without
// pulling in an OpenTelemetry dependency that nothing in this spec
// exports traces to.
type Span struct{}

// End is a no-op.
func (Span) End() {}

// StartSpan returns ctx unchanged and a no-op Span.
func StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, Span{}
}
