package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartRenderSpan creates a child span covering a full render job: part
// loading, compositing, and the disk/remote/record write sequence.
func StartRenderSpan(ctx context.Context, username string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "render.job",
		trace.WithAttributes(attribute.String("render.username", username)),
	)
}

// StartPartFetchSpan creates a child span for a single origin CDN part
// fetch.
func StartPartFetchSpan(ctx context.Context, itemRef string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "part.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("part.item_ref", itemRef)),
	)
}

// InjectHeaders injects the current trace context (traceparent, tracestate)
// into the given HTTP request headers so the upstream service can continue
// the trace.
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetRenderAttributes adds job-level attributes to the current span once
// the fingerprint and priority are known.
func SetRenderAttributes(ctx context.Context, fingerprint uint32, priority string, attempt int) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int64("render.fingerprint", int64(fingerprint)),
		attribute.String("render.priority", priority),
		attribute.Int("render.attempt", attempt),
	)
}

// SetCacheAttributes adds result-cache lookup attributes to the current
// span: which tier served the request, if any.
func SetCacheAttributes(ctx context.Context, tier string, hit bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("cache.tier", tier),
		attribute.Bool("cache.hit", hit),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
