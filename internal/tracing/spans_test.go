package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setupTestTracerWithPropagator(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())
	})
	return exporter
}

func TestStartRenderSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	defer func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
	}()

	ctx, span := StartRenderSpan(context.Background(), "alice")
	defer span.End()

	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		t.Error("expected valid span in context")
	}

	span.End()
	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if spans[0].Name != "render.job" {
		t.Errorf("expected span name 'render.job', got %q", spans[0].Name)
	}
}

func TestStartPartFetchSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	defer func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
	}()

	_, span := StartPartFetchSpan(context.Background(), "hair_001")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if spans[0].Name != "part.fetch" {
		t.Errorf("expected span name 'part.fetch', got %q", spans[0].Name)
	}
	if spans[0].SpanKind != trace.SpanKindClient {
		t.Errorf("expected SpanKindClient, got %v", spans[0].SpanKind)
	}

	found := false
	for _, attr := range spans[0].Attributes {
		if string(attr.Key) == "part.item_ref" {
			found = true
		}
	}
	if !found {
		t.Error("expected part.item_ref attribute")
	}
}

func TestInjectHeaders(t *testing.T) {
	setupTestTracerWithPropagator(t)

	ctx, span := Tracer().Start(context.Background(), "test")
	defer span.End()

	req := httptest.NewRequest("GET", "/avatar/avatar/alice", nil)
	InjectHeaders(ctx, req)

	tp2 := req.Header.Get("traceparent")
	if tp2 == "" {
		t.Error("expected traceparent header to be injected")
	}
}

func TestSetRenderAttributes(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	defer func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
	}()

	ctx, span := Tracer().Start(context.Background(), "test")
	SetRenderAttributes(ctx, 4242, "avatar", 1)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}

	attrs := map[string]interface{}{}
	for _, attr := range spans[0].Attributes {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}

	if attrs["render.fingerprint"] != int64(4242) {
		t.Errorf("expected render.fingerprint 4242, got %v", attrs["render.fingerprint"])
	}
	if attrs["render.priority"] != "avatar" {
		t.Errorf("expected render.priority 'avatar', got %v", attrs["render.priority"])
	}
}

func TestSetCacheAttributes(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	defer func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
	}()

	ctx, span := Tracer().Start(context.Background(), "test")
	SetCacheAttributes(ctx, "memory", true)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}

	attrs := map[string]interface{}{}
	for _, attr := range spans[0].Attributes {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}

	if attrs["cache.tier"] != "memory" {
		t.Errorf("expected cache.tier 'memory', got %v", attrs["cache.tier"])
	}
	if attrs["cache.hit"] != true {
		t.Errorf("expected cache.hit true, got %v", attrs["cache.hit"])
	}
}

func TestRecordError_NilDoesNotPanic(t *testing.T) {
	RecordError(context.Background(), nil)
}

func TestRecordError_RecordsOnSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	defer func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
	}()

	ctx, span := Tracer().Start(context.Background(), "test")
	RecordError(ctx, errors.New("test error"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}

	if len(spans[0].Events) == 0 {
		t.Error("expected error event on span")
	}
}

func TestInjectHeaders_WithHTTPRequest(t *testing.T) {
	setupTestTracerWithPropagator(t)

	ctx, span := Tracer().Start(context.Background(), "parent")
	defer span.End()

	req, _ := http.NewRequest("GET", "https://cdn.example.com/item-sprite/hair_001.webp", nil)
	InjectHeaders(ctx, req)

	traceparent := req.Header.Get("traceparent")
	if traceparent == "" {
		t.Fatal("expected traceparent header")
	}

	parentTraceID := span.SpanContext().TraceID().String()
	if len(traceparent) < 55 {
		t.Fatalf("traceparent too short: %s", traceparent)
	}
	extractedTraceID := traceparent[3:35]
	if extractedTraceID != parentTraceID {
		t.Errorf("expected trace ID %s in traceparent, got %s", parentTraceID, extractedTraceID)
	}
}
