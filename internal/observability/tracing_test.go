package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return &Tracer{provider: provider, tracer: provider.Tracer("test")}, exporter
}

func TestNewTracer_NoEndpointIsNoop(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer == nil {
		t.Fatal("NewTracer returned nil")
	}
	ctx, span := tracer.Start(context.Background(), "op")
	defer span.End()
	if span.IsRecording() {
		t.Error("expected a non-recording span without an endpoint")
	}
	if GetTraceID(ctx) != "" {
		t.Errorf("GetTraceID = %q, want empty", GetTraceID(ctx))
	}
}

func TestTracer_StartToolCall(t *testing.T) {
	tracer, exporter := newRecordingTracer(t)

	_, span := tracer.StartToolCall(context.Background(), "web.search")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "tool.web.search" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	found := false
	for _, attr := range spans[0].Attributes {
		if string(attr.Key) == "tool.name" && attr.Value.AsString() == "web.search" {
			found = true
		}
	}
	if !found {
		t.Error("tool.name attribute missing")
	}
}

func TestTracer_StartTurnPropagatesContext(t *testing.T) {
	tracer, exporter := newRecordingTracer(t)

	ctx, turn := tracer.StartTurn(context.Background(), "s1", "u1")
	if GetTraceID(ctx) == "" {
		t.Fatal("no trace id inside turn span")
	}
	_, child := tracer.StartLLMRequest(ctx, "anthropic", "some-model")
	child.End()
	turn.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if spans[0].SpanContext.TraceID() != spans[1].SpanContext.TraceID() {
		t.Error("llm span not in the turn's trace")
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("llm span not parented to the turn span")
	}
}

func TestTracer_RecordError(t *testing.T) {
	tracer, exporter := newRecordingTracer(t)

	_, span := tracer.Start(context.Background(), "op")
	tracer.RecordError(span, errors.New("backend unavailable"))
	tracer.RecordError(span, nil)
	span.End()

	recorded := exporter.GetSpans()[0]
	if recorded.Status.Code != codes.Error {
		t.Errorf("status = %v, want error", recorded.Status.Code)
	}
	if len(recorded.Events) != 1 {
		t.Errorf("recorded %d error events, want 1", len(recorded.Events))
	}
}

func TestTracer_SetAttributes(t *testing.T) {
	tracer, exporter := newRecordingTracer(t)

	_, span := tracer.Start(context.Background(), "op")
	tracer.SetAttributes(span,
		"tool.call_id", "call_1",
		"llm.prompt_tokens", 42,
		"dangling-key",
	)
	span.End()

	attrs := map[string]string{}
	for _, attr := range exporter.GetSpans()[0].Attributes {
		attrs[string(attr.Key)] = attr.Value.Emit()
	}
	if attrs["tool.call_id"] != "call_1" {
		t.Errorf("tool.call_id = %q", attrs["tool.call_id"])
	}
	if attrs["llm.prompt_tokens"] != "42" {
		t.Errorf("llm.prompt_tokens = %q", attrs["llm.prompt_tokens"])
	}
}
