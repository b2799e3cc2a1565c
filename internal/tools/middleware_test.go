package tools

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/atlasagent/atlas/internal/observability"
	"github.com/atlasagent/atlas/internal/ratelimit"
	"github.com/atlasagent/atlas/pkg/models"
)

// traceMiddleware records pre/post hooks in order.
func traceMiddleware(label string, trace *[]string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv Invocation) models.ToolResult {
			*trace = append(*trace, label+":pre")
			result := next(ctx, inv)
			*trace = append(*trace, label+":post")
			return result
		}
	}
}

func TestChain_Ordering(t *testing.T) {
	var trace []string
	handler := func(ctx context.Context, inv Invocation) models.ToolResult {
		trace = append(trace, "handler")
		return models.ToolResult{ToolCallID: inv.Call.ID, Success: true}
	}

	wrapped := Chain(handler,
		traceMiddleware("A", &trace),
		traceMiddleware("B", &trace),
	)
	wrapped(context.Background(), call("test.echo", `{}`))

	want := []string{"A:pre", "B:pre", "handler", "B:post", "A:post"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

func TestRegistry_MiddlewareAppliedOnCall(t *testing.T) {
	var trace []string
	reg := NewRegistry()
	reg.Use(traceMiddleware("outer", &trace), traceMiddleware("inner", &trace))
	if err := reg.Register(echoTool(t, "test.echo", "ok")); err != nil {
		t.Fatal(err)
	}

	reg.Call(context.Background(), call("test.echo", `{"value":"x"}`))
	want := []string{"outer:pre", "inner:pre", "inner:post", "outer:post"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

func TestRateLimitMiddleware_ShortCircuits(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: 0.001,
		BurstSize:         1,
		Enabled:           true,
	})

	handlerCalls := 0
	handler := func(ctx context.Context, inv Invocation) models.ToolResult {
		handlerCalls++
		return models.ToolResult{ToolCallID: inv.Call.ID, Success: true}
	}
	wrapped := Chain(handler, RateLimitMiddleware(limiter))

	first := wrapped(context.Background(), call("test.echo", `{}`))
	if !first.Success {
		t.Fatalf("first call rejected: %+v", first.Error)
	}

	second := wrapped(context.Background(), call("test.echo", `{}`))
	if second.Success {
		t.Fatal("second call allowed past exhausted bucket")
	}
	if second.Error.Kind != models.FaultRateLimited {
		t.Errorf("fault kind = %q, want rate_limited", second.Error.Kind)
	}
	if handlerCalls != 1 {
		t.Errorf("handler called %d times, want 1 (short-circuit)", handlerCalls)
	}
}

type captureSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *captureSink) Publish(ctx context.Context, event models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func TestEventsMiddleware(t *testing.T) {
	sink := &captureSink{}
	ok := func(ctx context.Context, inv Invocation) models.ToolResult {
		return models.ToolResult{ToolCallID: inv.Call.ID, Success: true, Data: json.RawMessage(`1`)}
	}
	failed := func(ctx context.Context, inv Invocation) models.ToolResult {
		return models.Fault(inv.Call.ID, models.FaultExecution, "nope")
	}

	Chain(ok, EventsMiddleware(sink))(context.Background(), call("test.echo", `{}`))
	Chain(failed, EventsMiddleware(sink))(context.Background(), call("test.echo", `{}`))

	if len(sink.events) != 4 {
		t.Fatalf("published %d events, want 4", len(sink.events))
	}
	wantTypes := []models.EventType{
		models.EventToolCalled, models.EventToolSucceeded,
		models.EventToolCalled, models.EventToolFailed,
	}
	for i, want := range wantTypes {
		if sink.events[i].Type != want {
			t.Errorf("event[%d].Type = %q, want %q", i, sink.events[i].Type, want)
		}
	}
	if fault, ok := sink.events[3].Payload["fault"]; !ok || fault != "execution" {
		t.Errorf("failed event payload = %v", sink.events[3].Payload)
	}
}

func TestTracingMiddleware(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	tracer, shutdown := observability.NewTracer(observability.TraceConfig{ServiceName: "test"})
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	ok := func(ctx context.Context, inv Invocation) models.ToolResult {
		return models.ToolResult{ToolCallID: inv.Call.ID, Success: true, Data: json.RawMessage(`1`)}
	}
	failed := func(ctx context.Context, inv Invocation) models.ToolResult {
		return models.Fault(inv.Call.ID, models.FaultExecution, "nope")
	}

	Chain(ok, TracingMiddleware(tracer))(context.Background(), call("test.echo", `{}`))
	Chain(failed, TracingMiddleware(tracer))(context.Background(), call("test.echo", `{}`))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if spans[0].Name != "tool.test.echo" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("successful call recorded an error status")
	}
	if spans[1].Status.Code != codes.Error {
		t.Error("failed call did not record an error status")
	}
	faultAttr := ""
	for _, attr := range spans[1].Attributes {
		if string(attr.Key) == "tool.fault" {
			faultAttr = attr.Value.AsString()
		}
	}
	if faultAttr != "execution" {
		t.Errorf("tool.fault = %q, want execution", faultAttr)
	}
}
