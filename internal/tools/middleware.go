package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/atlasagent/atlas/internal/observability"
	"github.com/atlasagent/atlas/internal/ratelimit"
	"github.com/atlasagent/atlas/pkg/models"
)

// Invocation carries one tool call and its execution context through the
// middleware chain.
type Invocation struct {
	Call      models.ToolCall
	SessionID string
	UserID    string
}

// Handler is the invocation signature middlewares wrap. The innermost
// handler validates nothing; by the time it runs, arguments have passed
// the tool's schema.
type Handler func(ctx context.Context, inv Invocation) models.ToolResult

// Middleware transforms a handler into a wrapped handler with identical
// signature. A middleware may short-circuit by returning a result without
// calling next.
type Middleware func(next Handler) Handler

// Chain composes middlewares around a handler. They are applied in reverse
// so the first middleware in the list is outermost: it runs first on entry
// and last on exit.
func Chain(handler Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// LoggingMiddleware logs every invocation with its duration and outcome.
// Arguments pass through the logger's redaction before being written.
func LoggingMiddleware(logger *observability.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv Invocation) models.ToolResult {
			start := time.Now()
			logger.Debug(ctx, "tool call started",
				"tool", inv.Call.Name,
				"args", string(logger.RedactJSON(inv.Call.Args)),
			)

			result := next(ctx, inv)

			if result.Success {
				logger.Info(ctx, "tool call succeeded",
					"tool", inv.Call.Name,
					"duration_ms", time.Since(start).Milliseconds(),
				)
			} else {
				kind := ""
				if result.Error != nil {
					kind = string(result.Error.Kind)
				}
				logger.Warn(ctx, "tool call failed",
					"tool", inv.Call.Name,
					"duration_ms", time.Since(start).Milliseconds(),
					"fault", kind,
				)
			}
			return result
		}
	}
}

// TracingMiddleware wraps every invocation in a span named after the tool.
// Faults become span errors with their kind attached.
func TracingMiddleware(tracer *observability.Tracer) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv Invocation) models.ToolResult {
			ctx, span := tracer.StartToolCall(ctx, inv.Call.Name)
			defer span.End()
			tracer.SetAttributes(span, "tool.call_id", inv.Call.ID)

			result := next(ctx, inv)

			if !result.Success && result.Error != nil {
				tracer.SetAttributes(span, "tool.fault", string(result.Error.Kind))
				tracer.RecordError(span, result.Error)
			}
			return result
		}
	}
}

// MetricsMiddleware records execution counts and latency per tool.
func MetricsMiddleware(metrics *observability.Metrics) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv Invocation) models.ToolResult {
			start := time.Now()
			result := next(ctx, inv)

			status := "success"
			if !result.Success {
				status = "error"
				if result.Error != nil {
					metrics.RecordError("tool", string(result.Error.Kind))
				}
			}
			metrics.RecordToolExecution(inv.Call.Name, status, time.Since(start).Seconds())
			return result
		}
	}
}

// RateLimitMiddleware rejects calls exceeding the per-user, per-tool token
// bucket with a rate_limited fault, without calling the handler.
func RateLimitMiddleware(limiter *ratelimit.Limiter) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv Invocation) models.ToolResult {
			key := ratelimit.CompositeKey(inv.UserID, inv.Call.Name)
			if !limiter.Allow(key) {
				result := models.Fault(inv.Call.ID, models.FaultRateLimited, "rate limit exceeded for "+inv.Call.Name)
				result.Error.Detail = map[string]any{
					"retry_after_ms": limiter.WaitTime(key).Milliseconds(),
				}
				return result
			}
			return next(ctx, inv)
		}
	}
}

// EventPublisher receives lifecycle events. The agent's emitter satisfies
// this interface.
type EventPublisher interface {
	Publish(ctx context.Context, event models.Event)
}

// EventsMiddleware publishes tool.called plus tool.succeeded or tool.failed
// for every invocation.
func EventsMiddleware(publisher EventPublisher) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv Invocation) models.ToolResult {
			publisher.Publish(ctx, models.Event{
				Type:      models.EventToolCalled,
				SessionID: inv.SessionID,
				UserID:    inv.UserID,
				Payload: map[string]any{
					"tool_call_id": inv.Call.ID,
					"tool":         inv.Call.Name,
				},
			})

			result := next(ctx, inv)

			payload := map[string]any{
				"tool_call_id": inv.Call.ID,
				"tool":         inv.Call.Name,
			}
			eventType := models.EventToolSucceeded
			if !result.Success {
				eventType = models.EventToolFailed
				if result.Error != nil {
					payload["fault"] = string(result.Error.Kind)
				}
			}
			publisher.Publish(ctx, models.Event{
				Type:      eventType,
				SessionID: inv.SessionID,
				UserID:    inv.UserID,
				Payload:   payload,
			})
			return result
		}
	}
}

// rawArgs normalizes empty argument payloads to an empty object.
func rawArgs(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage("{}")
	}
	return args
}
