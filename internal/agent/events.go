package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/atlasagent/atlas/internal/observability"
	"github.com/atlasagent/atlas/pkg/models"
)

// Sink receives lifecycle events. Implementations must not block for long;
// a slow or failing sink is logged and never aborts the conversation.
type Sink interface {
	Publish(ctx context.Context, event models.Event) error
}

// Emitter stamps events with monotonic sequence numbers and dispatches them
// to a sink. It satisfies the tool middleware's publisher interface, so a
// single emitter serializes ordering across orchestrator and tool events.
type Emitter struct {
	sink     Sink
	logger   *observability.Logger
	sequence atomic.Uint64
}

// NewEmitter creates an emitter. A nil sink drops all events.
func NewEmitter(sink Sink, logger *observability.Logger) *Emitter {
	return &Emitter{sink: sink, logger: logger}
}

// Publish stamps and dispatches one event. Sink errors are logged, not returned.
func (e *Emitter) Publish(ctx context.Context, event models.Event) {
	if e == nil || e.sink == nil {
		return
	}
	event.Sequence = e.sequence.Add(1)
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	if event.SessionID == "" {
		event.SessionID = observability.GetSessionID(ctx)
	}
	if event.UserID == "" {
		event.UserID = observability.GetUserID(ctx)
	}
	if err := e.sink.Publish(ctx, event); err != nil && e.logger != nil {
		e.logger.Warn(ctx, "event sink publish failed",
			"event_type", string(event.Type),
			"seq", event.Sequence,
			"error", err.Error(),
		)
	}
}

// Emit is a convenience for publishing by type and payload.
func (e *Emitter) Emit(ctx context.Context, eventType models.EventType, payload map[string]any) {
	e.Publish(ctx, models.Event{Type: eventType, Payload: payload})
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink creates a sink that logs each event at info level.
func NewLogSink(logger *observability.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, event models.Event) error {
	if s.logger == nil {
		return nil
	}
	s.logger.Info(ctx, "event",
		"event_type", string(event.Type),
		"seq", event.Sequence,
		"payload", event.Payload,
	)
	return nil
}

// ChannelSink delivers events to a buffered channel, for tests and UIs.
type ChannelSink struct {
	ch chan models.Event
}

// NewChannelSink creates a channel sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan models.Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan models.Event {
	return s.ch
}

func (s *ChannelSink) Publish(ctx context.Context, event models.Event) error {
	select {
	case s.ch <- event:
		return nil
	default:
		return errors.New("event channel full")
	}
}

// MultiSink fans one event out to several sinks. All sinks are attempted;
// errors are joined.
type MultiSink []Sink

func (s MultiSink) Publish(ctx context.Context, event models.Event) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
