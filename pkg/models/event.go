package models

import "time"

// EventType identifies a lifecycle event emitted by the agent core.
type EventType string

const (
	EventTurnStarted   EventType = "turn.started"
	EventTurnFinished  EventType = "turn.finished"
	EventToolCalled    EventType = "tool.called"
	EventToolSucceeded EventType = "tool.succeeded"
	EventToolFailed    EventType = "tool.failed"
	EventAgentMessage  EventType = "agent.message"
	EventLLMUsage      EventType = "llm.usage"
	EventTaskScheduled EventType = "task.scheduled"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskCanceled  EventType = "task.canceled"
)

// Event is the unified lifecycle event published to sinks. Sequence is
// monotonic per emitter so consumers can order events across goroutines.
type Event struct {
	Type      EventType      `json:"type"`
	Time      time.Time      `json:"time"`
	Sequence  uint64         `json:"seq"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}
