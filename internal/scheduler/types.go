// Package scheduler persists deferred tasks and runs them when due: either
// a single tool call or a full agent turn, on a one-shot, interval, or cron
// schedule.
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/atlasagent/atlas/pkg/models"
)

// TaskKind identifies what a task runs when it fires.
type TaskKind string

const (
	// TaskTool executes one registered tool with stored arguments.
	TaskTool TaskKind = "tool"
	// TaskPrompt drives a full agent turn with a stored prompt.
	TaskPrompt TaskKind = "prompt"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCanceled  TaskStatus = "canceled"
)

// Task is one scheduled unit of work, owned by a session/user pair.
type Task struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	Kind      TaskKind        `json:"kind"`
	ToolName  string          `json:"tool_name,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	Schedule  Schedule        `json:"schedule"`
	Status    TaskStatus      `json:"status"`
	CreatedAt time.Time       `json:"created_at"`

	// NextRun is zero once the task has no further run.
	NextRun  time.Time `json:"next_run,omitempty"`
	LastRun  time.Time `json:"last_run,omitempty"`
	RunCount int       `json:"run_count"`
	// MaxRuns caps executions for recurring schedules; 0 means unlimited.
	MaxRuns   int    `json:"max_runs,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// TurnRunner drives a deferred agent turn for prompt tasks. The agent
// orchestrator satisfies this interface.
type TurnRunner interface {
	HandleTurn(ctx context.Context, sessionID, userID, content string) (string, error)
}

// Publisher receives task lifecycle events. The agent's emitter satisfies
// this interface.
type Publisher interface {
	Emit(ctx context.Context, eventType models.EventType, payload map[string]any)
}
