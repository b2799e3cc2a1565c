package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atlasagent/atlas/internal/observability"
	"github.com/atlasagent/atlas/internal/tools"
)

const createTaskSchema = `{
	"type": "object",
	"properties": {
		"kind": {
			"type": "string",
			"enum": ["tool", "prompt"],
			"description": "What to run: a registered tool or a full agent prompt"
		},
		"tool_name": {
			"type": "string",
			"description": "Tool to invoke when kind is tool, e.g. price.get_token_price"
		},
		"args": {
			"type": "object",
			"description": "Arguments passed to the tool on each run"
		},
		"prompt": {
			"type": "string",
			"description": "Prompt to run as an agent turn when kind is prompt"
		},
		"at": {
			"type": "string",
			"description": "One-shot run time, RFC3339 or 'YYYY-MM-DD HH:MM'"
		},
		"every": {
			"type": "string",
			"description": "Recurring interval as a Go duration, e.g. 30m or 2h"
		},
		"cron": {
			"type": "string",
			"description": "Recurring cron expression, e.g. '0 9 * * MON-FRI'"
		},
		"timezone": {
			"type": "string",
			"description": "IANA timezone for at/cron schedules, e.g. America/New_York"
		},
		"max_runs": {
			"type": "integer",
			"minimum": 1,
			"description": "Cap on executions for recurring schedules"
		},
		"notes": {
			"type": "string",
			"description": "Free-form reminder of what this task is for"
		}
	},
	"required": ["kind"],
	"additionalProperties": false
}`

const listTasksSchema = `{
	"type": "object",
	"properties": {
		"status": {
			"type": "string",
			"enum": ["pending", "completed", "failed", "canceled"],
			"description": "Only return tasks in this state"
		},
		"limit": {
			"type": "integer",
			"minimum": 1,
			"maximum": 200,
			"description": "Page size, default 50"
		},
		"offset": {
			"type": "integer",
			"minimum": 0
		}
	},
	"additionalProperties": false
}`

const cancelTaskSchema = `{
	"type": "object",
	"properties": {
		"task_id": {
			"type": "integer",
			"description": "ID of the pending task to cancel"
		}
	},
	"required": ["task_id"],
	"additionalProperties": false
}`

// RegisterTools adds scheduler.create_task, scheduler.list_tasks, and
// scheduler.cancel_task to the registry.
func (s *Scheduler) RegisterTools(registry *tools.Registry) error {
	specs := []struct {
		spec    tools.Spec
		handler tools.HandlerFunc
	}{
		{
			spec: tools.Spec{
				Name:        "scheduler.create_task",
				Description: "Schedule a tool call or an agent prompt to run later, once or on a recurring schedule.",
				InputSchema: json.RawMessage(createTaskSchema),
			},
			handler: s.createTaskTool,
		},
		{
			spec: tools.Spec{
				Name:        "scheduler.list_tasks",
				Description: "List your scheduled tasks, newest first, optionally filtered by status.",
				InputSchema: json.RawMessage(listTasksSchema),
			},
			handler: s.listTasksTool,
		},
		{
			spec: tools.Spec{
				Name:        "scheduler.cancel_task",
				Description: "Cancel one of your pending scheduled tasks by ID.",
				InputSchema: json.RawMessage(cancelTaskSchema),
			},
			handler: s.cancelTaskTool,
		},
	}
	for _, entry := range specs {
		tool, err := tools.New(entry.spec, entry.handler)
		if err != nil {
			return err
		}
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) createTaskTool(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params struct {
		Kind     string          `json:"kind"`
		ToolName string          `json:"tool_name"`
		Args     json.RawMessage `json:"args"`
		Prompt   string          `json:"prompt"`
		At       string          `json:"at"`
		Every    string          `json:"every"`
		Cron     string          `json:"cron"`
		Timezone string          `json:"timezone"`
		MaxRuns  int             `json:"max_runs"`
		Notes    string          `json:"notes"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	sessionID, userID, err := callerIdentity(ctx)
	if err != nil {
		return nil, err
	}
	sched, err := ParseSchedule(ScheduleSpec{
		At:       params.At,
		Every:    params.Every,
		Cron:     params.Cron,
		Timezone: params.Timezone,
	})
	if err != nil {
		return nil, err
	}

	task := &Task{
		SessionID: sessionID,
		UserID:    userID,
		Kind:      TaskKind(params.Kind),
		ToolName:  params.ToolName,
		Args:      params.Args,
		Prompt:    params.Prompt,
		Schedule:  sched,
		MaxRuns:   params.MaxRuns,
		Notes:     params.Notes,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"task_id":  task.ID,
		"status":   string(task.Status),
		"next_run": task.NextRun.Format(time.RFC3339),
	})
}

func (s *Scheduler) listTasksTool(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params struct {
		Status string `json:"status"`
		Limit  int    `json:"limit"`
		Offset int    `json:"offset"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	_, userID, err := callerIdentity(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := s.ListTasks(ctx, userID, ListFilter{
		Status: TaskStatus(params.Status),
		Limit:  params.Limit,
		Offset: params.Offset,
	})
	if err != nil {
		return nil, err
	}

	summaries := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		summaries = append(summaries, taskSummary(task))
	}
	return json.Marshal(map[string]any{
		"tasks": summaries,
		"count": len(summaries),
	})
}

func (s *Scheduler) cancelTaskTool(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params struct {
		TaskID int64 `json:"task_id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	_, userID, err := callerIdentity(ctx)
	if err != nil {
		return nil, err
	}
	task, err := s.CancelTask(ctx, params.TaskID, userID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, fmt.Errorf("no pending task %d for this user", params.TaskID)
		}
		return nil, err
	}
	return json.Marshal(map[string]any{
		"task_id": task.ID,
		"status":  string(task.Status),
	})
}

// callerIdentity reads the acting session and user from the request context.
// Both are stamped at the start of every turn, so absence means the tool was
// invoked outside a turn.
func callerIdentity(ctx context.Context) (sessionID, userID string, err error) {
	sessionID = observability.GetSessionID(ctx)
	userID = observability.GetUserID(ctx)
	if sessionID == "" || userID == "" {
		return "", "", errors.New("no session identity in request context")
	}
	return sessionID, userID, nil
}

func taskSummary(task *Task) map[string]any {
	out := map[string]any{
		"task_id":   task.ID,
		"kind":      string(task.Kind),
		"status":    string(task.Status),
		"schedule":  task.Schedule.Kind,
		"run_count": task.RunCount,
	}
	if task.ToolName != "" {
		out["tool_name"] = task.ToolName
	}
	if task.Prompt != "" {
		out["prompt"] = task.Prompt
	}
	if !task.NextRun.IsZero() {
		out["next_run"] = task.NextRun.Format(time.RFC3339)
	}
	if !task.LastRun.IsZero() {
		out["last_run"] = task.LastRun.Format(time.RFC3339)
	}
	if task.LastError != "" {
		out["last_error"] = task.LastError
	}
	if task.Notes != "" {
		out["notes"] = task.Notes
	}
	return out
}
