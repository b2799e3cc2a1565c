package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atlasagent/atlas/internal/observability"
	"github.com/atlasagent/atlas/internal/tools"
	"github.com/atlasagent/atlas/pkg/models"
)

// ToolCaller executes a single tool call. The tool registry satisfies this
// interface.
type ToolCaller interface {
	Call(ctx context.Context, inv tools.Invocation) models.ToolResult
}

// Scheduler owns the task store and drives due tasks on a ticker.
type Scheduler struct {
	store        Store
	caller       ToolCaller
	logger       *observability.Logger
	publisher    Publisher
	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	runner  TurnRunner
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *observability.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPublisher configures the event publisher for task lifecycle events.
func WithPublisher(publisher Publisher) Option {
	return func(s *Scheduler) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the scheduler tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// New creates a scheduler over the given store. The tool caller runs tool
// tasks; a turn runner for prompt tasks is attached later with
// SetTurnRunner since the orchestrator is built after the registry.
func New(store Store, caller ToolCaller, opts ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("task store is required")
	}
	s := &Scheduler{
		store:        store,
		caller:       caller,
		now:          time.Now,
		tickInterval: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetTurnRunner attaches the runner for prompt tasks after initialization.
func (s *Scheduler) SetTurnRunner(runner TurnRunner) {
	if s == nil || runner == nil {
		return
	}
	s.mu.Lock()
	s.runner = runner
	s.mu.Unlock()
}

// CreateTask validates and persists a new task, resolving its first run.
func (s *Scheduler) CreateTask(ctx context.Context, task *Task) error {
	if task.SessionID == "" || task.UserID == "" {
		return fmt.Errorf("task requires session and user")
	}
	switch task.Kind {
	case TaskTool:
		if strings.TrimSpace(task.ToolName) == "" {
			return fmt.Errorf("tool task requires a tool name")
		}
	case TaskPrompt:
		if strings.TrimSpace(task.Prompt) == "" {
			return fmt.Errorf("prompt task requires a prompt")
		}
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
	if task.MaxRuns < 0 {
		return fmt.Errorf("max_runs must not be negative")
	}

	now := s.now()
	next, ok, err := task.Schedule.Next(now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("schedule has no future run")
	}
	task.Status = StatusPending
	task.CreatedAt = now
	task.NextRun = next
	task.RunCount = 0

	if err := s.store.Create(ctx, task); err != nil {
		return err
	}
	s.publish(ctx, models.EventTaskScheduled, task, nil)
	return nil
}

// ListTasks returns the user's tasks, newest first.
func (s *Scheduler) ListTasks(ctx context.Context, userID string, filter ListFilter) ([]*Task, error) {
	if userID == "" {
		return nil, fmt.Errorf("user is required")
	}
	return s.store.List(ctx, userID, filter)
}

// CancelTask cancels one of the user's pending tasks.
func (s *Scheduler) CancelTask(ctx context.Context, id int64, userID string) (*Task, error) {
	if userID == "" {
		return nil, fmt.Errorf("user is required")
	}
	if err := s.store.Cancel(ctx, id, userID); err != nil {
		return nil, err
	}
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, models.EventTaskCanceled, task, nil)
	return task, nil
}

// Start begins the run loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the run loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes due tasks immediately and returns how many ran.
// Primarily for tests.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	if s == nil {
		return 0
	}
	return s.runDue(ctx)
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()
	due, err := s.store.Due(ctx, now)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn(ctx, "load due tasks failed", "error", err)
		}
		return 0
	}

	count := 0
	for _, task := range due {
		if ctx.Err() != nil {
			return count
		}
		s.runTask(ctx, task, now)
		count++
	}
	return count
}

func (s *Scheduler) runTask(ctx context.Context, task *Task, now time.Time) {
	runErr := s.execute(ctx, task)

	task.LastRun = now
	task.RunCount++
	if runErr != nil {
		task.LastError = runErr.Error()
	} else {
		task.LastError = ""
	}

	// One-shot tasks and recurring tasks that hit their cap finish here;
	// a failed run still reschedules a recurring task.
	done := !task.Schedule.Recurring()
	if task.MaxRuns > 0 && task.RunCount >= task.MaxRuns {
		done = true
	}
	if done {
		task.NextRun = time.Time{}
		if runErr != nil {
			task.Status = StatusFailed
		} else {
			task.Status = StatusCompleted
		}
	} else {
		next, ok, err := task.Schedule.Next(now)
		if err != nil || !ok {
			task.NextRun = time.Time{}
			task.Status = StatusFailed
			if err != nil {
				task.LastError = err.Error()
			}
		} else {
			task.NextRun = next
		}
	}

	if err := s.store.Update(ctx, task); err != nil && s.logger != nil {
		s.logger.Error(ctx, "update task after run failed", "task_id", task.ID, "error", err)
	}

	if runErr != nil {
		if s.logger != nil {
			s.logger.Warn(ctx, "scheduled task failed", "task_id", task.ID, "error", runErr)
		}
		s.publish(ctx, models.EventTaskFailed, task, runErr)
		return
	}
	if s.logger != nil {
		s.logger.Info(ctx, "scheduled task ran", "task_id", task.ID, "run_count", task.RunCount)
	}
	if task.Status == StatusCompleted || task.Status == StatusPending {
		s.publish(ctx, models.EventTaskCompleted, task, nil)
	}
}

func (s *Scheduler) execute(ctx context.Context, task *Task) error {
	ctx = observability.AddSessionID(ctx, task.SessionID)
	ctx = observability.AddUserID(ctx, task.UserID)

	switch task.Kind {
	case TaskTool:
		if s.caller == nil {
			return errors.New("tool caller not configured")
		}
		result := s.caller.Call(ctx, tools.Invocation{
			Call: models.ToolCall{
				ID:   fmt.Sprintf("task-%d-%d", task.ID, task.RunCount+1),
				Name: task.ToolName,
				Args: task.Args,
			},
			SessionID: task.SessionID,
			UserID:    task.UserID,
		})
		if !result.Success {
			if result.Error != nil {
				return fmt.Errorf("%s: %s", result.Error.Kind, result.Error.Message)
			}
			return errors.New("tool call failed")
		}
		return nil
	case TaskPrompt:
		s.mu.Lock()
		runner := s.runner
		s.mu.Unlock()
		if runner == nil {
			return errors.New("turn runner not configured")
		}
		_, err := runner.HandleTurn(ctx, task.SessionID, task.UserID, task.Prompt)
		return err
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func (s *Scheduler) publish(ctx context.Context, eventType models.EventType, task *Task, runErr error) {
	if s.publisher == nil {
		return
	}
	payload := map[string]any{
		"task_id":   task.ID,
		"kind":      string(task.Kind),
		"status":    string(task.Status),
		"run_count": task.RunCount,
	}
	if !task.NextRun.IsZero() {
		payload["next_run"] = task.NextRun.Format(time.RFC3339)
	}
	if runErr != nil {
		payload["error"] = runErr.Error()
	}
	s.publisher.Emit(ctx, eventType, payload)
}
