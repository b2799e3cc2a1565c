package agent

import (
	"context"
	"sync"
	"time"

	"github.com/atlasagent/atlas/internal/observability"
	"github.com/atlasagent/atlas/internal/tools"
	"github.com/atlasagent/atlas/pkg/models"
)

// ExecConfig bounds concurrent tool execution within one assistant turn.
type ExecConfig struct {
	// Concurrency is the maximum number of tool calls running at once.
	// Default: 4.
	Concurrency int

	// PerCallTimeout is the deadline for one tool call. Default: 30s.
	PerCallTimeout time.Duration
}

// DefaultExecConfig returns sensible defaults for tool execution.
func DefaultExecConfig() ExecConfig {
	return ExecConfig{
		Concurrency:    4,
		PerCallTimeout: 30 * time.Second,
	}
}

// ToolExecutor dispatches a batch of tool calls through the registry with a
// concurrency limit and a per-call timeout. A hung tool handler cannot stall
// its siblings or the turn.
type ToolExecutor struct {
	registry *tools.Registry
	config   ExecConfig
	logger   *observability.Logger
}

// NewToolExecutor creates an executor. Zero config fields get defaults.
func NewToolExecutor(registry *tools.Registry, config ExecConfig, logger *observability.Logger) *ToolExecutor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerCallTimeout <= 0 {
		config.PerCallTimeout = 30 * time.Second
	}
	return &ToolExecutor{registry: registry, config: config, logger: logger}
}

// Execute runs all calls and returns exactly one result per call, in
// completion order. Every result carries the ToolCallID of its call, so
// callers can pair results back regardless of ordering. Cancellation of ctx
// drains the batch with timeout faults for calls that did not finish.
func (e *ToolExecutor) Execute(ctx context.Context, sessionID, userID string, calls []models.ToolCall) []models.ToolResult {
	if len(calls) == 0 {
		return nil
	}

	sem := make(chan struct{}, e.config.Concurrency)
	resultCh := make(chan models.ToolResult, len(calls))
	var wg sync.WaitGroup

	for _, tc := range calls {
		wg.Add(1)
		go func(call models.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				resultCh <- models.Fault(call.ID, models.FaultTimeout, "tool execution canceled")
				return
			}

			resultCh <- e.callWithTimeout(ctx, sessionID, userID, call)
		}(tc)
	}

	wg.Wait()
	close(resultCh)

	results := make([]models.ToolResult, 0, len(calls))
	for res := range resultCh {
		results = append(results, res)
	}
	return results
}

// callWithTimeout enforces the per-call deadline even when the handler does
// not honor context cancellation.
func (e *ToolExecutor) callWithTimeout(ctx context.Context, sessionID, userID string, call models.ToolCall) models.ToolResult {
	callCtx, cancel := context.WithTimeout(ctx, e.config.PerCallTimeout)
	defer cancel()

	done := make(chan models.ToolResult, 1)
	go func() {
		done <- e.registry.Call(callCtx, tools.Invocation{
			Call:      call,
			SessionID: sessionID,
			UserID:    userID,
		})
	}()

	select {
	case res := <-done:
		return res
	case <-callCtx.Done():
		go func() {
			// The handler may still finish; log the discarded result.
			<-done
			if e.logger != nil {
				e.logger.Warn(ctx, "tool finished after deadline, result discarded",
					"tool", call.Name,
					"tool_call_id", call.ID,
				)
			}
		}()
		if ctx.Err() != nil {
			return models.Fault(call.ID, models.FaultTimeout, "tool execution canceled")
		}
		return models.Fault(call.ID, models.FaultTimeout,
			"tool timed out after "+e.config.PerCallTimeout.String())
	}
}
