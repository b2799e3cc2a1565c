// Package agent drives the conversation loop: plan with the model, execute
// tool calls, and respond once the model stops asking for tools.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atlasagent/atlas/internal/config"
	"github.com/atlasagent/atlas/internal/llm"
	"github.com/atlasagent/atlas/internal/memory"
	"github.com/atlasagent/atlas/internal/observability"
	"github.com/atlasagent/atlas/internal/tools"
	"github.com/atlasagent/atlas/pkg/models"
)

const iterationLimitNote = "You have reached the tool-use limit for this turn. " +
	"Do not request more tools; give your best final answer from what you have gathered, " +
	"and say explicitly if something is incomplete."

// Options wires the orchestrator's collaborators.
type Options struct {
	Provider   llm.Provider
	Registry   *tools.Registry
	Store      memory.Store
	Emitter    *Emitter
	Compressor Compressor
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
	Config     config.AgentConfig
}

// Orchestrator processes one user turn at a time per session. It owns the
// conversation state for the duration of a turn and persists it only at turn
// boundaries, so a canceled turn never leaves a half-written assistant
// message behind.
type Orchestrator struct {
	provider   llm.Provider
	registry   *tools.Registry
	store      memory.Store
	emitter    *Emitter
	compressor Compressor
	executor   *ToolExecutor
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	cfg        config.AgentConfig
	locks      *sessionLocks
}

// New creates an orchestrator. Provider, Registry, and Store are required.
func New(opts Options) (*Orchestrator, error) {
	if opts.Provider == nil {
		return nil, errors.New("provider is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if opts.Store == nil {
		return nil, errors.New("memory store is required")
	}
	cfg := opts.Config
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 8
	}
	compressor := opts.Compressor
	if compressor == nil {
		compressor = NewBudgetCompressor(cfg.CompressAboveMessages, cfg.CompressAboveChars)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	return &Orchestrator{
		provider:   opts.Provider,
		registry:   opts.Registry,
		store:      opts.Store,
		emitter:    opts.Emitter,
		compressor: compressor,
		executor: NewToolExecutor(opts.Registry, ExecConfig{
			Concurrency:    cfg.ToolConcurrency,
			PerCallTimeout: cfg.ToolTimeout,
		}, opts.Logger),
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  tracer,
		cfg:     cfg,
		locks:   newSessionLocks(),
	}, nil
}

// HandleTurn runs one user turn to completion and returns the assistant's
// reply. Turns for the same session are serialized; a second caller blocks
// until the first turn reaches Idle.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, userID, content string) (string, error) {
	unlock := o.locks.acquire(sessionID)
	defer unlock()

	ctx = observability.AddRequestID(ctx, uuid.NewString())
	ctx = observability.AddSessionID(ctx, sessionID)
	ctx = observability.AddUserID(ctx, userID)

	ctx, span := o.tracer.StartTurn(ctx, sessionID, userID)
	defer span.End()

	if o.metrics != nil {
		o.metrics.TurnStarted()
	}
	iterations := 0
	defer func() {
		if o.metrics != nil {
			o.metrics.TurnFinished(iterations)
		}
	}()

	o.emitter.Emit(ctx, models.EventTurnStarted, nil)
	start := time.Now()

	history, err := o.store.Load(ctx, sessionID, userID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	if len(history) == 0 && o.cfg.SystemPrompt != "" {
		history = append(history, models.ChatMessage{
			Role:      models.RoleSystem,
			Content:   o.cfg.SystemPrompt,
			CreatedAt: time.Now(),
		})
	}
	history = append(history, models.ChatMessage{
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	})

	var usage models.Usage
	specs := o.registry.Specs()

	for iterations < o.cfg.MaxIterations {
		iterations++
		lastIteration := iterations == o.cfg.MaxIterations

		if o.shouldCompress(history) {
			before := len(history)
			history = o.compressor.Compress(history)
			if o.logger != nil {
				o.logger.Debug(ctx, "history compressed",
					"before", before, "after", len(history))
			}
		}

		req := o.buildRequest(history, specs, lastIteration)
		resp, err := o.provider.Complete(ctx, req)
		if err != nil {
			return "", o.abortTurn(ctx, sessionID, userID, history, err)
		}
		usage.Add(resp.Usage)

		if resp.FinishReason == models.FinishToolCalls && len(resp.ToolCalls) > 0 && !lastIteration {
			history = append(history, models.ChatMessage{
				Role:      models.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
				CreatedAt: time.Now(),
			})

			results := o.executor.Execute(ctx, sessionID, userID, resp.ToolCalls)
			if ctx.Err() != nil {
				// Canceled mid-execution: nothing from this turn persists.
				return "", ctx.Err()
			}
			for _, res := range results {
				history = append(history, models.ChatMessage{
					Role:       models.RoleTool,
					ToolCallID: res.ToolCallID,
					Content:    res.Content(),
					IsError:    !res.Success,
					CreatedAt:  time.Now(),
				})
			}
			continue
		}

		return o.respond(ctx, sessionID, userID, history, resp.Content, usage, iterations, time.Since(start))
	}

	// Unreachable: the last iteration always takes the respond path.
	return "", errors.New("turn ended without a response")
}

// ClearSession drops the stored conversation for a session/user pair.
func (o *Orchestrator) ClearSession(ctx context.Context, sessionID, userID string) error {
	unlock := o.locks.acquire(sessionID)
	defer unlock()
	return o.store.Clear(ctx, sessionID, userID)
}

func (o *Orchestrator) shouldCompress(history []models.ChatMessage) bool {
	if o.cfg.CompressAboveMessages > 0 && len(history) > o.cfg.CompressAboveMessages {
		return true
	}
	if o.cfg.CompressAboveChars > 0 {
		total := 0
		for _, m := range history {
			total += messageChars(m)
		}
		if total > o.cfg.CompressAboveChars {
			return true
		}
	}
	return false
}

// buildRequest lifts the leading system message into Request.System so the
// provider adapters place it the way their APIs expect. On the final
// iteration tools are withheld and the model is told to synthesize.
func (o *Orchestrator) buildRequest(history []models.ChatMessage, specs []tools.Spec, lastIteration bool) *llm.Request {
	system := ""
	messages := history
	if len(history) > 0 && history[0].Role == models.RoleSystem {
		system = history[0].Content
		messages = history[1:]
	}
	if lastIteration {
		if system != "" {
			system += "\n\n"
		}
		system += iterationLimitNote
		specs = nil
	}
	return &llm.Request{
		System:   system,
		Messages: messages,
		Tools:    specs,
	}
}

// abortTurn persists the history gathered so far (user message included, no
// partial assistant message) so the user can retry, unless the turn was
// canceled — cancellation persists nothing.
func (o *Orchestrator) abortTurn(ctx context.Context, sessionID, userID string, history []models.ChatMessage, cause error) error {
	if o.metrics != nil {
		o.metrics.RecordError("agent", "provider")
	}
	o.tracer.RecordError(observability.SpanFromContext(ctx), cause)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if o.logger != nil {
		o.logger.Error(ctx, "turn aborted on provider failure", "error", cause.Error())
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.store.Save(saveCtx, sessionID, userID, history); err != nil && o.logger != nil {
		o.logger.Error(ctx, "failed to save history after abort", "error", err.Error())
	}
	return fmt.Errorf("complete conversation: %w", cause)
}

func (o *Orchestrator) respond(ctx context.Context, sessionID, userID string, history []models.ChatMessage, content string, usage models.Usage, iterations int, elapsed time.Duration) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	history = append(history, models.ChatMessage{
		Role:      models.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
	})
	if err := o.store.Save(ctx, sessionID, userID, history); err != nil {
		return "", fmt.Errorf("save history: %w", err)
	}

	o.emitter.Emit(ctx, models.EventAgentMessage, map[string]any{
		"content": content,
	})
	o.emitter.Emit(ctx, models.EventLLMUsage, map[string]any{
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
		"iterations":        iterations,
	})
	o.emitter.Emit(ctx, models.EventTurnFinished, map[string]any{
		"iterations":  iterations,
		"duration_ms": elapsed.Milliseconds(),
	})
	return content, nil
}
