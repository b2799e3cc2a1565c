package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/atlasagent/atlas/internal/backoff"
	"github.com/atlasagent/atlas/internal/observability"
	"github.com/atlasagent/atlas/internal/tools"
	"github.com/atlasagent/atlas/pkg/models"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider adapts the Anthropic Messages API.
//
// Format notes relative to the unified protocol:
//   - The system prompt travels out of band in params.System, never as a
//     message.
//   - Assistant tool calls become tool_use content blocks; tool results
//     become tool_result blocks inside user messages.
//   - stop_reason maps end_turn→stop, tool_use→tool_calls,
//     max_tokens→length.
type AnthropicProvider struct {
	client  anthropic.Client
	model   string
	retry   RetryConfig
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// AnthropicOptions configures the Anthropic adapter.
type AnthropicOptions struct {
	APIKey  string
	Model   string
	BaseURL string
	Retry   RetryConfig
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// NewAnthropicProvider builds the adapter.
func NewAnthropicProvider(opts AnthropicOptions) *AnthropicProvider {
	// retries are handled by our backoff layer, not the SDK
	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey), option.WithMaxRetries(0)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.BaseDelay == 0 {
		opts.Retry = DefaultRetryConfig()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	return &AnthropicProvider{
		client:  anthropic.NewClient(clientOpts...),
		model:   opts.Model,
		retry:   opts.Retry,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  tracer,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete sends one non-streaming Messages request, retrying transient
// failures with exponential backoff.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*models.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	ctx, span := p.tracer.StartLLMRequest(ctx, p.Name(), model)
	defer span.End()

	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, NewProviderError(p.Name(), model, err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		converted, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, NewProviderError(p.Name(), model, err)
		}
		params.Tools = converted
	}

	policy := backoff.Policy{
		Base:   p.retry.BaseDelay,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: 0.1,
	}

	start := time.Now()
	message, err := backoff.Retry(ctx, policy, p.retry.MaxRetries, IsRetryable, nil,
		func() (*anthropic.Message, error) {
			attemptCtx := ctx
			if p.retry.RequestTimeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, p.retry.RequestTimeout)
				defer cancel()
			}
			message, err := p.client.Messages.New(attemptCtx, params)
			if err != nil {
				return nil, p.wrapError(model, err)
			}
			return message, nil
		})
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordLLMRequest(p.Name(), model, "error", time.Since(start).Seconds(), 0, 0)
		}
		p.tracer.RecordError(span, err)
		var providerErr *ProviderError
		if errors.As(err, &providerErr) {
			return nil, providerErr
		}
		return nil, NewProviderError(p.Name(), model, err)
	}

	result := p.parseResponse(message)
	if p.metrics != nil {
		p.metrics.RecordLLMRequest(p.Name(), model, "success", time.Since(start).Seconds(),
			result.Usage.PromptTokens, result.Usage.CompletionTokens)
	}
	p.tracer.SetAttributes(span,
		"llm.prompt_tokens", result.Usage.PromptTokens,
		"llm.completion_tokens", result.Usage.CompletionTokens,
	)
	return result, nil
}

func (p *AnthropicProvider) wrapError(model string, err error) error {
	providerErr := NewProviderError(p.Name(), model, err)
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr = providerErr.WithStatus(apiErr.StatusCode)
	}
	return providerErr
}

// convertMessages maps unified history into Anthropic message params.
// System messages are skipped; the tool role maps to a user message
// carrying a tool_result block.
func (p *AnthropicProvider) convertMessages(messages []models.ChatMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError))
			result = append(result, anthropic.NewUserMessage(content...))
			continue
		}

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, toolCall := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(rawOrEmptyObject(toolCall.Args), &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input for %s: %w", toolCall.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(toolCall.ID, input, toolCall.Name))
		}
		if len(content) == 0 {
			content = append(content, anthropic.NewTextBlock(""))
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func (p *AnthropicProvider) convertTools(specs []tools.Spec) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(specs))

	for _, spec := range specs {
		sanitized, err := json.Marshal(sanitizeSchema(spec.InputSchema, anthropicSchemaKeywords))
		if err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", spec.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(sanitized, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", spec.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", spec.Name)
		}
		toolParam.OfTool.Description = anthropic.String(spec.Description)
		result = append(result, toolParam)
	}

	return result, nil
}

func (p *AnthropicProvider) parseResponse(message *anthropic.Message) *models.ChatResponse {
	result := &models.ChatResponse{
		Usage: models.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
		},
	}
	result.Usage.TotalTokens = result.Usage.PromptTokens + result.Usage.CompletionTokens

	for _, block := range message.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			args := json.RawMessage(block.Input)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			result.ToolCalls = append(result.ToolCalls, models.ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: args,
			})
		}
	}

	switch message.StopReason {
	case anthropic.StopReasonToolUse:
		result.FinishReason = models.FinishToolCalls
	case anthropic.StopReasonMaxTokens:
		result.FinishReason = models.FinishLength
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		result.FinishReason = models.FinishStop
	default:
		if len(result.ToolCalls) > 0 {
			result.FinishReason = models.FinishToolCalls
		} else {
			result.FinishReason = models.FinishStop
		}
	}
	return result
}

func rawOrEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
