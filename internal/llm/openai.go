package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/atlasagent/atlas/internal/backoff"
	"github.com/atlasagent/atlas/internal/observability"
	"github.com/atlasagent/atlas/internal/tools"
	"github.com/atlasagent/atlas/pkg/models"
)

// OpenAIProvider adapts OpenAI-compatible chat completion backends.
//
// Format notes relative to the unified protocol:
//   - The system prompt is injected as the first message with role "system".
//   - Each tool result is its own message with role "tool" and a
//     tool_call_id reference.
//   - Tool specs become function definitions with a JSON Schema parameters
//     object.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	retry   RetryConfig
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// OpenAIOptions configures the OpenAI adapter.
type OpenAIOptions struct {
	APIKey  string
	Model   string
	BaseURL string
	Retry   RetryConfig
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// NewOpenAIProvider builds the adapter. BaseURL overrides the endpoint for
// OpenAI-compatible backends.
func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = opts.BaseURL
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.BaseDelay == 0 {
		opts.Retry = DefaultRetryConfig()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   opts.Model,
		retry:   opts.Retry,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  tracer,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete sends one non-streaming chat completion, retrying transient
// failures with exponential backoff.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*models.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	ctx, span := p.tracer.StartLLMRequest(ctx, p.Name(), model)
	defer span.End()

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: p.convertMessages(req.Messages, req.System),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	policy := backoff.Policy{
		Base:   p.retry.BaseDelay,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: 0.1,
	}

	start := time.Now()
	resp, err := backoff.Retry(ctx, policy, p.retry.MaxRetries, IsRetryable, nil,
		func() (openai.ChatCompletionResponse, error) {
			attemptCtx := ctx
			if p.retry.RequestTimeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, p.retry.RequestTimeout)
				defer cancel()
			}
			resp, err := p.client.CreateChatCompletion(attemptCtx, chatReq)
			if err != nil {
				return resp, p.wrapError(model, err)
			}
			return resp, nil
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

	result := p.parseResponse(resp)
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

func (p *OpenAIProvider) wrapError(model string, err error) error {
	providerErr := NewProviderError(p.Name(), model, err)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok {
			providerErr = providerErr.WithCode(code)
		}
		providerErr.Message = apiErr.Message
	}
	return providerErr
}

func (p *OpenAIProvider) convertMessages(messages []models.ChatMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Args),
						},
					}
				}
			}
			result = append(result, oaiMsg)

		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
	}

	return result
}

func (p *OpenAIProvider) convertTools(specs []tools.Spec) []openai.Tool {
	result := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  sanitizeSchema(spec.InputSchema, openAISchemaKeywords),
			},
		}
	}
	return result
}

func (p *OpenAIProvider) parseResponse(resp openai.ChatCompletionResponse) *models.ChatResponse {
	result := &models.ChatResponse{
		FinishReason: models.FinishStop,
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return result
	}

	choice := resp.Choices[0]
	result.Content = choice.Message.Content

	for _, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		result.ToolCalls = append(result.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	switch choice.FinishReason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		result.FinishReason = models.FinishToolCalls
	case openai.FinishReasonLength:
		result.FinishReason = models.FinishLength
	case openai.FinishReasonStop:
		result.FinishReason = models.FinishStop
	default:
		if len(result.ToolCalls) > 0 {
			result.FinishReason = models.FinishToolCalls
		}
	}
	return result
}
