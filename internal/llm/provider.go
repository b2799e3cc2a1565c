// Package llm normalizes chat-completion requests and responses across
// heterogeneous LLM backends, and owns retry/backoff for provider calls.
package llm

import (
	"context"
	"time"

	"github.com/atlasagent/atlas/internal/tools"
	"github.com/atlasagent/atlas/pkg/models"
)

// Request is one provider-agnostic completion request.
type Request struct {
	// Model overrides the provider's configured default when set.
	Model string

	// System is the system prompt. Providers that take the system prompt
	// out of band pull it from here; the rest inject it as a message.
	System string

	// Messages is the full conversation history, including prior tool
	// calls and results.
	Messages []models.ChatMessage

	// Tools are the registry specs offered to the planner.
	Tools []tools.Spec

	// MaxTokens caps the completion length; 0 uses the provider default.
	MaxTokens int
}

// Provider is the contract every LLM backend adapter satisfies. Complete
// blocks on network I/O and honors ctx cancellation. After exhausting
// retries it returns a *ProviderError.
type Provider interface {
	// Complete sends the request and parses the backend response into the
	// unified ChatResponse. Usage counters the backend omits stay zero.
	Complete(ctx context.Context, req *Request) (*models.ChatResponse, error)

	// Name returns the provider identifier, e.g. "openai".
	Name() string
}

// RetryConfig bounds the retry loop shared by all adapters.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// BaseDelay is the first retry delay; it doubles per attempt.
	BaseDelay time.Duration
	// RequestTimeout bounds each individual network attempt.
	RequestTimeout time.Duration
}

// DefaultRetryConfig matches the documented defaults: 3 retries, 500ms
// base delay, 60s request timeout.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		BaseDelay:      500 * time.Millisecond,
		RequestTimeout: 60 * time.Second,
	}
}
