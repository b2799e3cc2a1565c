package llm

import (
	"fmt"

	"github.com/atlasagent/atlas/internal/config"
	"github.com/atlasagent/atlas/internal/observability"
)

// New selects and constructs the configured provider at startup.
func New(cfg config.LLMConfig, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (Provider, error) {
	name := cfg.DefaultProvider
	providerCfg, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("no configuration for provider %q", name)
	}
	if providerCfg.APIKey == "" {
		return nil, fmt.Errorf("provider %q requires an api_key", name)
	}

	retry := RetryConfig{
		MaxRetries:     cfg.MaxRetries,
		BaseDelay:      cfg.RetryBaseDelay,
		RequestTimeout: cfg.RequestTimeout,
	}

	switch name {
	case "openai":
		return NewOpenAIProvider(OpenAIOptions{
			APIKey:  providerCfg.APIKey,
			Model:   providerCfg.DefaultModel,
			BaseURL: providerCfg.BaseURL,
			Retry:   retry,
			Logger:  logger,
			Metrics: metrics,
			Tracer:  tracer,
		}), nil
	case "anthropic":
		return NewAnthropicProvider(AnthropicOptions{
			APIKey:  providerCfg.APIKey,
			Model:   providerCfg.DefaultModel,
			BaseURL: providerCfg.BaseURL,
			Retry:   retry,
			Logger:  logger,
			Metrics: metrics,
			Tracer:  tracer,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
