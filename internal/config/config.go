package config

import (
	"fmt"
	"time"

	"github.com/atlasagent/atlas/internal/ratelimit"
)

// Config is the root configuration for the Atlas agent.
type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Agent        AgentConfig        `yaml:"agent"`
	Tools        ToolsConfig        `yaml:"tools"`
	Memory       MemoryConfig       `yaml:"memory"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Integrations IntegrationsConfig `yaml:"integrations"`
}

// LLMConfig selects and configures the LLM providers.
type LLMConfig struct {
	// DefaultProvider names the provider used for completions: "openai" or
	// "anthropic".
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// MaxRetries caps retry attempts for transient provider failures.
	MaxRetries int `yaml:"max_retries"`
	// RetryBaseDelay is the delay before the first retry; doubles per attempt.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	// RequestTimeout bounds one provider network call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LLMProviderConfig holds per-provider connection settings.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	MaxTokens    int    `yaml:"max_tokens"`
}

// AgentConfig tunes the conversation orchestrator.
type AgentConfig struct {
	// SystemPrompt seeds every conversation.
	SystemPrompt string `yaml:"system_prompt"`
	// MaxIterations caps provider round-trips per turn.
	MaxIterations int `yaml:"max_iterations"`
	// ToolConcurrency bounds parallel tool calls within one assistant turn.
	ToolConcurrency int `yaml:"tool_concurrency"`
	// ToolTimeout is the per-tool-call deadline.
	ToolTimeout time.Duration `yaml:"tool_timeout"`
	// CompressAboveMessages triggers history compression when the message
	// count exceeds it.
	CompressAboveMessages int `yaml:"compress_above_messages"`
	// CompressAboveChars triggers history compression when the total
	// character estimate exceeds it.
	CompressAboveChars int `yaml:"compress_above_chars"`
}

// ToolsConfig configures the registry middleware.
type ToolsConfig struct {
	RateLimit ratelimit.Config `yaml:"rate_limit"`
}

// MemoryConfig selects the conversation store backend.
type MemoryConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the SQLite database file, used when Backend is "sqlite".
	Path string `yaml:"path"`
}

// SchedulerConfig configures the deferred-task scheduler.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the SQLite task database, used when Backend is "sqlite".
	Path string `yaml:"path"`
	// TickInterval is how often due tasks are polled.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `yaml:"endpoint"`
	// ServiceName overrides the default service name in traces.
	ServiceName string `yaml:"service_name"`
	// SampleRate is the fraction of traces recorded; 0 records everything.
	SampleRate float64 `yaml:"sample_rate"`
	// Insecure disables TLS on the collector connection.
	Insecure bool `yaml:"insecure"`
}

// IntegrationsConfig configures the startup tool loaders.
type IntegrationsConfig struct {
	EVM       EVMConfig       `yaml:"evm"`
	PriceFeed PriceFeedConfig `yaml:"pricefeed"`
	WebSearch WebSearchConfig `yaml:"websearch"`
}

// EVMConfig configures the read-only Ethereum RPC tools.
type EVMConfig struct {
	Enabled bool   `yaml:"enabled"`
	RPCURL  string `yaml:"rpc_url"`
}

// PriceFeedConfig configures the market-data tools.
type PriceFeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

// WebSearchConfig configures the web search tool.
type WebSearchConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with all defaults applied and no
// providers configured.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryBaseDelay == 0 {
		cfg.LLM.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.LLM.RequestTimeout == 0 {
		cfg.LLM.RequestTimeout = 60 * time.Second
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 8
	}
	if cfg.Agent.ToolConcurrency == 0 {
		cfg.Agent.ToolConcurrency = 4
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 30 * time.Second
	}
	if cfg.Agent.CompressAboveMessages == 0 {
		cfg.Agent.CompressAboveMessages = 60
	}
	if cfg.Agent.CompressAboveChars == 0 {
		cfg.Agent.CompressAboveChars = 120000
	}
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = "memory"
	}
	if cfg.Scheduler.Backend == "" {
		cfg.Scheduler.Backend = "memory"
	}
	if cfg.Scheduler.TickInterval == 0 {
		cfg.Scheduler.TickInterval = 15 * time.Second
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "atlas"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Memory.Backend {
	case "memory":
	case "sqlite":
		if c.Memory.Path == "" {
			return fmt.Errorf("memory.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown memory backend %q", c.Memory.Backend)
	}
	switch c.Scheduler.Backend {
	case "memory":
	case "sqlite":
		if c.Scheduler.Enabled && c.Scheduler.Path == "" {
			return fmt.Errorf("scheduler.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown scheduler backend %q", c.Scheduler.Backend)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1")
	}
	if c.Agent.ToolConcurrency < 1 {
		return fmt.Errorf("agent.tool_concurrency must be at least 1")
	}
	return nil
}
