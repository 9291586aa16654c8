package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// Provider identifies a supported LLM backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai" // Any OpenAI-compatible endpoint
	ProviderAnthropic Provider = "anthropic"
)

// Config holds configuration for creating an LLM client.
type Config struct {
	Provider Provider // Backend selection, default openai
	Endpoint string   // Base URL for OpenAI-compatible endpoints
	Model    string   // Model name
	APIKey   string   // Optional for local endpoints
}

// New creates the LLM client for the configured provider.
func New(cfg *Config, logger *zap.Logger) (LLMClient, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropicClient(cfg, logger)
	case ProviderOpenAI, "":
		return NewClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}
