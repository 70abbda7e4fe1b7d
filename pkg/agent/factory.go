// Package agent constructs LLM clients for the configured provider.
// Raw clients come from internal/llmimpl; callers wrap them with
// middleware (metrics, resilience) via llm.Chain at wiring time.
package agent

import (
	"fmt"

	"careflow/pkg/agent/internal/llmimpl/anthropic"
	"careflow/pkg/agent/internal/llmimpl/ollama"
	"careflow/pkg/agent/internal/llmimpl/openai"
	"careflow/pkg/agent/llm"
	"careflow/pkg/config"
)

// NewClient creates a raw client for the configured provider.
func NewClient(cfg config.ProviderConfig) (llm.Client, error) {
	switch cfg.Name {
	case config.ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return anthropic.New(cfg.APIKey, cfg.Model), nil
	case config.ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return openai.New(cfg.APIKey, cfg.Model), nil
	case config.ProviderOllama:
		return ollama.New(cfg.Host, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}
