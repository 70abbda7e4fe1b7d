// Package config defines the settings surface for the service: provider
// selection, per-dependency resilience tuning, workflow limits, and the
// collaborator endpoints. Settings load from a YAML file with environment
// variable substitution and an environment overlay.
package config

import (
	"fmt"
	"time"

	"careflow/pkg/memory"
	"careflow/pkg/resilience/circuit"
	"careflow/pkg/resilience/retry"
	"careflow/pkg/session"
)

// Supported LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// ProviderConfig selects and tunes the LLM provider.
type ProviderConfig struct {
	Name        string  `yaml:"name" envconfig:"PROVIDER_NAME"`
	Model       string  `yaml:"model" envconfig:"PROVIDER_MODEL"`
	APIKey      string  `yaml:"api_key,omitempty" envconfig:"PROVIDER_API_KEY"`
	Host        string  `yaml:"host,omitempty" envconfig:"PROVIDER_HOST"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Temperature float32 `yaml:"temperature,omitempty"`
}

// DependencyResilience bundles the breaker and retry tuning for one
// dependency.
type DependencyResilience struct {
	Breaker circuit.Config `yaml:"breaker"`
	Retry   retry.Config   `yaml:"retry"`
}

// ResilienceConfig is the per-dependency resilience surface. Dependencies
// absent from the map use the defaults.
type ResilienceConfig struct {
	Defaults     DependencyResilience            `yaml:"defaults"`
	Dependencies map[string]DependencyResilience `yaml:"dependencies,omitempty"`
}

// BreakerOverrides flattens the per-dependency breaker configs into the
// shape the circuit registry takes.
func (r *ResilienceConfig) BreakerOverrides() map[string]circuit.Config {
	if len(r.Dependencies) == 0 {
		return nil
	}
	overrides := make(map[string]circuit.Config, len(r.Dependencies))
	for name, dep := range r.Dependencies {
		overrides[name] = dep.Breaker
	}
	return overrides
}

// WorkflowConfig bounds request processing.
type WorkflowConfig struct {
	MaxReasoningSteps int           `yaml:"max_reasoning_steps"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	ListenAddr    string `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`
	PrometheusURL string `yaml:"prometheus_url,omitempty" envconfig:"PROMETHEUS_URL"`
}

// AuditConfig configures the JSONL audit trail.
type AuditConfig struct {
	Dir string `yaml:"dir"`
}

// DatabaseConfig configures the schedule database.
type DatabaseConfig struct {
	Path string `yaml:"path" envconfig:"DATABASE_PATH"`
}

// ModelPricing is the USD cost per million tokens for one model.
type ModelPricing struct {
	PromptPerMTok     float64 `yaml:"prompt_per_mtok"`
	CompletionPerMTok float64 `yaml:"completion_per_mtok"`
}

// Settings is the root configuration document.
type Settings struct {
	Provider   ProviderConfig          `yaml:"provider"`
	Resilience ResilienceConfig        `yaml:"resilience"`
	Workflow   WorkflowConfig          `yaml:"workflow"`
	Memory     memory.ClientConfig     `yaml:"memory"`
	Session    session.Config          `yaml:"session"`
	Server     ServerConfig            `yaml:"server"`
	Audit      AuditConfig             `yaml:"audit"`
	Database   DatabaseConfig          `yaml:"database"`
	Pricing    map[string]ModelPricing `yaml:"pricing,omitempty"`
}

// CostFor prices one request from the pricing table. Unknown models cost
// zero rather than failing the request path.
func (s *Settings) CostFor(model string, promptTokens, completionTokens int) float64 {
	pricing, ok := s.Pricing[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1e6*pricing.PromptPerMTok +
		float64(completionTokens)/1e6*pricing.CompletionPerMTok
}

// Validate checks the settings for obvious misconfiguration. The provider
// API key is not checked here; it may arrive later from the encrypted
// secrets file, and client construction rejects a missing key.
func (s *Settings) Validate() error {
	switch s.Provider.Name {
	case ProviderAnthropic, ProviderOpenAI, ProviderOllama:
	case "":
		return fmt.Errorf("provider.name is required")
	default:
		return fmt.Errorf("unknown provider %q", s.Provider.Name)
	}
	if s.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}
	if s.Workflow.MaxReasoningSteps <= 0 {
		return fmt.Errorf("workflow.max_reasoning_steps must be positive")
	}
	if s.Workflow.RequestTimeout <= 0 {
		return fmt.Errorf("workflow.request_timeout must be positive")
	}
	if s.Resilience.Defaults.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("resilience.defaults.breaker.failure_threshold must be positive")
	}
	if s.Resilience.Defaults.Breaker.Cooldown <= 0 {
		return fmt.Errorf("resilience.defaults.breaker.cooldown must be positive")
	}
	if s.Resilience.Defaults.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("resilience.defaults.retry.max_attempts must be positive")
	}
	if s.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

// applyDefaults fills in values the settings file may omit.
func (s *Settings) applyDefaults() {
	if s.Provider.MaxTokens <= 0 {
		s.Provider.MaxTokens = 4096
	}
	if s.Workflow.MaxReasoningSteps <= 0 {
		s.Workflow.MaxReasoningSteps = 8
	}
	if s.Workflow.RequestTimeout <= 0 {
		s.Workflow.RequestTimeout = 2 * time.Minute
	}
	if s.Resilience.Defaults.Breaker.FailureThreshold <= 0 {
		s.Resilience.Defaults.Breaker = circuit.DefaultConfig
	}
	if s.Resilience.Defaults.Retry.MaxAttempts <= 0 {
		s.Resilience.Defaults.Retry = retry.DefaultConfig
	}
	if s.Server.ListenAddr == "" {
		s.Server.ListenAddr = ":8080"
	}
	if s.Audit.Dir == "" {
		s.Audit.Dir = "logs"
	}
}
