package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settingsYAML = `
provider:
  name: anthropic
  model: claude-sonnet-4
  api_key: ${TEST_API_KEY}
resilience:
  defaults:
    breaker:
      failure_threshold: 4
      cooldown: 45s
    retry:
      max_attempts: 3
      base_delay: 200ms
      multiplier: 2.0
      jitter_fraction: 0.1
  dependencies:
    llm:
      breaker:
        failure_threshold: 2
        cooldown: 10s
      retry:
        max_attempts: 5
        base_delay: 100ms
        multiplier: 1.5
        jitter_fraction: 0.2
workflow:
  max_reasoning_steps: 6
  request_timeout: 90s
database:
  path: data/schedule.db
pricing:
  claude-sonnet-4:
    prompt_per_mtok: 3.0
    completion_per_mtok: 15.0
`

func writeSettings(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")
	path := writeSettings(t, settingsYAML)

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, settings.Provider.Name)
	assert.Equal(t, "sk-test-123", settings.Provider.APIKey, "env substitution should resolve the key")
	assert.Equal(t, 6, settings.Workflow.MaxReasoningSteps)
	assert.Equal(t, 90*time.Second, settings.Workflow.RequestTimeout)
	assert.Equal(t, 4, settings.Resilience.Defaults.Breaker.FailureThreshold)

	overrides := settings.Resilience.BreakerOverrides()
	require.Contains(t, overrides, "llm")
	assert.Equal(t, 2, overrides["llm"].FailureThreshold)
	assert.Equal(t, 10*time.Second, overrides["llm"].Cooldown)

	// Values the file omits come from defaults.
	assert.Equal(t, 4096, settings.Provider.MaxTokens)
	assert.Equal(t, ":8080", settings.Server.ListenAddr)
	assert.Equal(t, "logs", settings.Audit.Dir)
}

func TestLoadEnvironmentOverlay(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")
	t.Setenv("CAREFLOW_PROVIDER_MODEL", "claude-opus-4")
	t.Setenv("CAREFLOW_LISTEN_ADDR", ":9090")
	path := writeSettings(t, settingsYAML)

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "claude-opus-4", settings.Provider.Model, "environment should win over the file")
	assert.Equal(t, ":9090", settings.Server.ListenAddr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeSettings(t, "provider: [not: a: mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Settings {
		s := Settings{}
		s.Provider.Name = ProviderOpenAI
		s.Provider.Model = "gpt-4o"
		s.Provider.APIKey = "sk-test"
		s.Database.Path = "data/schedule.db"
		s.applyDefaults()
		return s
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"missing provider", func(s *Settings) { s.Provider.Name = "" }, "provider.name"},
		{"unknown provider", func(s *Settings) { s.Provider.Name = "cohere" }, "unknown provider"},
		{"missing model", func(s *Settings) { s.Provider.Model = "" }, "provider.model"},
		{"missing database path", func(s *Settings) { s.Database.Path = "" }, "database.path"},
		{"zero timeout", func(s *Settings) { s.Workflow.RequestTimeout = 0 }, "request_timeout"},
		{"zero threshold", func(s *Settings) { s.Resilience.Defaults.Breaker.FailureThreshold = 0 }, "failure_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCostFor(t *testing.T) {
	s := Settings{Pricing: map[string]ModelPricing{
		"claude-sonnet-4": {PromptPerMTok: 3.0, CompletionPerMTok: 15.0},
	}}

	cost := s.CostFor("claude-sonnet-4", 1000, 500)
	assert.InDelta(t, 0.003+0.0075, cost, 1e-9)

	assert.Zero(t, s.CostFor("unknown-model", 1000, 500))
}

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{
		"provider_api_key": "sk-live-abc",
		"redis_password":   "hunter2",
	}

	require.NoError(t, EncryptSecretsFile(dir, "correct horse", secrets))
	require.True(t, SecretsFileExists(dir))

	info, err := os.Stat(filepath.Join(dir, secretsFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := DecryptSecretsFile(dir, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, secrets, got)

	_, err = DecryptSecretsFile(dir, "wrong password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")
}

func TestSecretsCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, secretsFileName)
	require.NoError(t, os.WriteFile(path, []byte("too short"), 0o600))

	_, err := DecryptSecretsFile(dir, "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupted")
}
