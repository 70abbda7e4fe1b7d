// Package retry provides bounded retries with exponential backoff and
// jitter for collaborator calls. It composes with the circuit breaker:
// a rejection from an open breaker is never retried, since retrying
// against an open breaker wastes the cooldown window.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"careflow/pkg/agent/llmerrors"
	"careflow/pkg/resilience/circuit"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts    int           `yaml:"max_attempts"    json:"max_attempts"`    // Total attempts, including the first
	BaseDelay      time.Duration `yaml:"base_delay"      json:"base_delay"`      // Delay after the first failed attempt
	Multiplier     float64       `yaml:"multiplier"      json:"multiplier"`      // Exponential growth factor
	JitterFraction float64       `yaml:"jitter_fraction" json:"jitter_fraction"` // Uniform jitter in [1-f, 1+f]
}

// DefaultConfig provides reasonable defaults for retry behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:    3,
	BaseDelay:      100 * time.Millisecond,
	Multiplier:     2.0,
	JitterFraction: 0.2,
}

// ExhaustedError reports that transient failures persisted past the retry
// budget. It wraps the last underlying cause.
type ExhaustedError struct {
	Attempts  int
	LastCause error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.LastCause)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastCause
}

// Classifier determines whether an error is transient and worth retrying.
// The policy trusts this classification: non-transient errors short-circuit
// without consuming retry budget.
type Classifier func(error) bool

// IsTransient is the default classifier. Circuit rejections and context
// cancellation are never retried; classified collaborator errors follow
// their own retryability; unclassified errors are not retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var openErr *circuit.OpenError
	if errors.As(err, &openErr) {
		return false
	}

	var classified *llmerrors.Error
	if errors.As(err, &classified) {
		return classified.IsRetryable()
	}

	return false
}

// Policy encapsulates retry configuration and error classification.
type Policy struct {
	config     Config
	classifier Classifier

	randMu sync.Mutex
	rand   *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error // Injectable for tests
}

// NewPolicy creates a retry policy. A nil classifier uses IsTransient.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultConfig.BaseDelay
	}
	if config.Multiplier < 1 {
		config.Multiplier = DefaultConfig.Multiplier
	}
	if classifier == nil {
		classifier = IsTransient
	}
	return &Policy{
		config:     config,
		classifier: classifier,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // Jitter does not need crypto randomness
		sleep:      sleepCtx,
	}
}

// Config returns the policy's configuration.
func (p *Policy) Config() Config {
	return p.config
}

// ShouldRetry reports whether err is transient per the configured classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.classifier(err)
}

// Delay computes the backoff to sleep after failed attempt i (1-indexed):
// base_delay * multiplier^(i-1), scaled by a uniform jitter draw in
// [1-jitter_fraction, 1+jitter_fraction] chosen independently per attempt.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.config.BaseDelay) * math.Pow(p.config.Multiplier, float64(attempt-1))

	if f := p.config.JitterFraction; f > 0 {
		p.randMu.Lock()
		scale := 1 - f + 2*f*p.rand.Float64()
		p.randMu.Unlock()
		delay *= scale
	}

	if delay < 0 {
		delay = float64(p.config.BaseDelay)
	}
	return time.Duration(delay)
}

// sleepCtx sleeps for d or until ctx is canceled, whichever comes first.
// Retry sleeps must be cancellable: a canceled request never runs its
// backoff to completion.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
