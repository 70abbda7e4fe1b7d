// Package circuit provides per-dependency circuit breakers for calls to
// unreliable collaborators (LLM, memory store, tools). Each named
// dependency gets its own breaker; a failing booking tool never trips the
// breaker for the availability tool.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// State represents the current state of a circuit breaker.
type State int

// Circuit breaker states.
const (
	Closed   State = iota // Normal operation
	Open                  // Failing, reject calls
	HalfOpen              // Single probe admitted to test recovery
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines configuration for circuit breaker behavior.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"` // Consecutive failures before opening
	Cooldown         time.Duration `yaml:"cooldown"          json:"cooldown"`          // Time to wait in OPEN before probing
}

// DefaultConfig provides reasonable defaults for circuit breaker behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	FailureThreshold: 5,
	Cooldown:         30 * time.Second,
}

// OpenError is returned when a call is rejected because the breaker is not
// admitting calls. The rejection is synchronous and cheap; the dependency
// is never reached.
type OpenError struct {
	Dependency string
	State      State
	RetryIn    time.Duration
}

func (e *OpenError) Error() string {
	if e.RetryIn > 0 {
		return fmt.Sprintf("circuit breaker %q is %s, retry in %s", e.Dependency, e.State, e.RetryIn.Round(time.Millisecond))
	}
	return fmt.Sprintf("circuit breaker %q is %s", e.Dependency, e.State)
}

// IsOpenError reports whether err is a breaker rejection.
func IsOpenError(err error) bool {
	_, ok := err.(*OpenError) //nolint:errorlint // OpenError is never wrapped by the breaker itself
	return ok
}

// TransitionFunc is notified of breaker state transitions, for audit and
// metrics. Called outside the breaker lock.
type TransitionFunc func(dependency string, from, to State)

// Breaker is the failure-tracking state machine for one named dependency.
// All state transitions serialize on the mutex; call bodies execute
// outside it.
type Breaker struct {
	name         string
	config       Config
	onTransition TransitionFunc

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	now func() time.Time // Injectable clock for tests
}

// NewBreaker creates a circuit breaker for the given dependency name.
func NewBreaker(name string, config Config, onTransition TransitionFunc) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultConfig.Cooldown
	}
	return &Breaker{
		name:         name,
		config:       config,
		onTransition: onTransition,
		state:        Closed,
		now:          time.Now,
	}
}

// Execute runs call through the breaker. When the breaker is OPEN the call
// is rejected with *OpenError without reaching the dependency. While
// HALF_OPEN, exactly one probe call is admitted; concurrent callers are
// rejected until the probe resolves.
func (b *Breaker) Execute(call func() (any, error)) (any, error) {
	probe, err := b.admit()
	if err != nil {
		return nil, err
	}

	result, callErr := call()
	b.record(probe, callErr == nil)
	return result, callErr
}

// admit decides whether a call may proceed. Returns whether the admitted
// call is the half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return false, nil

	case Open:
		retryIn := b.config.Cooldown - b.now().Sub(b.openedAt)
		if retryIn > 0 {
			return false, &OpenError{Dependency: b.name, State: Open, RetryIn: retryIn}
		}
		// Cooldown elapsed: this caller becomes the probe.
		b.transitionLocked(HalfOpen)
		b.probeInFlight = true
		return true, nil

	case HalfOpen:
		if b.probeInFlight {
			return false, &OpenError{Dependency: b.name, State: HalfOpen}
		}
		b.probeInFlight = true
		return true, nil

	default:
		return false, &OpenError{Dependency: b.name, State: b.state}
	}
}

// record applies the outcome of an admitted call.
func (b *Breaker) record(probe, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probeInFlight = false
		if success {
			b.transitionLocked(Closed)
			b.consecutiveFailures = 0
		} else {
			b.transitionLocked(Open)
			b.openedAt = b.now()
		}
		return
	}

	// Non-probe call admitted while CLOSED. The breaker may have moved on
	// since admission (another caller tripped it); stale outcomes are
	// ignored, which only costs an already-counted rejection.
	if b.state != Closed {
		return
	}
	if success {
		b.consecutiveFailures = 0
		return
	}
	b.consecutiveFailures++
	if b.consecutiveFailures >= b.config.FailureThreshold {
		b.transitionLocked(Open)
		b.openedAt = b.now()
	}
}

// transitionLocked changes state and schedules the notification callback.
// Callers must hold b.mu.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		go b.onTransition(b.name, from, to)
	}
}

// CurrentState returns the breaker's state without advancing it.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure count.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Reset manually returns the breaker to CLOSED, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(Closed)
	b.consecutiveFailures = 0
	b.probeInFlight = false
}

// Status is a point-in-time snapshot for the operational surface.
type Status struct {
	Dependency          string        `json:"dependency"`
	State               string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	FailureThreshold    int           `json:"failure_threshold"`
	Cooldown            time.Duration `json:"cooldown"`
	RetryIn             time.Duration `json:"retry_in,omitempty"`
}

// Snapshot returns the breaker's current status.
func (b *Breaker) Snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{
		Dependency:          b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		FailureThreshold:    b.config.FailureThreshold,
		Cooldown:            b.config.Cooldown,
	}
	if b.state == Open {
		if retryIn := b.config.Cooldown - b.now().Sub(b.openedAt); retryIn > 0 {
			st.RetryIn = retryIn
		}
	}
	return st
}
