package workflow

import (
	"errors"
	"fmt"
)

// StageFailure means a required-dependency stage could not produce a
// context. It aborts the remaining pipeline and surfaces to the caller.
type StageFailure struct {
	Stage      string
	Dependency string
	Cause      error
}

// Error implements the error interface.
func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed on dependency %s: %v", e.Stage, e.Dependency, e.Cause)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *StageFailure) Unwrap() error { return e.Cause }

// ContractViolation means an internal invariant was broken, such as the
// supervisor classifying into zero or two routes. It is a programming
// error class failure and is never silently patched over.
type ContractViolation struct {
	Stage  string
	Detail string
}

// Error implements the error interface.
func (e *ContractViolation) Error() string {
	return fmt.Sprintf("contract violation in stage %s: %s", e.Stage, e.Detail)
}

// DegradedError is the signal an optional-dependency stage returns when it
// proceeded without its dependency. It is recorded in the trace, never
// surfaced to the caller as an error.
type DegradedError struct {
	Dependency string
	Cause      error
}

// Error implements the error interface.
func (e *DegradedError) Error() string {
	return fmt.Sprintf("degraded: dependency %s unavailable: %v", e.Dependency, e.Cause)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *DegradedError) Unwrap() error { return e.Cause }

// IsDegraded reports whether err signals degraded execution.
func IsDegraded(err error) bool {
	var degraded *DegradedError
	return errors.As(err, &degraded)
}
