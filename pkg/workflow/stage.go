package workflow

import (
	"context"
	"time"
)

// Dependency names tracked by the resilience layer. Each tool adds its own
// name via ToolDependency so one failing tool never trips another's breaker.
const (
	// DependencyLLM is the language model completion dependency.
	DependencyLLM = "llm"
	// DependencyMemoryRead is the memory retrieval dependency.
	DependencyMemoryRead = "memory_read"
	// DependencyMemoryWrite is the memory write-back dependency.
	DependencyMemoryWrite = "memory_write"
)

// ToolDependency returns the resilience dependency name for a tool.
func ToolDependency(toolName string) string { return "tool:" + toolName }

// Directive is the routing signal a stage returns to the orchestrator.
type Directive int

const (
	// DirectiveContinue advances to the next stage in pipeline order.
	DirectiveContinue Directive = iota
	// DirectiveRouteInformation selects the information handler.
	DirectiveRouteInformation
	// DirectiveRouteBooking selects the booking handler.
	DirectiveRouteBooking
	// DirectiveTerminate stops the pipeline.
	DirectiveTerminate
)

// String returns the directive name for logs and traces.
func (d Directive) String() string {
	switch d {
	case DirectiveContinue:
		return "continue"
	case DirectiveRouteInformation:
		return "route_information"
	case DirectiveRouteBooking:
		return "route_booking"
	case DirectiveTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Stage is one step of the fixed workflow. Run consumes the current
// request context and returns the successor context plus a directive.
// Stages touch external collaborators only through the resilience layer
// and never mutate shared process state.
type Stage interface {
	// Name identifies the stage in traces and logs.
	Name() string

	// Run executes the stage. An optional-dependency stage signals
	// degradation by returning a usable context together with a
	// *DegradedError; a required-dependency stage returns a *StageFailure
	// or *ContractViolation, aborting the pipeline.
	Run(ctx context.Context, rc *Context) (*Context, Directive, error)
}

// TraceRecord is the immutable per-request summary the orchestrator emits
// to the event sink once a request terminates.
type TraceRecord struct {
	RequestID string        `json:"request_id"`
	TenantID  string        `json:"tenant_id"`
	SessionID string        `json:"session_id"`
	SubjectID string        `json:"subject_id"`
	Route     Route         `json:"route"`
	Reasoning string        `json:"reasoning,omitempty"`
	Stages    []StageRecord `json:"stages"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// EventSink receives terminal trace records. Implementations must be safe
// for concurrent use; the orchestrator emits from many in-flight requests.
type EventSink interface {
	EmitTrace(ctx context.Context, rec TraceRecord) error
}

// RoutingDecision captures one supervisor classification for decision
// transparency auditing.
type RoutingDecision struct {
	RequestID       string    `json:"request_id"`
	TenantID        string    `json:"tenant_id"`
	SubjectID       string    `json:"subject_id"`
	Route           Route     `json:"route"`
	Reasoning       string    `json:"reasoning"`
	AvailableRoutes []string  `json:"available_routes"`
	InputSummary    string    `json:"input_summary"`
	DecidedAt       time.Time `json:"decided_at"`
}

// DecisionSink receives supervisor routing decisions.
type DecisionSink interface {
	EmitRoutingDecision(ctx context.Context, d RoutingDecision) error
}
