// Package workflow implements the orchestration engine: an immutable
// request context threaded through a fixed stage pipeline, with routing
// after classification and resilience-wrapped calls to every external
// collaborator.
package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"careflow/pkg/memory"
)

// Route identifies which handler stage serves a request. It is set exactly
// once, by the supervisor stage.
type Route string

const (
	// RouteUnset means the supervisor has not classified the request yet.
	RouteUnset Route = ""
	// RouteInformation sends the request to the information handler.
	RouteInformation Route = "information"
	// RouteBooking sends the request to the booking handler.
	RouteBooking Route = "booking"
)

// Message is one turn of the request conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Outcome classifies how a stage finished.
type Outcome string

const (
	// OutcomeSuccess means the stage completed normally.
	OutcomeSuccess Outcome = "success"
	// OutcomeDegraded means an optional dependency failed and the stage
	// proceeded with reduced context.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeFailure means a required dependency failed and the pipeline
	// aborted at this stage.
	OutcomeFailure Outcome = "failure"
)

// StageRecord is one entry of the per-request execution trace.
type StageRecord struct {
	Stage     string        `json:"stage"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Outcome   Outcome       `json:"outcome"`
	Detail    string        `json:"detail,omitempty"`
}

// Context is the immutable per-request value threaded through the pipeline.
// Every mutation returns a fresh copy; no stage retains a reference to a
// prior context and no context is shared across concurrent requests.
type Context struct {
	requestID     string
	tenantID      string
	sessionID     string
	subjectID     string
	conversation  []Message
	memoryContext []memory.Snippet
	route         Route
	reasoning     string
	result        string
	resultSet     bool
	trace         []StageRecord
}

// NewContext builds the initial context for one inbound request. The
// conversation must carry at least the current user message; prior session
// history may precede it.
func NewContext(tenantID, sessionID, subjectID string, conversation []Message) (*Context, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id cannot be empty")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	if subjectID == "" {
		return nil, fmt.Errorf("subject id cannot be empty")
	}
	if len(conversation) == 0 {
		return nil, fmt.Errorf("conversation cannot be empty")
	}
	return &Context{
		requestID:    uuid.New().String(),
		tenantID:     tenantID,
		sessionID:    sessionID,
		subjectID:    subjectID,
		conversation: cloneSlice(conversation),
	}, nil
}

// RequestID returns the generated identifier for this request.
func (c *Context) RequestID() string { return c.requestID }

// TenantID returns the tenant identifier.
func (c *Context) TenantID() string { return c.tenantID }

// SessionID returns the session identifier.
func (c *Context) SessionID() string { return c.sessionID }

// SubjectID returns the patient identifier.
func (c *Context) SubjectID() string { return c.subjectID }

// Conversation returns a copy of the conversation so far.
func (c *Context) Conversation() []Message { return cloneSlice(c.conversation) }

// MemoryContext returns a copy of the retrieved memory snippets.
func (c *Context) MemoryContext() []memory.Snippet { return cloneSlice(c.memoryContext) }

// Route returns the route set by the supervisor, or RouteUnset.
func (c *Context) Route() Route { return c.route }

// Reasoning returns the supervisor's explanation for the routing decision.
func (c *Context) Reasoning() string { return c.reasoning }

// Result returns the final response text set by the handler stage.
func (c *Context) Result() string { return c.result }

// HasResult reports whether a handler has produced the final response.
func (c *Context) HasResult() bool { return c.resultSet }

// Trace returns a copy of the stage execution records accumulated so far.
func (c *Context) Trace() []StageRecord { return cloneSlice(c.trace) }

// LatestUserMessage returns the content of the most recent user turn, or
// the empty string when the conversation has none.
func (c *Context) LatestUserMessage() string {
	for i := len(c.conversation) - 1; i >= 0; i-- {
		if c.conversation[i].Role == "user" {
			return c.conversation[i].Content
		}
	}
	return ""
}

// WithMessage returns a copy with one message appended to the conversation.
func (c *Context) WithMessage(role, content string) *Context {
	next := c.clone()
	next.conversation = append(next.conversation, Message{Role: role, Content: content})
	return next
}

// WithMemoryContext returns a copy carrying the retrieved memory snippets.
func (c *Context) WithMemoryContext(snippets []memory.Snippet) *Context {
	next := c.clone()
	next.memoryContext = cloneSlice(snippets)
	return next
}

// WithRoute returns a copy with the route and reasoning set. Setting the
// route twice, or to anything other than information or booking, is a
// programming error surfaced to the caller.
func (c *Context) WithRoute(route Route, reasoning string) (*Context, error) {
	if c.route != RouteUnset {
		return nil, fmt.Errorf("route already set to %q", c.route)
	}
	if route != RouteInformation && route != RouteBooking {
		return nil, fmt.Errorf("invalid route %q", route)
	}
	next := c.clone()
	next.route = route
	next.reasoning = reasoning
	return next, nil
}

// WithResult returns a copy with the final response text set.
func (c *Context) WithResult(text string) *Context {
	next := c.clone()
	next.result = text
	next.resultSet = true
	return next
}

// withRecord returns a copy with one stage record appended to the trace.
// Only the orchestrator appends records.
func (c *Context) withRecord(rec StageRecord) *Context {
	next := c.clone()
	next.trace = append(next.trace, rec)
	return next
}

// clone copies the context with freshly backed slices so appends on the
// copy never alias the original.
func (c *Context) clone() *Context {
	next := *c
	next.conversation = cloneSlice(c.conversation)
	next.memoryContext = cloneSlice(c.memoryContext)
	next.trace = cloneSlice(c.trace)
	return &next
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
