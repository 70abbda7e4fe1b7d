package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"careflow/pkg/agent/llm"
	"careflow/pkg/logx"
	"careflow/pkg/memory"
	"careflow/pkg/prompts"
)

// SupervisorStage classifies the request's intent and sets the route. It
// is a required-dependency stage: an LLM failure here aborts the pipeline.
type SupervisorStage struct {
	client    llm.Client
	renderer  *prompts.Renderer
	decisions DecisionSink
	logger    *logx.Logger
}

// NewSupervisorStage creates the supervisor. The client must already be
// wrapped with the resilience middleware for the "llm" dependency.
// decisions may be nil when decision transparency auditing is disabled.
func NewSupervisorStage(client llm.Client, renderer *prompts.Renderer, decisions DecisionSink) *SupervisorStage {
	return &SupervisorStage{
		client:    client,
		renderer:  renderer,
		decisions: decisions,
		logger:    logx.NewLogger("supervisor"),
	}
}

// Name implements Stage.
func (s *SupervisorStage) Name() string { return "supervisor" }

// routeDecision is the structured output the supervisor prompt demands.
type routeDecision struct {
	Next      string `json:"next"`
	Reasoning string `json:"reasoning"`
}

// Run implements Stage.
func (s *SupervisorStage) Run(ctx context.Context, rc *Context) (*Context, Directive, error) {
	system, err := s.renderer.Render(prompts.SupervisorTemplate, &prompts.TemplateData{
		SubjectID:   rc.SubjectID(),
		TenantID:    rc.TenantID(),
		MemoryBlock: memory.PromptBlock(rc.SubjectID(), rc.MemoryContext()),
	})
	if err != nil {
		return nil, DirectiveTerminate, &StageFailure{Stage: s.Name(), Dependency: DependencyLLM, Cause: err}
	}

	messages := append([]llm.CompletionMessage{llm.NewSystemMessage(system)}, conversationMessages(rc)...)
	resp, err := s.client.Complete(ctx, llm.NewCompletionRequest(messages))
	if err != nil {
		return nil, DirectiveTerminate, &StageFailure{Stage: s.Name(), Dependency: DependencyLLM, Cause: err}
	}

	var decision routeDecision
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &decision); err != nil {
		return nil, DirectiveTerminate, &ContractViolation{
			Stage:  s.Name(),
			Detail: fmt.Sprintf("unparseable routing decision: %v", err),
		}
	}

	var route Route
	var directive Directive
	switch strings.ToLower(strings.TrimSpace(decision.Next)) {
	case string(RouteInformation):
		route, directive = RouteInformation, DirectiveRouteInformation
	case string(RouteBooking):
		route, directive = RouteBooking, DirectiveRouteBooking
	default:
		return nil, DirectiveTerminate, &ContractViolation{
			Stage:  s.Name(),
			Detail: fmt.Sprintf("routing decision names no valid route: %q", decision.Next),
		}
	}

	next, err := rc.WithRoute(route, decision.Reasoning)
	if err != nil {
		return nil, DirectiveTerminate, &ContractViolation{Stage: s.Name(), Detail: err.Error()}
	}

	s.logger.Info("request %s routed to %s", rc.RequestID(), route)
	s.emitDecision(ctx, next, decision.Reasoning)
	return next, directive, nil
}

func (s *SupervisorStage) emitDecision(ctx context.Context, rc *Context, reasoning string) {
	if s.decisions == nil {
		return
	}
	err := s.decisions.EmitRoutingDecision(ctx, RoutingDecision{
		RequestID:       rc.RequestID(),
		TenantID:        rc.TenantID(),
		SubjectID:       rc.SubjectID(),
		Route:           rc.Route(),
		Reasoning:       reasoning,
		AvailableRoutes: []string{string(RouteInformation), string(RouteBooking)},
		InputSummary:    summarize(rc.LatestUserMessage(), 200),
		DecidedAt:       time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("failed to emit routing decision for request %s: %v", rc.RequestID(), err)
	}
}

// conversationMessages maps the request conversation onto completion
// messages. Unknown roles are treated as user turns.
func conversationMessages(rc *Context) []llm.CompletionMessage {
	conv := rc.Conversation()
	out := make([]llm.CompletionMessage, 0, len(conv))
	for _, m := range conv {
		switch m.Role {
		case "assistant":
			out = append(out, llm.NewAssistantMessage(m.Content))
		default:
			out = append(out, llm.NewUserMessage(m.Content))
		}
	}
	return out
}

// extractJSON strips markdown code fences and surrounding prose so the
// decision parser sees only the JSON object the prompt asked for.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return content
	}
	return content[start : end+1]
}

func summarize(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + "..."
}
