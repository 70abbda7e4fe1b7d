package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"careflow/pkg/agent/llm"
	"careflow/pkg/logx"
	"careflow/pkg/memory"
	"careflow/pkg/prompts"
	"careflow/pkg/resilience/circuit"
	"careflow/pkg/resilience/retry"
	"careflow/pkg/tools"
)

// HandlerStage runs the iterative reason-then-act loop for one route: the
// model proposes tool calls, the stage executes them through the
// resilience layer and feeds results back, until the model produces a
// final answer or the step limit is reached.
type HandlerStage struct {
	name     string
	client   llm.Client
	registry *tools.Registry
	renderer *prompts.Renderer
	template prompts.StageTemplate
	maxSteps int
	policy   *retry.Policy
	breakers *circuit.Registry
	logger   *logx.Logger
}

// NewInformationHandler creates the handler serving availability and FAQ
// questions.
func NewInformationHandler(client llm.Client, registry *tools.Registry, renderer *prompts.Renderer, maxSteps int, policy *retry.Policy, breakers *circuit.Registry) *HandlerStage {
	return newHandler("information_handler", prompts.InformationTemplate, client, registry, renderer, maxSteps, policy, breakers)
}

// NewBookingHandler creates the handler serving booking mutations.
func NewBookingHandler(client llm.Client, registry *tools.Registry, renderer *prompts.Renderer, maxSteps int, policy *retry.Policy, breakers *circuit.Registry) *HandlerStage {
	return newHandler("booking_handler", prompts.BookingTemplate, client, registry, renderer, maxSteps, policy, breakers)
}

func newHandler(name string, template prompts.StageTemplate, client llm.Client, registry *tools.Registry, renderer *prompts.Renderer, maxSteps int, policy *retry.Policy, breakers *circuit.Registry) *HandlerStage {
	if maxSteps <= 0 {
		maxSteps = 8
	}
	return &HandlerStage{
		name:     name,
		client:   client,
		registry: registry,
		renderer: renderer,
		template: template,
		maxSteps: maxSteps,
		policy:   policy,
		breakers: breakers,
		logger:   logx.NewLogger(name),
	}
}

// Name implements Stage.
func (s *HandlerStage) Name() string { return s.name }

// Run implements Stage.
func (s *HandlerStage) Run(ctx context.Context, rc *Context) (*Context, Directive, error) {
	// Booking mutations read the patient identifier from the call context
	// so the model cannot act on someone else's schedule.
	ctx = tools.WithSubjectID(ctx, rc.SubjectID())

	system, err := s.renderer.Render(s.template, &prompts.TemplateData{
		SubjectID:   rc.SubjectID(),
		TenantID:    rc.TenantID(),
		MemoryBlock: memory.PromptBlock(rc.SubjectID(), rc.MemoryContext()),
		Reasoning:   rc.Reasoning(),
	})
	if err != nil {
		return nil, DirectiveTerminate, &StageFailure{Stage: s.name, Dependency: DependencyLLM, Cause: err}
	}

	messages := append([]llm.CompletionMessage{llm.NewSystemMessage(system)}, conversationMessages(rc)...)
	definitions := s.registry.Definitions()

	lastContent := ""
	for step := 1; step <= s.maxSteps; step++ {
		req := llm.NewCompletionRequest(messages)
		req.Tools = definitions

		resp, err := s.client.Complete(ctx, req)
		if err != nil {
			return nil, DirectiveTerminate, &StageFailure{Stage: s.name, Dependency: DependencyLLM, Cause: err}
		}
		if resp.Content != "" {
			lastContent = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			result := resp.Content
			s.logger.Debug("request %s resolved in %d step(s)", rc.RequestID(), step)
			return rc.WithMessage("assistant", result).WithResult(result), DirectiveContinue, nil
		}

		messages = append(messages, llm.CompletionMessage{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			content, err := s.invokeTool(ctx, call)
			if err != nil {
				return nil, DirectiveTerminate, err
			}
			results = append(results, llm.ToolResult{ToolCallID: call.ID, Content: content})
		}
		messages = append(messages, llm.CompletionMessage{Role: llm.RoleUser, ToolResults: results})
	}

	// Step budget spent. Return a best-effort partial response instead of
	// looping forever; the caller still gets a complete trace.
	partial := lastContent
	if partial == "" {
		partial = "I was unable to fully complete your request within the allotted steps. Please try again or rephrase your request."
	}
	s.logger.Warn("request %s hit the %d step limit, returning partial response", rc.RequestID(), s.maxSteps)
	return rc.WithMessage("assistant", partial).WithResult(partial), DirectiveContinue, nil
}

// invokeTool executes one requested tool call through the resilience
// layer. Each tool is its own named dependency so a failing booking
// mutation never trips the availability lookup breaker.
func (s *HandlerStage) invokeTool(ctx context.Context, call llm.ToolCall) (string, error) {
	tool, err := s.registry.Get(call.Name)
	if err != nil {
		return "", &ContractViolation{Stage: s.name, Detail: fmt.Sprintf("model requested unknown tool %q", call.Name)}
	}

	dependency := ToolDependency(call.Name)
	out, err := retry.Do(ctx, s.policy, s.breakers, dependency, func(ctx context.Context) (any, error) {
		return tool.Exec(ctx, call.Parameters)
	})
	if err != nil {
		return "", &StageFailure{Stage: s.name, Dependency: dependency, Cause: err}
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return "", &StageFailure{Stage: s.name, Dependency: dependency, Cause: fmt.Errorf("encoding tool result: %w", err)}
	}
	return string(encoded), nil
}
