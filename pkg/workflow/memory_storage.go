package workflow

import (
	"context"
	"encoding/json"

	"careflow/pkg/agent/llm"
	"careflow/pkg/logx"
	"careflow/pkg/memory"
	"careflow/pkg/prompts"
	"careflow/pkg/resilience/circuit"
	"careflow/pkg/resilience/retry"
)

// MemoryStorageStage extracts durable facts from the completed exchange
// and writes them back to memory. The stage is optional on both legs:
// an extraction or write failure degrades, the request still returns its
// result, and the trace records the write failure.
type MemoryStorageStage struct {
	store    memory.Store
	client   llm.Client
	renderer *prompts.Renderer
	policy   *retry.Policy
	breakers *circuit.Registry
	logger   *logx.Logger
}

// NewMemoryStorageStage creates the write-back stage. The client must
// already be wrapped with the resilience middleware for the "llm"
// dependency.
func NewMemoryStorageStage(store memory.Store, client llm.Client, renderer *prompts.Renderer, policy *retry.Policy, breakers *circuit.Registry) *MemoryStorageStage {
	return &MemoryStorageStage{
		store:    store,
		client:   client,
		renderer: renderer,
		policy:   policy,
		breakers: breakers,
		logger:   logx.NewLogger("memory-storage"),
	}
}

// Name implements Stage.
func (s *MemoryStorageStage) Name() string { return "memory_storage" }

type extractedFacts struct {
	Facts []memory.Fact `json:"facts"`
}

// Run implements Stage.
func (s *MemoryStorageStage) Run(ctx context.Context, rc *Context) (*Context, Directive, error) {
	if !rc.HasResult() {
		return rc, DirectiveContinue, nil
	}

	prompt, err := s.renderer.Render(prompts.MemoryExtractionTemplate, &prompts.TemplateData{
		SubjectID: rc.SubjectID(),
		Request:   rc.LatestUserMessage(),
		Response:  rc.Result(),
	})
	if err != nil {
		return rc, DirectiveContinue, &DegradedError{Dependency: DependencyMemoryWrite, Cause: err}
	}

	resp, err := s.client.Complete(ctx, llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewUserMessage(prompt),
	}))
	if err != nil {
		s.logger.Warn("fact extraction degraded for request %s: %v", rc.RequestID(), err)
		return rc, DirectiveContinue, &DegradedError{Dependency: DependencyLLM, Cause: err}
	}

	var extracted extractedFacts
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &extracted); err != nil {
		// An unparseable extraction loses only the write-back, never the
		// request. Log it and move on.
		s.logger.Warn("discarding unparseable fact extraction for request %s: %v", rc.RequestID(), err)
		return rc, DirectiveContinue, nil
	}
	if len(extracted.Facts) == 0 {
		s.logger.Debug("no durable facts in request %s", rc.RequestID())
		return rc, DirectiveContinue, nil
	}

	_, err = retry.Do(ctx, s.policy, s.breakers, DependencyMemoryWrite,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.store.Store(ctx, rc.SubjectID(), rc.TenantID(), extracted.Facts)
		})
	if err != nil {
		s.logger.Warn("memory write degraded for request %s: %v", rc.RequestID(), err)
		return rc, DirectiveContinue, &DegradedError{Dependency: DependencyMemoryWrite, Cause: err}
	}

	s.logger.Info("stored %d facts for subject %s", len(extracted.Facts), rc.SubjectID())
	return rc, DirectiveContinue, nil
}
