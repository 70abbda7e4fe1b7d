package workflow

import (
	"context"

	"careflow/pkg/logx"
	"careflow/pkg/memory"
	"careflow/pkg/resilience/circuit"
	"careflow/pkg/resilience/retry"
)

// MemoryRetrievalStage queries the memory collaborator for the subject's
// history before routing. Memory is optional: a failed or open-circuit
// read degrades to an empty memory context instead of failing the request.
type MemoryRetrievalStage struct {
	store    memory.Store
	policy   *retry.Policy
	breakers *circuit.Registry
	logger   *logx.Logger
}

// NewMemoryRetrievalStage creates the retrieval stage.
func NewMemoryRetrievalStage(store memory.Store, policy *retry.Policy, breakers *circuit.Registry) *MemoryRetrievalStage {
	return &MemoryRetrievalStage{
		store:    store,
		policy:   policy,
		breakers: breakers,
		logger:   logx.NewLogger("memory-retrieval"),
	}
}

// Name implements Stage.
func (s *MemoryRetrievalStage) Name() string { return "memory_retrieval" }

// Run implements Stage.
func (s *MemoryRetrievalStage) Run(ctx context.Context, rc *Context) (*Context, Directive, error) {
	query := rc.LatestUserMessage()

	snippets, err := retry.Do(ctx, s.policy, s.breakers, DependencyMemoryRead,
		func(ctx context.Context) ([]memory.Snippet, error) {
			return s.store.Query(ctx, rc.SubjectID(), rc.TenantID(), query)
		})
	if err != nil {
		s.logger.Warn("memory retrieval degraded for request %s: %v", rc.RequestID(), err)
		return rc, DirectiveContinue, &DegradedError{Dependency: DependencyMemoryRead, Cause: err}
	}

	s.logger.Debug("retrieved %d memory snippets for subject %s", len(snippets), rc.SubjectID())
	return rc.WithMemoryContext(snippets), DirectiveContinue, nil
}
