// Package resilience wires retry and circuit breaking into the LLM
// middleware chain. Non-LLM collaborators (memory, tools) call
// retry.Do directly; the LLM path goes through this middleware so the
// whole chain stays composable.
package resilience

import (
	"context"

	"careflow/pkg/agent/llm"
	"careflow/pkg/resilience/circuit"
	"careflow/pkg/resilience/retry"
)

// Middleware returns an llm.Middleware that routes every completion through
// retry.Do against the named dependency's breaker. If the circuit is OPEN,
// requests are rejected immediately without calling the underlying client.
func Middleware(policy *retry.Policy, breakers *circuit.Registry, dependency string) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				return retry.Do(ctx, policy, breakers, dependency,
					func(ctx context.Context) (llm.CompletionResponse, error) {
						return next.Complete(ctx, req)
					})
			},
			next.ModelName,
		)
	}
}
