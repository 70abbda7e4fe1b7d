package metrics

import (
	"context"
	"errors"
	"time"

	"careflow/pkg/agent/llm"
	"careflow/pkg/agent/llmerrors"
	"careflow/pkg/logx"
	"careflow/pkg/resilience/circuit"
	"careflow/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor extracts token usage from a request and response pair.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor counts tokens with the tiktoken encoding.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	var promptText string
	for i := range req.Messages {
		promptText += req.Messages[i].Content + "\n"
	}
	return utils.CountTokensSimple(promptText), utils.CountTokensSimple(resp.Content)
}

// CostFunc prices one request in USD from its token usage.
type CostFunc func(model string, promptTokens, completionTokens int) float64

type tenantKey struct{}

// WithTenant returns a context carrying the tenant label for metrics.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

func tenantFrom(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// Middleware returns a middleware that records latency, token usage,
// success rates, error types, and cost for LLM operations. stage labels
// the metrics with the workflow stage the wrapped client serves.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, costFn CostFunc, stage string, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.ModelName()

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				var cost float64
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
					if costFn != nil {
						cost = costFn(model, promptTokens, completionTokens)
					}
				}

				errorType := ""
				if err != nil {
					errorType = errorTypeLabel(err)
				}

				tenant := tenantFrom(ctx)
				recorder.ObserveRequest(model, tenant, stage, promptTokens, completionTokens, cost, err == nil, errorType, duration)

				if logger != nil {
					status := statusSuccess
					if err != nil {
						status = statusError
					}
					logger.Debug("llm request: model=%s tenant=%s stage=%s tokens=%d+%d status=%s duration=%dms",
						model, tenant, stage, promptTokens, completionTokens, status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.ModelName,
		)
	}
}

// errorTypeLabel classifies errors for metrics labeling.
func errorTypeLabel(err error) string {
	var open *circuit.OpenError
	switch {
	case errors.As(err, &open):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return llmerrors.TypeOf(err).String()
	}
}
