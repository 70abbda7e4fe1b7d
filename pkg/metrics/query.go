// Package metrics provides services for querying and aggregating cost
// analytics from Prometheus.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// TenantUsage represents aggregated token and cost metrics for one tenant.
type TenantUsage struct {
	TenantID         string  `json:"tenant_id"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService queries aggregated usage metrics from a Prometheus server
// scraping this process.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetTenantUsage retrieves aggregated token and cost metrics for one
// tenant across all models and stages.
func (q *QueryService) GetTenantUsage(ctx context.Context, tenantID string) (*TenantUsage, error) {
	usage := &TenantUsage{TenantID: tenantID}

	promptQuery := fmt.Sprintf(`sum(careflow_llm_tokens_total{tenant=%q, type="prompt"})`, tenantID)
	promptTokens, err := q.scalar(ctx, promptQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	usage.PromptTokens = int64(promptTokens)

	completionQuery := fmt.Sprintf(`sum(careflow_llm_tokens_total{tenant=%q, type="completion"})`, tenantID)
	completionTokens, err := q.scalar(ctx, completionQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	usage.CompletionTokens = int64(completionTokens)
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	costQuery := fmt.Sprintf(`sum(careflow_llm_costs_total{tenant=%q})`, tenantID)
	cost, err := q.scalar(ctx, costQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query total cost: %w", err)
	}
	usage.TotalCost = cost

	return usage, nil
}

// GetTenantUsageByModel retrieves per-model usage for one tenant, showing
// which models drove the spend.
func (q *QueryService) GetTenantUsageByModel(ctx context.Context, tenantID string) (map[string]*TenantUsage, error) {
	modelsQuery := fmt.Sprintf(`group by (model) (careflow_llm_tokens_total{tenant=%q})`, tenantID)
	modelsResult, _, err := q.queryAPI.Query(ctx, modelsQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	var models []string
	if vector, ok := modelsResult.(model.Vector); ok {
		for _, sample := range vector {
			if modelName, ok := sample.Metric["model"]; ok {
				models = append(models, string(modelName))
			}
		}
	}

	result := make(map[string]*TenantUsage, len(models))
	for _, modelName := range models {
		usage := &TenantUsage{TenantID: tenantID}

		promptQuery := fmt.Sprintf(`sum(careflow_llm_tokens_total{tenant=%q, model=%q, type="prompt"})`, tenantID, modelName)
		promptTokens, err := q.scalar(ctx, promptQuery)
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for model %s: %w", modelName, err)
		}
		usage.PromptTokens = int64(promptTokens)

		completionQuery := fmt.Sprintf(`sum(careflow_llm_tokens_total{tenant=%q, model=%q, type="completion"})`, tenantID, modelName)
		completionTokens, err := q.scalar(ctx, completionQuery)
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for model %s: %w", modelName, err)
		}
		usage.CompletionTokens = int64(completionTokens)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

		costQuery := fmt.Sprintf(`sum(careflow_llm_costs_total{tenant=%q, model=%q})`, tenantID, modelName)
		cost, err := q.scalar(ctx, costQuery)
		if err != nil {
			return nil, fmt.Errorf("failed to query cost for model %s: %w", modelName, err)
		}
		usage.TotalCost = cost

		result[modelName] = usage
	}
	return result, nil
}

// scalar runs an instant query and returns the first sample value, or
// zero when the series does not exist yet.
func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}
