package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"careflow/pkg/agent/llmerrors"
	"careflow/pkg/logx"
)

// ClientConfig configures the HTTP memory service client.
type ClientConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Limit   int           `yaml:"limit,omitempty" json:"limit,omitempty"`
}

// Client talks to an external memory service over HTTP. The zero value is
// not usable; construct with NewClient.
type Client struct {
	config ClientConfig
	http   *http.Client
	logger *logx.Logger
}

// NewClient creates a memory service client. When cfg.Enabled is false the
// client still constructs but every Query returns no snippets and every
// Store is a no-op, so callers need no separate disabled path.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logx.NewLogger("memory"),
	}
}

// Enabled reports whether the memory service is configured for use.
func (c *Client) Enabled() bool { return c.config.Enabled }

type searchRequest struct {
	SubjectID string `json:"subject_id"`
	TenantID  string `json:"tenant_id"`
	Query     string `json:"query"`
	Limit     int    `json:"limit"`
}

type searchResponse struct {
	Results []Snippet `json:"results"`
}

type storeRequest struct {
	SubjectID string `json:"subject_id"`
	TenantID  string `json:"tenant_id"`
	Facts     []Fact `json:"facts"`
}

// Query implements Store by POSTing a semantic search to the memory service.
func (c *Client) Query(ctx context.Context, subjectID, tenantID, query string) ([]Snippet, error) {
	if !c.config.Enabled {
		return nil, nil
	}
	var resp searchResponse
	err := c.post(ctx, "/v1/memories/search", searchRequest{
		SubjectID: subjectID,
		TenantID:  tenantID,
		Query:     query,
		Limit:     c.config.Limit,
	}, &resp)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("memory search for subject %s returned %d snippets", subjectID, len(resp.Results))
	return resp.Results, nil
}

// Store implements Store by writing extracted facts back to the service.
func (c *Client) Store(ctx context.Context, subjectID, tenantID string, facts []Fact) error {
	if !c.config.Enabled || len(facts) == 0 {
		return nil
	}
	err := c.post(ctx, "/v1/memories", storeRequest{
		SubjectID: subjectID,
		TenantID:  tenantID,
		Facts:     facts,
	}, nil)
	if err != nil {
		return err
	}
	c.logger.Debug("stored %d facts for subject %s", len(facts), subjectID)
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding memory request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building memory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return llmerrors.NewWithCause(llmerrors.ErrorTypeTransient, err, "memory service unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return llmerrors.NewWithStatus(llmerrors.ClassifyStatus(resp.StatusCode), resp.StatusCode,
			fmt.Sprintf("memory service returned %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding memory response: %w", err)
	}
	return nil
}
