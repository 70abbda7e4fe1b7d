// Package api exposes the HTTP surface: request submission, breaker
// status, tenant usage, health, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	llmmetrics "careflow/pkg/agent/middleware/metrics"
	"careflow/pkg/logx"
	"careflow/pkg/metrics"
	"careflow/pkg/resilience/circuit"
	"careflow/pkg/session"
	"careflow/pkg/version"
	"careflow/pkg/workflow"
)

// Server handles the HTTP API. Sessions and usage are optional
// collaborators; the corresponding endpoints degrade when absent.
type Server struct {
	orchestrator *workflow.Orchestrator
	sessions     *session.Store
	breakers     *circuit.Registry
	usage        *metrics.QueryService
	logger       *logx.Logger
}

// NewServer wires the API server with its collaborators.
func NewServer(orchestrator *workflow.Orchestrator, sessions *session.Store, breakers *circuit.Registry, usage *metrics.QueryService) *Server {
	return &Server{
		orchestrator: orchestrator,
		sessions:     sessions,
		breakers:     breakers,
		usage:        usage,
		logger:       logx.NewLogger("api"),
	}
}

// RegisterRoutes attaches all endpoints to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/requests", s.handleRequest)
	mux.HandleFunc("/v1/breakers", s.handleBreakers)
	mux.HandleFunc("/v1/usage/", s.handleUsage)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
}

// requestPayload is the body of POST /v1/requests.
type requestPayload struct {
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	SubjectID string `json:"subject_id"`
	Message   string `json:"message"`
}

// requestResponse is the body returned for a processed request.
type requestResponse struct {
	RequestID string                 `json:"request_id"`
	Route     workflow.Route         `json:"route"`
	Result    string                 `json:"result"`
	Trace     []workflow.StageRecord `json:"trace"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload requestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if payload.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message cannot be empty")
		return
	}

	ctx := llmmetrics.WithTenant(r.Context(), payload.TenantID)

	conversation, err := s.loadHistory(ctx, payload.TenantID, payload.SessionID)
	if err != nil {
		// Session history is an enhancement. Process the request
		// stateless rather than failing it.
		s.logger.Warn("session history unavailable for %s/%s: %v", payload.TenantID, payload.SessionID, err)
		conversation = nil
	}
	conversation = append(conversation, workflow.Message{Role: "user", Content: payload.Message})

	rc, err := workflow.NewContext(payload.TenantID, payload.SessionID, payload.SubjectID, conversation)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	final, err := s.orchestrator.Run(ctx, rc)
	if err != nil {
		s.logger.Error("request %s failed: %v", rc.RequestID(), err)
		s.writeError(w, statusForError(err), err.Error())
		return
	}

	s.appendHistory(ctx, payload, final.Result())

	s.writeJSON(w, http.StatusOK, requestResponse{
		RequestID: final.RequestID(),
		Route:     final.Route(),
		Result:    final.Result(),
		Trace:     final.Trace(),
	})
}

func (s *Server) loadHistory(ctx context.Context, tenantID, sessionID string) ([]workflow.Message, error) {
	if s.sessions == nil {
		return nil, nil
	}
	return s.sessions.History(ctx, tenantID, sessionID)
}

func (s *Server) appendHistory(ctx context.Context, payload requestPayload, result string) {
	if s.sessions == nil {
		return
	}
	err := s.sessions.Append(ctx, payload.TenantID, payload.SessionID,
		workflow.Message{Role: "user", Content: payload.Message},
		workflow.Message{Role: "assistant", Content: result},
	)
	if err != nil {
		s.logger.Warn("failed to append session history for %s/%s: %v", payload.TenantID, payload.SessionID, err)
	}
}

// statusForError maps workflow failures to HTTP status codes.
func statusForError(err error) int {
	var open *circuit.OpenError
	switch {
	case errors.As(err, &open):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// handleBreakers implements GET /v1/breakers.
func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"breakers": s.breakers.Snapshot(),
	})
}

// handleUsage implements GET /v1/usage/{tenant}.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.usage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "usage metrics not configured")
		return
	}
	tenantID := strings.TrimPrefix(r.URL.Path, "/v1/usage/")
	if tenantID == "" || strings.Contains(tenantID, "/") {
		s.writeError(w, http.StatusBadRequest, "tenant id is required")
		return
	}

	usage, err := s.usage.GetTenantUsage(r.Context(), tenantID)
	if err != nil {
		s.logger.Error("usage query for tenant %s failed: %v", tenantID, err)
		s.writeError(w, http.StatusBadGateway, "usage query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
