package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careflow/pkg/resilience/circuit"
	"careflow/pkg/workflow"
)

type stubStage struct {
	name string
	run  func(ctx context.Context, rc *workflow.Context) (*workflow.Context, workflow.Directive, error)
}

func (s *stubStage) Name() string { return s.name }

func (s *stubStage) Run(ctx context.Context, rc *workflow.Context) (*workflow.Context, workflow.Directive, error) {
	return s.run(ctx, rc)
}

func passthrough(name string) *stubStage {
	return &stubStage{name: name, run: func(_ context.Context, rc *workflow.Context) (*workflow.Context, workflow.Directive, error) {
		return rc, workflow.DirectiveContinue, nil
	}}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	supervisor := &stubStage{name: "supervisor", run: func(_ context.Context, rc *workflow.Context) (*workflow.Context, workflow.Directive, error) {
		rc, err := rc.WithRoute(workflow.RouteInformation, "lookup request")
		if err != nil {
			return rc, workflow.DirectiveTerminate, err
		}
		return rc, workflow.DirectiveRouteInformation, nil
	}}
	information := &stubStage{name: "information_handler", run: func(_ context.Context, rc *workflow.Context) (*workflow.Context, workflow.Directive, error) {
		return rc.WithResult("Dr. Smith has two openings on Friday."), workflow.DirectiveContinue, nil
	}}

	orch, err := workflow.NewOrchestrator(workflow.Stages{
		MemoryRetrieval: passthrough("memory_retrieval"),
		Supervisor:      supervisor,
		Information:     information,
		Booking:         passthrough("booking_handler"),
		MemoryStorage:   passthrough("memory_storage"),
	}, nil, time.Minute)
	require.NoError(t, err)

	breakers := circuit.NewRegistry(circuit.DefaultConfig, nil, nil)
	breakers.Get("llm")
	return NewServer(orch, nil, breakers, nil)
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleRequestSuccess(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/v1/requests",
		`{"tenant_id":"clinic-a","session_id":"sess-1","subject_id":"patient-7","message":"When is Dr. Smith free?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp requestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, workflow.RouteInformation, resp.Route)
	assert.Equal(t, "Dr. Smith has two openings on Friday.", resp.Result)
	assert.Len(t, resp.Trace, 4)
}

func TestHandleRequestValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/requests", `{"tenant_id":"clinic-a"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/v1/requests", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/v1/requests", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// Missing session id fails context construction.
	rec = doRequest(t, srv, http.MethodPost, "/v1/requests",
		`{"tenant_id":"clinic-a","subject_id":"p1","message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBreakers(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/v1/breakers", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Breakers []circuit.Status `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Breakers, 1)
	assert.Equal(t, "llm", resp.Breakers[0].Dependency)
	assert.Equal(t, "CLOSED", resp.Breakers[0].State)
}

func TestHandleUsageUnconfigured(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/v1/usage/clinic-a", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/v1/usage/", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestStatusForError(t *testing.T) {
	open := &circuit.OpenError{Dependency: "llm"}
	assert.Equal(t, http.StatusServiceUnavailable, statusForError(open))
	assert.Equal(t, http.StatusGatewayTimeout, statusForError(context.DeadlineExceeded))
	assert.Equal(t, http.StatusBadGateway, statusForError(assert.AnError))
}
