package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/narvanalabs/functions/internal/api/health"
	"github.com/narvanalabs/functions/internal/auth"
	"github.com/narvanalabs/functions/internal/events"
	"github.com/narvanalabs/functions/internal/models"
	"github.com/narvanalabs/functions/internal/orchestrator"
	"github.com/narvanalabs/functions/internal/store"
	"github.com/narvanalabs/functions/pkg/config"
)

type stubExecutor struct {
	actor string
}

func (s *stubExecutor) Execute(ctx context.Context, req orchestrator.ExecuteRequest) (*orchestrator.Result, error) {
	s.actor = req.Actor
	return &orchestrator.Result{ExecutionID: "exec-1", FunctionID: req.FunctionID, Status: models.ExecutionStatusSuccess}, nil
}

func (s *stubExecutor) ExecuteDirect(ctx context.Context, req orchestrator.DirectRequest) (*orchestrator.Result, error) {
	s.actor = req.Actor
	return &orchestrator.Result{ExecutionID: "exec-2", DirectExecution: true}, nil
}

func (s *stubExecutor) QueryLogs(ctx context.Context, functionID string, q store.ExecutionQuery, actor string) (*models.ExecutionPage, error) {
	s.actor = actor
	return &models.ExecutionPage{}, nil
}

func (s *stubExecutor) GetExecution(ctx context.Context, executionID, actor string) (*models.ExecutionLog, error) {
	s.actor = actor
	return &models.ExecutionLog{ID: executionID}, nil
}

func (s *stubExecutor) Authorize(ctx context.Context, functionID, actor string) error { return nil }

func newTestServer(t *testing.T) (*Server, *stubExecutor, *auth.Service) {
	t.Helper()
	cfg := config.LoadWithDefaults()
	tokens := auth.NewService(&auth.Config{JWTSecret: []byte(strings.Repeat("k", 32)), TokenExpiry: time.Hour}, nil)
	exec := &stubExecutor{}
	checker := health.NewChecker("test")
	checker.Register("database", health.PingerFunc(func(ctx context.Context) error { return nil }), true)

	srv := NewServer(cfg, Deps{
		Executor: exec,
		Events:   events.NewBroker(nil, nil),
		Tokens:   tokens,
		Health:   checker,
	}, nil)
	return srv, exec, tokens
}

func TestHealthIsPublic(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp health.Response
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Status != health.StatusHealthy || resp.Version != "test" {
		t.Errorf("unexpected health %+v", resp)
	}
}

func TestRoutesRequireToken(t *testing.T) {
	srv, _, _ := newTestServer(t)
	routes := []struct{ method, path string }{
		{http.MethodPost, "/v1/execute/direct"},
		{http.MethodPost, "/v1/execute/fn-1"},
		{http.MethodGet, "/v1/execute/fn-1/logs"},
		{http.MethodGet, "/v1/executions/exec-1"},
		{http.MethodGet, "/v1/executions/stream?function_id=fn-1"},
	}
	for _, rt := range routes {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(rt.method, rt.path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status %d, want 401", rt.method, rt.path, rr.Code)
		}
	}
}

func TestRoutesReachExecutorAsActor(t *testing.T) {
	srv, exec, tokens := newTestServer(t)
	token, err := tokens.IssueToken("alice", "alice@example.com")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	tests := []struct {
		method, path, body string
		field, want        string
	}{
		{http.MethodPost, "/v1/execute/direct", `{"code":"x"}`, "execution_id", "exec-2"},
		{http.MethodPost, "/v1/execute/fn-1", `{"input":{}}`, "function_id", "fn-1"},
		{http.MethodGet, "/v1/executions/exec-7", "", "execution_id", "exec-7"},
	}
	for _, tt := range tests {
		exec.actor = ""
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("%s %s: status %d body %s", tt.method, tt.path, rr.Code, rr.Body.String())
			continue
		}
		var body map[string]any
		json.NewDecoder(rr.Body).Decode(&body)
		if body[tt.field] != tt.want || exec.actor != "alice" {
			t.Errorf("%s %s: body %v actor %q", tt.method, tt.path, body, exec.actor)
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Errorf("%s %s: content type %q", tt.method, tt.path, rr.Header().Get("Content-Type"))
		}
	}
}

func TestServerTimeouts(t *testing.T) {
	srv, _, _ := newTestServer(t)
	want := srv.config.Platform.Timeout + requestSlack + 10*time.Second
	if srv.HTTPServer().WriteTimeout != want {
		t.Errorf("write timeout = %s, want %s", srv.HTTPServer().WriteTimeout, want)
	}
	if srv.HTTPServer().Addr != srv.config.ListenAddr() {
		t.Errorf("addr = %s", srv.HTTPServer().Addr)
	}
}

func TestOpenAPIIsPublic(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Body.String(), "openapi: 3") {
		t.Errorf("status %d body %.40q", rr.Code, rr.Body.String())
	}
}
