package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/narvanalabs/functions/internal/api/middleware"
	"github.com/narvanalabs/functions/internal/models"
	"github.com/narvanalabs/functions/internal/orchestrator"
	"github.com/narvanalabs/functions/internal/store"
)

// Executor runs functions and reads their execution history.
type Executor interface {
	Execute(ctx context.Context, req orchestrator.ExecuteRequest) (*orchestrator.Result, error)
	ExecuteDirect(ctx context.Context, req orchestrator.DirectRequest) (*orchestrator.Result, error)
	QueryLogs(ctx context.Context, functionID string, q store.ExecutionQuery, actor string) (*models.ExecutionPage, error)
	GetExecution(ctx context.Context, executionID, actor string) (*models.ExecutionLog, error)
}

// ExecutionHandler handles execution HTTP requests.
type ExecutionHandler struct {
	executor Executor
	logger   *slog.Logger
}

// NewExecutionHandler creates a new execution handler.
func NewExecutionHandler(executor Executor, logger *slog.Logger) *ExecutionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionHandler{
		executor: executor,
		logger:   logger,
	}
}

// ExecuteRequest is the body of POST /v1/execute/{functionID}.
type ExecuteRequest struct {
	Input      json.RawMessage `json:"input"`
	KeepAction bool            `json:"keep_action"`
}

// DirectRequest is the body of POST /v1/execute/direct.
type DirectRequest struct {
	Code  string          `json:"code"`
	Input json.RawMessage `json:"input"`
}

// Execute handles POST /v1/execute/{functionID}. Errors raised by the user's
// code are part of a 200 result; only orchestration failures are errors.
func (h *ExecutionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	functionID := chi.URLParam(r, "functionID")
	if functionID == "" {
		WriteBadRequest(w, r, "Function ID is required")
		return
	}

	var req ExecuteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	result, err := h.executor.Execute(r.Context(), orchestrator.ExecuteRequest{
		FunctionID: functionID,
		Input:      req.Input,
		Actor:      middleware.GetUserID(r.Context()),
		KeepAction: req.KeepAction,
	})
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// Direct handles POST /v1/execute/direct.
func (h *ExecutionHandler) Direct(w http.ResponseWriter, r *http.Request) {
	var req DirectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	result, err := h.executor.ExecuteDirect(r.Context(), orchestrator.DirectRequest{
		Code:  req.Code,
		Input: req.Input,
		Actor: middleware.GetUserID(r.Context()),
	})
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// Logs handles GET /v1/execute/{functionID}/logs.
func (h *ExecutionHandler) Logs(w http.ResponseWriter, r *http.Request) {
	functionID := chi.URLParam(r, "functionID")
	if functionID == "" {
		WriteBadRequest(w, r, "Function ID is required")
		return
	}

	q, msg := parseExecutionQuery(r)
	if msg != "" {
		WriteBadRequest(w, r, msg)
		return
	}

	page, err := h.executor.QueryLogs(r.Context(), functionID, q, middleware.GetUserID(r.Context()))
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if page.Logs == nil {
		page.Logs = []*models.ExecutionLog{}
	}
	WriteJSON(w, http.StatusOK, page)
}

// Get handles GET /v1/executions/{executionID}.
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")
	if executionID == "" {
		WriteBadRequest(w, r, "Execution ID is required")
		return
	}

	entry, err := h.executor.GetExecution(r.Context(), executionID, middleware.GetUserID(r.Context()))
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

// parseExecutionQuery reads the log filters from the query string. Both
// snake_case and camelCase parameter names are accepted. A non-empty
// message reports the first invalid parameter.
func parseExecutionQuery(r *http.Request) (store.ExecutionQuery, string) {
	values := r.URL.Query()
	get := func(keys ...string) string {
		for _, k := range keys {
			if v := values.Get(k); v != "" {
				return v
			}
		}
		return ""
	}

	var q store.ExecutionQuery
	if v := get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, "page must be an integer"
		}
		q.Page = n
	}
	if v := get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, "limit must be an integer"
		}
		q.Limit = n
	}
	q.Status = models.ExecutionStatus(get("status"))
	q.Sort = get("sort", "sort_by", "sortBy")

	if v := get("start_date", "startDate"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return q, "start_date must be RFC 3339 or YYYY-MM-DD"
		}
		q.From = &t
	}
	if v := get("end_date", "endDate"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return q, "end_date must be RFC 3339 or YYYY-MM-DD"
		}
		q.To = &t
	}
	return q, ""
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}
