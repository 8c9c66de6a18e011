package models

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the observed outcome of one invocation attempt.
type ExecutionStatus string

const (
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusError   ExecutionStatus = "error"
	ExecutionStatusTimeout ExecutionStatus = "timeout"
)

// Valid reports whether s is one of the known statuses.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusError, ExecutionStatusTimeout:
		return true
	}
	return false
}

// ExecutionLog is the append-only record of one invocation attempt.
// Entries are never updated after they are created.
type ExecutionLog struct {
	ID         string            `json:"execution_id"`
	FunctionID *string           `json:"function_id"` // nil for direct executions
	Input      json.RawMessage   `json:"input"`
	Output     json.RawMessage   `json:"output"`
	Status     ExecutionStatus   `json:"status"`
	DurationMs int64             `json:"execution_time"`
	InvokedBy  *string           `json:"invoked_by"`
	Error      *ErrorDetail      `json:"error_details"`
	Metadata   ExecutionMetadata `json:"metadata"`

	// Snapshot is the function's statistics at write time. Readers display
	// the live function record instead.
	Snapshot *FunctionStats `json:"function_snapshot,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ErrorDetail is the structured failure description stored on a log entry.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Detail  string `json:"detail,omitempty"`
}

// ExecutionMetadata carries deployment facts about an invocation.
type ExecutionMetadata struct {
	ActionName       string          `json:"action_name,omitempty"`
	Namespace        string          `json:"namespace,omitempty"`
	Package          string          `json:"package,omitempty"`
	Runtime          string          `json:"runtime,omitempty"`
	WebActionURL     string          `json:"web_action_url,omitempty"`
	WebActionURLJSON string          `json:"web_action_url_json,omitempty"`
	KeepAction       bool            `json:"keep_action"`
	DirectExecution  bool            `json:"direct_execution,omitempty"`
	ActivationID     string          `json:"activation_id,omitempty"`
	Diagnostic       json.RawMessage `json:"diagnostic,omitempty"`
}

// ExecutionPage is one page of execution log query results.
type ExecutionPage struct {
	Logs       []*ExecutionLog  `json:"logs"`
	Pagination Pagination       `json:"pagination"`
	Function   *FunctionSummary `json:"function,omitempty"`
}

// Pagination describes the position of a page within a result set.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// FunctionSummary is the live function view attached to log queries.
type FunctionSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	FunctionStats
}
