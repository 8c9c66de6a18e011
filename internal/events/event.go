// Package events publishes execution lifecycle events to in-process
// subscribers.
package events

import (
	"time"

	"github.com/narvanalabs/functions/internal/models"
)

// Type names an execution lifecycle transition.
type Type string

const (
	TypeStarted   Type = "execution.started"
	TypeCompleted Type = "execution.completed"
	TypeFailed    Type = "execution.failed"
)

// Event describes one execution lifecycle transition.
type Event struct {
	Type        Type                   `json:"type"`
	ExecutionID string                 `json:"execution_id"`
	FunctionID  string                 `json:"function_id,omitempty"`
	ActionName  string                 `json:"action_name,omitempty"`
	Status      models.ExecutionStatus `json:"status,omitempty"`
	DurationMs  int64                  `json:"execution_time,omitempty"`
	Error       string                 `json:"error,omitempty"`
	ErrorType   string                 `json:"error_type,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}
