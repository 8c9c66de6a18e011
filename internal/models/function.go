package models

import "time"

// Function is a stored code snippet tagged with a target runtime.
// The ID is assigned at creation and never changes.
type Function struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Code        string    `json:"code,omitempty"`
	Runtime     string    `json:"runtime"`
	Tags        []string  `json:"tags,omitempty"`
	IsPublic    bool      `json:"is_public"`
	IsActive    bool      `json:"is_active"`
	CreatedBy   string    `json:"created_by"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	FunctionStats
}

// FunctionStats holds the rolling reliability and latency figures of a function.
type FunctionStats struct {
	ExecutionCount       int64      `json:"execution_count"`
	LastExecutedAt       *time.Time `json:"last_executed_at,omitempty"`
	AverageExecutionTime int64      `json:"average_execution_time"` // milliseconds
	SuccessRate          int        `json:"success_rate"`           // 0-100
}

// DefaultSuccessRate is the success rate of a function that has never run.
const DefaultSuccessRate = 100

// CanExecute reports whether the actor may run the function.
// Public functions may be run by anyone; private ones only by their owner.
// An empty actor is an internal caller and is always allowed.
func (f *Function) CanExecute(actor string) bool {
	if actor == "" || f.IsPublic {
		return true
	}
	return f.CreatedBy == actor
}

// Snapshot returns a copy of the function's statistics.
func (f *Function) Snapshot() *FunctionStats {
	s := f.FunctionStats
	return &s
}
