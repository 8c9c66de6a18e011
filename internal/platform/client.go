// Package platform provides the deployment client for the external
// function-execution platform.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors returned by platform operations.
var (
	// ErrActionNotFound is returned when the named action does not exist.
	ErrActionNotFound = errors.New("action not found")
	// ErrActionExists is returned by Create when the action already exists.
	ErrActionExists = errors.New("action already exists")
)

// Standard annotations applied to every deployed action.
const (
	AnnotationWebExport = "web-export"
	AnnotationRawHTTP   = "raw-http"
	AnnotationFinal     = "final"
)

// WebAnnotations returns the annotation set for a web-exported action.
func WebAnnotations() map[string]any {
	return map[string]any{
		AnnotationWebExport: true,
		AnnotationRawHTTP:   false,
		AnnotationFinal:     true,
	}
}

// Client is the set of platform operations the orchestrator depends on.
type Client interface {
	// Exists reports whether an action with the given name is deployed.
	Exists(ctx context.Context, name string) (bool, error)
	// Create deploys a new action. It fails if the action already exists.
	Create(ctx context.Context, spec *ActionSpec) error
	// Update replaces the code and settings of an existing action.
	Update(ctx context.Context, spec *ActionSpec) error
	// Invoke runs the action in blocking mode and returns its result.
	Invoke(ctx context.Context, name string, params json.RawMessage) (*InvokeResponse, error)
	// Delete removes an action.
	Delete(ctx context.Context, name string) error
	// ListActivations returns the most recent activation ids for an action,
	// newest first.
	ListActivations(ctx context.Context, name string, limit int) ([]string, error)
	// GetActivation fetches the recorded outcome of an activation.
	GetActivation(ctx context.Context, id string) (*Activation, error)
}

// ActionSpec describes an action to create or update. Exactly one of
// Archive and Source is used; Archive wins when both are set.
type ActionSpec struct {
	Name        string
	Kind        string
	Archive     []byte
	Source      string
	Main        string
	Web         bool
	Annotations map[string]any
}

// InvokeResponse is the result payload of a blocking invocation.
type InvokeResponse struct {
	// Result is the raw JSON the action returned.
	Result json.RawMessage
	// ActivationID is set when the platform reported one.
	ActivationID string
}

// Fields decodes the result as a JSON object. Non-object results return nil.
func (r *InvokeResponse) Fields() map[string]json.RawMessage {
	if r == nil || len(r.Result) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(r.Result, &m); err != nil {
		return nil
	}
	return m
}

// Activation is the platform's record of one invocation.
type Activation struct {
	ActivationID string             `json:"activationId"`
	Namespace    string             `json:"namespace"`
	Name         string             `json:"name"`
	Start        int64              `json:"start"`
	End          int64              `json:"end"`
	Duration     int64              `json:"duration"`
	Response     ActivationResponse `json:"response"`
	Logs         []string           `json:"logs,omitempty"`
}

// ActivationResponse is the outcome section of an activation record.
type ActivationResponse struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"statusCode"`
	Success    bool            `json:"success"`
	Result     json.RawMessage `json:"result"`
}

// ErrorMessage extracts result.error from the activation as a string.
func (a *Activation) ErrorMessage() string {
	if a == nil || len(a.Response.Result) == 0 {
		return ""
	}
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(a.Response.Result, &body); err != nil || len(body.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(body.Error, &s); err == nil {
		return s
	}
	return string(body.Error)
}

// InvokeError is a platform-level failure of an invocation, as opposed to
// an error returned by the action's own code.
type InvokeError struct {
	StatusCode   int
	Message      string
	ActivationID string
	// Timeout is set when the platform gave up waiting for the result.
	Timeout bool
	Err     error
}

// Error implements the error interface.
func (e *InvokeError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("invoke failed (status %d): %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("invoke failed: %s", msg)
}

// Unwrap returns the underlying error.
func (e *InvokeError) Unwrap() error {
	return e.Err
}

// ActivationIDOf returns the activation id attached to err, if any.
func ActivationIDOf(err error) string {
	var ie *InvokeError
	if errors.As(err, &ie) {
		return ie.ActivationID
	}
	return ""
}
