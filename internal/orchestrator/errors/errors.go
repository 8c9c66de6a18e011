// Package errors defines the failure taxonomy of function execution.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an execution failure. The string value is persisted as
// the type of an execution log's error details.
type Kind string

// Failure kinds.
const (
	KindValidation   Kind = "ValidationError"
	KindNotFound     Kind = "NotFoundError"
	KindAccessDenied Kind = "AccessDeniedError"
	KindInactive     Kind = "InactiveFunctionError"
	KindPackaging    Kind = "PackagingError"
	KindDeployment   Kind = "DeploymentError"
	KindInvocation   Kind = "InvocationError"
	KindTimeout      Kind = "TimeoutError"
	KindInBand       Kind = "InBandError"
	KindDiagnostic   Kind = "DiagnosticUnavailable"
	KindCleanup      Kind = "CleanupError"
	KindInternal     Kind = "InternalError"
)

// Error is a classified execution failure.
type Error struct {
	Kind Kind
	// Op names the step that failed, e.g. "package" or "invoke".
	Op  string
	Err error
	// ActivationID is the platform activation, when one is known.
	ActivationID string
	// Detail is a more specific message recovered by diagnosis.
	Detail string
	// ExecutionID is set once the failure has been recorded in the
	// execution log.
	ExecutionID string
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the diagnosed detail when present, otherwise the
// underlying error text.
func (e *Error) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

// New creates an Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation reports malformed input.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, "validate", fmt.Errorf(format, args...))
}

// NotFound reports a missing function or action.
func NotFound(op string, err error) *Error {
	return New(KindNotFound, op, err)
}

// AccessDenied reports a caller that neither owns the function nor may use it publicly.
func AccessDenied(functionID string) *Error {
	return New(KindAccessDenied, "authorize", fmt.Errorf("access denied to function %s", functionID))
}

// Inactive reports a function that has been deactivated.
func Inactive(functionID string) *Error {
	return New(KindInactive, "validate", fmt.Errorf("function %s is not active", functionID))
}

// Packaging reports an archive build failure.
func Packaging(err error) *Error {
	return New(KindPackaging, "package", err)
}

// Deployment reports a rejected create or update.
func Deployment(err error) *Error {
	return New(KindDeployment, "deploy", err)
}

// Invocation reports a platform-level failure during invoke.
func Invocation(err error) *Error {
	return New(KindInvocation, "invoke", err)
}

// Timeout reports an invocation that exceeded its deadline.
func Timeout(err error) *Error {
	return New(KindTimeout, "invoke", err)
}

// KindOf returns the kind of err, or KindInternal when err is unclassified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is an Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

