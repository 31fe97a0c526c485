// Package models defines the public domain models and error types for MBFlow.
package models

import (
	"encoding/json"
	"errors"
)

// Common error types for MBFlow SDK.
var (
	// Client errors
	ErrClientClosed = errors.New("client is closed")

	// Workflow errors
	ErrInvalidWorkflowID = errors.New("invalid workflow ID")
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrWorkflowExists    = errors.New("workflow already exists")
	ErrInvalidWorkflow   = errors.New("invalid workflow")
	ErrCyclicDependency  = errors.New("cyclic dependency detected")
	ErrOrphanedNodes     = errors.New("orphaned nodes detected")
	ErrInvalidNodeType   = errors.New("invalid node type")
	ErrNodeNotFound      = errors.New("node not found")
	ErrEdgeNotFound      = errors.New("edge not found")
	ErrInvalidEdge       = errors.New("invalid edge")

	// Execution errors
	ErrInvalidExecutionID  = errors.New("invalid execution ID")
	ErrExecutionNotFound   = errors.New("execution not found")
	ErrExecutionFailed     = errors.New("execution failed")
	ErrExecutionCancelled  = errors.New("execution cancelled")
	ErrExecutionTimeout    = errors.New("execution timeout")
	ErrNodeExecutionFailed = errors.New("node execution failed")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidOutput       = errors.New("invalid output")

	// Trigger errors
	ErrInvalidTriggerID     = errors.New("invalid trigger ID")
	ErrTriggerNotFound      = errors.New("trigger not found")
	ErrInvalidTriggerType   = errors.New("invalid trigger type")
	ErrInvalidTriggerConfig = errors.New("invalid trigger configuration")
	ErrTriggerDisabled      = errors.New("trigger is disabled")

	// Executor errors
	ErrExecutorNotFound = errors.New("executor not found")
	ErrExecutorFailed   = errors.New("executor failed")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrRequired         = errors.New("required field is missing")

	// Resource errors
	ErrResourceNotFound      = errors.New("resource not found")
	ErrResourceLimitExceeded = errors.New("resource limit exceeded")
	ErrStorageLimitExceeded  = errors.New("storage limit exceeded")
	ErrInvalidResourceType   = errors.New("invalid resource type")
	ErrInvalidID             = errors.New("invalid ID format")
)

// WorkflowError represents an error that occurred during workflow operations.
type WorkflowError struct {
	WorkflowID string
	Operation  string
	Err        error
}

func (e *WorkflowError) Error() string {
	return "workflow " + e.WorkflowID + " " + e.Operation + ": " + e.Err.Error()
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// ExecutionError represents an error that occurred during execution.
type ExecutionError struct {
	ExecutionID string
	NodeID      string
	Err         error
}

func (e *ExecutionError) Error() string {
	msg := "execution " + e.ExecutionID
	if e.NodeID != "" {
		msg += " node " + e.NodeID
	}
	msg += ": " + e.Err.Error()
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ValidationError represents a validation error with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Error()
}

// ErrorKind is the stable taxonomy surfaced on every NodeExecution.Error
// (§7). Consumers switch on Kind, never on Message, which is free text.
type ErrorKind string

const (
	// ErrorKindConfig marks a plan-time or per-node config error,
	// unrecoverable without editing the flow.
	ErrorKindConfig ErrorKind = "CONFIG"
	// ErrorKindCredential marks a missing, unauthorized, or
	// remote-rejected credential.
	ErrorKindCredential ErrorKind = "CREDENTIAL"
	// ErrorKindTimeout marks a node or execution that exceeded its
	// allowed time.
	ErrorKindTimeout ErrorKind = "TIMEOUT"
	// ErrorKindCancelled marks a cooperative halt.
	ErrorKindCancelled ErrorKind = "CANCELLED"
	// ErrorKindUpstream marks an external service failure response.
	ErrorKindUpstream ErrorKind = "UPSTREAM"
	// ErrorKindResourceExhausted marks a broker or worker-pool
	// acquisition failure.
	ErrorKindResourceExhausted ErrorKind = "RESOURCE_EXHAUSTED"
	// ErrorKindRuntime marks a handler-internal error.
	ErrorKindRuntime ErrorKind = "RUNTIME"
	// ErrorKindData marks a missing required value or malformed input.
	ErrorKindData ErrorKind = "DATA"
)

// EngineError is the structured error every Handler.Execute and scheduler
// failure path produces. Only the handler decides whether Stack is
// populated; the engine never attaches its own internal stack traces here
// (§7 "User-visible failure") — its own faults are reported as
// ErrorKindRuntime with a fixed message instead.
type EngineError struct {
	Kind    ErrorKind
	Message string
	Stack   string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// engineErrorJSON is the wire/persistence shape of EngineError: Err is
// deliberately dropped since it is a Go error value, not serializable
// data, and is never needed once Kind/Message/Stack are recorded.
type engineErrorJSON struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Stack   string    `json:"stack,omitempty"`
}

// MarshalJSON renders the journal-visible fields only (§7).
func (e *EngineError) MarshalJSON() ([]byte, error) {
	return json.Marshal(engineErrorJSON{Kind: e.Kind, Message: e.Message, Stack: e.Stack})
}

// UnmarshalJSON restores Kind/Message/Stack from a journaled record.
func (e *EngineError) UnmarshalJSON(data []byte) error {
	var wire engineErrorJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	e.Kind = wire.Kind
	e.Message = wire.Message
	e.Stack = wire.Stack
	return nil
}

// NewEngineError wraps err under the given kind, using err's message as
// the visible Message.
func NewEngineError(kind ErrorKind, err error) *EngineError {
	if err == nil {
		return &EngineError{Kind: kind}
	}
	return &EngineError{Kind: kind, Message: err.Error(), Err: err}
}

// EngineInternalError is the fixed-shape error recorded when the engine's
// own machinery faults, never leaking an internal stack trace into the
// journal (§7).
func EngineInternalError() *EngineError {
	return &EngineError{Kind: ErrorKindRuntime, Message: "engine internal error"}
}
