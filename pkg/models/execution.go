package models

import (
	"time"
)

// Execution represents a single workflow execution instance (§3).
type Execution struct {
	ID             string                 `json:"id"`
	WorkflowID     string                 `json:"workflow_id"`
	WorkflowName   string                 `json:"workflow_name,omitempty"`
	FlowVersion    string                 `json:"flow_version"`
	Principal      string                 `json:"principal,omitempty"`
	Status         ExecutionStatus        `json:"status"`
	Input          map[string]interface{} `json:"input,omitempty"`
	Output         map[string]interface{} `json:"output,omitempty"`
	Error          *EngineError           `json:"error,omitempty"`
	NodeExecutions []*NodeExecution       `json:"node_executions,omitempty"`
	Variables      map[string]interface{} `json:"variables,omitempty"`   // Runtime variables that override workflow variables
	StrictMode     bool                   `json:"strict_mode,omitempty"` // If true, missing template variables cause execution to fail
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	Duration       int64                  `json:"duration,omitempty"` // milliseconds
	TriggeredBy    string                 `json:"triggered_by,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// ExecutionStatus represents the status of an execution (§3: PENDING,
// RUNNING, COMPLETED, FAILED, CANCELLED).
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// NodeExecution is one journal row: one node's participation in one
// Execution attempt (§3, §4.6). Attempt is monotonic starting at 1; a
// handler-internal retry or a loop re-entry produces a new row with
// Attempt incremented rather than mutating the prior one.
type NodeExecution struct {
	ID             string                 `json:"id"`
	ExecutionID    string                 `json:"execution_id"`
	NodeID         string                 `json:"node_id"`
	NodeName       string                 `json:"node_name,omitempty"`
	NodeType       string                 `json:"node_type,omitempty"`
	Attempt        int                    `json:"attempt"`
	Status         NodeExecutionStatus    `json:"status"`
	InputSnapshot  map[string]interface{} `json:"input_snapshot,omitempty"`
	OutputSnapshot map[string]interface{} `json:"output_snapshot,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
	ResolvedConfig map[string]interface{} `json:"resolved_config,omitempty"`
	Error          *EngineError           `json:"error,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	Duration       int64                  `json:"duration,omitempty"` // milliseconds
	Wave           int                    `json:"wave,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// NodeExecutionStatus is the state-machine status of a NodeExecution
// (§4.2): WAITING -> READY -> RUNNING -> {SUCCEEDED, FAILED, CANCELLED},
// plus WAITING -> SKIPPED when the failure policy prunes a subtree.
type NodeExecutionStatus string

const (
	NodeExecutionStatusWaiting   NodeExecutionStatus = "waiting"
	NodeExecutionStatusReady     NodeExecutionStatus = "ready"
	NodeExecutionStatusRunning   NodeExecutionStatus = "running"
	NodeExecutionStatusSucceeded NodeExecutionStatus = "succeeded"
	NodeExecutionStatusFailed    NodeExecutionStatus = "failed"
	NodeExecutionStatusSkipped   NodeExecutionStatus = "skipped"
	NodeExecutionStatusCancelled NodeExecutionStatus = "cancelled"
)

// IsTerminal returns true if the execution status is terminal.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted ||
		s == ExecutionStatusFailed ||
		s == ExecutionStatusCancelled
}

// IsTerminal returns true if the node execution status is terminal.
func (s NodeExecutionStatus) IsTerminal() bool {
	return s == NodeExecutionStatusSucceeded ||
		s == NodeExecutionStatusFailed ||
		s == NodeExecutionStatusSkipped ||
		s == NodeExecutionStatusCancelled
}

// CanTransitionTo enforces the linear state machine of §4.2: a status
// update that is not one of the documented edges is rejected by the
// journal rather than silently applied (§4.6 "atomic state transitions").
func (s NodeExecutionStatus) CanTransitionTo(next NodeExecutionStatus) bool {
	switch s {
	case NodeExecutionStatusWaiting:
		return next == NodeExecutionStatusReady || next == NodeExecutionStatusSkipped
	case NodeExecutionStatusReady:
		return next == NodeExecutionStatusRunning || next == NodeExecutionStatusSkipped
	case NodeExecutionStatusRunning:
		return next == NodeExecutionStatusSucceeded ||
			next == NodeExecutionStatusFailed ||
			next == NodeExecutionStatusCancelled
	default:
		return false
	}
}

// GetNodeExecution returns a node execution by node ID.
func (e *Execution) GetNodeExecution(nodeID string) (*NodeExecution, error) {
	for _, ne := range e.NodeExecutions {
		if ne.NodeID == nodeID {
			return ne, nil
		}
	}
	return nil, ErrNodeNotFound
}

// CalculateDuration calculates the execution duration in milliseconds.
func (e *Execution) CalculateDuration() int64 {
	if e.CompletedAt == nil {
		return time.Since(e.StartedAt).Milliseconds()
	}
	return e.CompletedAt.Sub(e.StartedAt).Milliseconds()
}

// CalculateDuration calculates the node execution duration in milliseconds.
func (ne *NodeExecution) CalculateDuration() int64 {
	if ne.CompletedAt == nil {
		return time.Since(ne.StartedAt).Milliseconds()
	}
	return ne.CompletedAt.Sub(ne.StartedAt).Milliseconds()
}

// GetSuccessRate returns the success rate of node executions as a percentage.
func (e *Execution) GetSuccessRate() float64 {
	if len(e.NodeExecutions) == 0 {
		return 0
	}

	succeeded := 0
	for _, ne := range e.NodeExecutions {
		if ne.Status == NodeExecutionStatusSucceeded {
			succeeded++
		}
	}

	return float64(succeeded) / float64(len(e.NodeExecutions)) * 100
}

// GetFailedNodes returns a list of failed node executions.
func (e *Execution) GetFailedNodes() []*NodeExecution {
	var failed []*NodeExecution
	for _, ne := range e.NodeExecutions {
		if ne.Status == NodeExecutionStatusFailed {
			failed = append(failed, ne)
		}
	}
	return failed
}

// FirstFailure returns the first failed NodeExecution in started_at order,
// the source of Execution.Error per §7's propagation policy.
func (e *Execution) FirstFailure() *NodeExecution {
	var first *NodeExecution
	for _, ne := range e.NodeExecutions {
		if ne.Status != NodeExecutionStatusFailed {
			continue
		}
		if first == nil || ne.StartedAt.Before(first.StartedAt) {
			first = ne
		}
	}
	return first
}
