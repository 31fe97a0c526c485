package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
)

// ExecutionStatistics is an aggregate summary over a window of Executions,
// used by the egress reporting surface (§6 "a user's Executions").
type ExecutionStatistics struct {
	TotalExecutions int
	CompletedCount  int
	FailedCount     int
	CancelledCount  int
	RunningCount    int
	PendingCount    int
	AverageDuration *time.Duration
	SuccessRate     float64
	FailureRate     float64
}

// ExecutionRepository defines the journal's persistence interface (§4.6):
// Execution and NodeExecution durable records, their query surface, and
// the append-only attempt history for node executions.
type ExecutionRepository interface {
	// Create creates a new execution record.
	Create(ctx context.Context, execution *models.ExecutionModel) error

	// Update updates an existing execution and replaces its node executions.
	Update(ctx context.Context, execution *models.ExecutionModel) error

	// Delete deletes an execution and its node executions.
	Delete(ctx context.Context, id uuid.UUID) error

	// FindByID retrieves an execution by ID.
	FindByID(ctx context.Context, id uuid.UUID) (*models.ExecutionModel, error)

	// FindByIDWithRelations retrieves an execution with its node executions.
	FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*models.ExecutionModel, error)

	// FindByWorkflowID retrieves executions for a workflow, paginated.
	FindByWorkflowID(ctx context.Context, workflowID uuid.UUID, limit, offset int) ([]*models.ExecutionModel, error)

	// FindByStatus retrieves executions by status, paginated.
	FindByStatus(ctx context.Context, status string, limit, offset int) ([]*models.ExecutionModel, error)

	// FindAll retrieves all executions, paginated by started_at DESC (§6).
	FindAll(ctx context.Context, limit, offset int) ([]*models.ExecutionModel, error)

	// FindRunning retrieves executions currently in RUNNING status.
	FindRunning(ctx context.Context) ([]*models.ExecutionModel, error)

	// Count returns the total count of executions.
	Count(ctx context.Context) (int, error)

	// CountByWorkflowID returns the count of executions for a workflow.
	CountByWorkflowID(ctx context.Context, workflowID uuid.UUID) (int, error)

	// CountByStatus returns the count of executions by status.
	CountByStatus(ctx context.Context, status string) (int, error)

	// CreateNodeExecution appends a new NodeExecution row. Per §4.6 this is
	// the only way to record a retry: callers pass a row with an
	// incremented Attempt rather than mutating a prior attempt's row.
	CreateNodeExecution(ctx context.Context, nodeExecution *models.NodeExecutionModel) error

	// UpdateNodeExecution updates a node execution's mutable fields
	// (status, output, error, timestamps) in place for its current attempt.
	UpdateNodeExecution(ctx context.Context, nodeExecution *models.NodeExecutionModel) error

	// DeleteNodeExecution deletes a node execution row.
	DeleteNodeExecution(ctx context.Context, id uuid.UUID) error

	// FindNodeExecutionByID retrieves a node execution by its row ID.
	FindNodeExecutionByID(ctx context.Context, id uuid.UUID) (*models.NodeExecutionModel, error)

	// FindNodeExecutionsByExecutionID retrieves all NodeExecutions for an
	// Execution, ordered by wave then started_at (§6).
	FindNodeExecutionsByExecutionID(ctx context.Context, executionID uuid.UUID) ([]*models.NodeExecutionModel, error)

	// FindNodeExecutionsByWave retrieves node executions scheduled in a wave.
	FindNodeExecutionsByWave(ctx context.Context, executionID uuid.UUID, wave int) ([]*models.NodeExecutionModel, error)

	// FindNodeExecutionsByStatus retrieves node executions by status.
	FindNodeExecutionsByStatus(ctx context.Context, executionID uuid.UUID, status string) ([]*models.NodeExecutionModel, error)

	// GetStatistics aggregates execution counts/rates/average duration over
	// a time window, optionally scoped to one workflow.
	GetStatistics(ctx context.Context, workflowID *uuid.UUID, from, to time.Time) (*ExecutionStatistics, error)
}
