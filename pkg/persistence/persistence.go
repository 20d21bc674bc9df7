// Package persistence provides the storage abstraction for workflow executions and step events.
package persistence

import (
	"context"

	"github.com/dukex/orderflow/pkg/models"
)

type Persistence interface {
	ExecutionRepository() ExecutionRepository
	StepEventRepository() StepEventRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ExecutionRepository stores WorkflowExecution records.
//
// Create must reject a second non-deleted record with the same
// (WorkflowName, IdempotencyKey) with ErrDuplicateIdempotencyKey, atomically.
// Update must compare the record's Version with the stored one, fail with
// ErrVersionConflict on mismatch and increment Version on success.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	Update(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	FindByIdempotencyKey(ctx context.Context, workflowName, idempotencyKey string) (*models.WorkflowExecution, error)
	List(ctx context.Context, filter models.ExecutionFilter) ([]*models.WorkflowExecution, error)
}

// StepEventRepository stores append-only WorkflowStepEvent rows.
//
// Record inserts a RUNNING event and fails with ErrStepEventExists when an
// event already exists for (ExecutionID, StepIndex). Finalize only succeeds
// on a RUNNING event; a final event returns ErrStepEventFinalized.
type StepEventRepository interface {
	Record(ctx context.Context, event *models.WorkflowStepEvent) error
	Finalize(ctx context.Context, event *models.WorkflowStepEvent) error
	Get(ctx context.Context, executionID string, stepIndex int) (*models.WorkflowStepEvent, error)
	ListByExecution(ctx context.Context, executionID string) ([]*models.WorkflowStepEvent, error)
}
