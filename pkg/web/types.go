// Package web provides HTTP request and response types for the admin API.
package web

import (
	"encoding/json"

	"github.com/dukex/orderflow/pkg/models"
)

// RunWorkflowRequest represents the request body for running a workflow.
type RunWorkflowRequest struct {
	Input          json.RawMessage `json:"input"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" validate:"omitempty,max=255"`
	CorrelationID  string          `json:"correlation_id,omitempty"  validate:"omitempty,max=255"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty" validate:"gte=0,lte=86400"`
}

// ExecutionResponse is an execution record without the payload columns
// that are only meaningful to the engine.
type ExecutionResponse struct {
	ID                string                 `json:"id"`
	WorkflowName      string                 `json:"workflow_name"`
	ParentExecutionID string                 `json:"parent_execution_id,omitempty"`
	CorrelationID     string                 `json:"correlation_id,omitempty"`
	IdempotencyKey    string                 `json:"idempotency_key,omitempty"`
	Status            models.ExecutionStatus `json:"status"`
	Input             json.RawMessage        `json:"input,omitempty"`
	Output            json.RawMessage        `json:"output,omitempty"`
	Error             string                 `json:"error,omitempty"`
	ErrorType         string                 `json:"error_type,omitempty"`
	RetryCount        int                    `json:"retry_count"`
	MaxRetries        int                    `json:"max_retries"`
	TimeoutSeconds    int                    `json:"timeout_seconds,omitempty"`
	ResultID          string                 `json:"result_id,omitempty"`
	CreatedAt         string                 `json:"created_at"`
	UpdatedAt         string                 `json:"updated_at"`
	CompletedAt       string                 `json:"completed_at,omitempty"`
	ExpiresAt         string                 `json:"expires_at,omitempty"`
	Deleted           bool                   `json:"deleted,omitempty"`
	Version           int64                  `json:"version"`
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// TransformExecutionResponse maps a WorkflowExecution to its API form.
func TransformExecutionResponse(execution *models.WorkflowExecution) ExecutionResponse {
	response := ExecutionResponse{
		ID:                execution.ID,
		WorkflowName:      execution.WorkflowName,
		ParentExecutionID: execution.ParentExecutionID,
		CorrelationID:     execution.CorrelationID,
		IdempotencyKey:    execution.IdempotencyKey,
		Status:            execution.Status,
		Input:             execution.InputData,
		Output:            execution.OutputData,
		Error:             execution.ErrorMessage,
		ErrorType:         execution.ErrorType,
		RetryCount:        execution.RetryCount,
		MaxRetries:        execution.MaxRetries,
		TimeoutSeconds:    execution.TimeoutSeconds,
		ResultID:          execution.ResultID,
		CreatedAt:         execution.CreatedAt.Format(timeLayout),
		UpdatedAt:         execution.UpdatedAt.Format(timeLayout),
		Deleted:           execution.IsDeleted(),
		Version:           execution.Version,
	}

	if execution.CompletedAt != nil {
		response.CompletedAt = execution.CompletedAt.Format(timeLayout)
	}

	if execution.ExpiresAt != nil {
		response.ExpiresAt = execution.ExpiresAt.Format(timeLayout)
	}

	return response
}

func TransformExecutionsResponse(executions []*models.WorkflowExecution) []ExecutionResponse {
	responses := make([]ExecutionResponse, 0, len(executions))
	for _, execution := range executions {
		responses = append(responses, TransformExecutionResponse(execution))
	}

	return responses
}
