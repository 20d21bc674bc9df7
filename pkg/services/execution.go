package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/orderflow/pkg/models"
	"github.com/dukex/orderflow/pkg/persistence"
	"github.com/dukex/orderflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
)

// Execution exposes workflow runs and their records to the admin API and CLI.
type Execution struct {
	engine      *workflow.Engine
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewExecution(engine *workflow.Engine, persistence persistence.Persistence) *Execution {
	return &Execution{
		engine:      engine,
		persistence: persistence,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Execution) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// WorkflowInfo describes a registered workflow.
type WorkflowInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s *Execution) Workflows() []WorkflowInfo {
	definitions := s.engine.Workflows()

	infos := make([]WorkflowInfo, 0, len(definitions))
	for _, definition := range definitions {
		infos = append(infos, WorkflowInfo{Name: definition.Name(), Description: definition.Description()})
	}

	return infos
}

// ListExecutionsRequest contains options for listing executions.
type ListExecutionsRequest struct {
	Limit int `validate:"min=1,max=500"`

	WorkflowName      string
	Status            string
	CorrelationID     string
	ParentExecutionID string
	IncludeDeleted    bool
}

// List retrieves executions matching the request, newest first.
func (s *Execution) List(ctx context.Context, req ListExecutionsRequest) ([]*models.WorkflowExecution, error) {
	if req.Limit == 0 {
		req.Limit = 50
	}

	err := s.validator.Struct(req)
	if err != nil {
		return nil, NewValidationError("List", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	status := models.ExecutionStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if status != "" && !status.IsValid() {
		return nil, NewValidationError("List", "INVALID_STATUS", fmt.Sprintf("invalid status '%s'", req.Status), ErrInvalidStatus)
	}

	executions, err := s.persistence.ExecutionRepository().List(ctx, models.ExecutionFilter{
		WorkflowName:      req.WorkflowName,
		Status:            status,
		CorrelationID:     req.CorrelationID,
		ParentExecutionID: req.ParentExecutionID,
		IncludeDeleted:    req.IncludeDeleted,
		Limit:             req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// Get retrieves an execution by its ID.
func (s *Execution) Get(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	if strings.TrimSpace(id) == "" {
		return nil, NewValidationError("Get", "INVALID_REQUEST", "execution ID is required", ErrInvalidRequest)
	}

	return s.persistence.ExecutionRepository().GetByID(ctx, id)
}

// Steps lists the step events of an execution in step order.
func (s *Execution) Steps(ctx context.Context, id string) ([]*models.WorkflowStepEvent, error) {
	_, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.persistence.StepEventRepository().ListByExecution(ctx, id)
}

// RunRequest asks for one workflow run with JSON input.
type RunRequest struct {
	Workflow       string          `json:"workflow"                  validate:"required"`
	Input          json.RawMessage `json:"input"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" validate:"omitempty,max=255"`
	CorrelationID  string          `json:"correlation_id,omitempty"  validate:"omitempty,max=255"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty" validate:"gte=0"`
}

// RunResponse reports the outcome of a run. A workflow that failed is still
// a response, not an error.
type RunResponse struct {
	ExecutionID string                 `json:"execution_id"`
	ResultID    string                 `json:"result_id,omitempty"`
	Status      models.ExecutionStatus `json:"status"`
	Output      json.RawMessage        `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Replayed    bool                   `json:"replayed"`
	Compensated bool                   `json:"compensated"`
}

func (r *RunResponse) Succeeded() bool {
	return r.Error == ""
}

// Run executes a registered workflow and waits for its outcome.
func (s *Execution) Run(ctx context.Context, req RunRequest) (*RunResponse, error) {
	err := s.validator.Struct(req)
	if err != nil {
		return nil, NewValidationError("Run", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	opts := []workflow.RunOption{}

	if req.IdempotencyKey != "" {
		opts = append(opts, workflow.WithIdempotencyKey(req.IdempotencyKey))
	}

	if req.CorrelationID != "" {
		opts = append(opts, workflow.WithCorrelationID(req.CorrelationID))
	}

	if req.TimeoutSeconds > 0 {
		opts = append(opts, workflow.WithRunTimeout(time.Duration(req.TimeoutSeconds)*time.Second))
	}

	result := s.engine.RunJSON(ctx, req.Workflow, req.Input, opts...)

	// Failures before an execution record exists are request errors.
	if result.IsFailure() && result.ExecutionID == "" {
		return nil, result.Err
	}

	return newRunResponse(result), nil
}

// Pause asks an execution to stop before its next step.
func (s *Execution) Pause(ctx context.Context, id string) error {
	return s.engine.Pause(ctx, id)
}

// Resume continues a paused execution and waits for its outcome.
func (s *Execution) Resume(ctx context.Context, id string) (*RunResponse, error) {
	result, err := s.engine.Resume(ctx, id)
	if err != nil {
		return nil, err
	}

	return newRunResponse(result), nil
}

// Cancel stops an execution and compensates what it completed.
func (s *Execution) Cancel(ctx context.Context, id string) error {
	return s.engine.Cancel(ctx, id)
}

func newRunResponse(result workflow.RawResult) *RunResponse {
	response := &RunResponse{
		ExecutionID: result.ExecutionID,
		ResultID:    result.ResultID,
		Status:      result.Status,
		Output:      result.Output,
		Replayed:    result.Replayed,
		Compensated: result.Compensated,
	}

	if result.IsFailure() {
		response.Error = result.Err.Error()
	}

	return response
}
