package models

import (
	"encoding/json"
	"time"
)

type StepStatus string

const (
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
)

// IsFinal reports whether the event can no longer change.
func (s StepStatus) IsFinal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}

// WorkflowStepEvent records one step of one execution. There is at most one
// event per (ExecutionID, StepIndex) and it is immutable once final.
type WorkflowStepEvent struct {
	ExecutionID  string `json:"execution_id"`
	WorkflowName string `json:"workflow_name"`
	StepName     string `json:"step_name"`
	StepIndex    int    `json:"step_index"`
	TotalSteps   int    `json:"total_steps,omitempty"`

	Status StepStatus `json:"status"`

	InputData        json.RawMessage `json:"input_data,omitempty"`
	OutputData       json.RawMessage `json:"output_data,omitempty"`
	CompensationData json.RawMessage `json:"compensation_data,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`

	DurationMs  int64      `json:"duration_ms"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Finalize marks the event as completed or failed.
func (e *WorkflowStepEvent) Finalize(status StepStatus, completedAt time.Time) {
	e.Status = status
	e.CompletedAt = &completedAt
	e.DurationMs = completedAt.Sub(e.StartedAt).Milliseconds()
}

func (e *WorkflowStepEvent) Clone() *WorkflowStepEvent {
	if e == nil {
		return nil
	}

	clone := *e
	clone.InputData = cloneRaw(e.InputData)
	clone.OutputData = cloneRaw(e.OutputData)
	clone.CompensationData = cloneRaw(e.CompensationData)
	clone.CompletedAt = cloneTime(e.CompletedAt)

	return &clone
}
