// Package models defines the durable records produced by the workflow engine.
package models

import (
	"encoding/json"
	"time"
)

type ExecutionStatus string

const (
	ExecutionStatusRunning     ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted   ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed      ExecutionStatus = "FAILED"
	ExecutionStatusCompensated ExecutionStatus = "COMPENSATED"
	ExecutionStatusPaused      ExecutionStatus = "PAUSED"
	ExecutionStatusCancelled   ExecutionStatus = "CANCELLED"
	ExecutionStatusTimeout     ExecutionStatus = "TIMEOUT"
	ExecutionStatusCleanedUp   ExecutionStatus = "CLEANED_UP"
)

// ExecutionStatuses lists every status in declaration order.
var ExecutionStatuses = []ExecutionStatus{
	ExecutionStatusRunning,
	ExecutionStatusCompleted,
	ExecutionStatusFailed,
	ExecutionStatusCompensated,
	ExecutionStatusPaused,
	ExecutionStatusCancelled,
	ExecutionStatusTimeout,
	ExecutionStatusCleanedUp,
}

// IsTerminal reports whether no further forward progress is possible.
func (s ExecutionStatus) IsTerminal() bool {
	return s != ExecutionStatusRunning && s != ExecutionStatusPaused && s.IsValid()
}

func (s ExecutionStatus) IsValid() bool {
	for _, status := range ExecutionStatuses {
		if s == status {
			return true
		}
	}

	return false
}

// WorkflowExecution is the durable record of one run of a workflow.
type WorkflowExecution struct {
	ID                string `json:"id"`
	WorkflowName      string `json:"workflow_name"`
	ParentExecutionID string `json:"parent_execution_id,omitempty"`
	CorrelationID     string `json:"correlation_id,omitempty"`
	IdempotencyKey    string `json:"idempotency_key,omitempty"`

	Status ExecutionStatus `json:"status"`

	InputData   json.RawMessage `json:"input_data,omitempty"`
	OutputData  json.RawMessage `json:"output_data,omitempty"`
	ContextData json.RawMessage `json:"context_data,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`

	RetryCount     int `json:"retry_count"`
	MaxRetries     int `json:"max_retries"`
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// ResultID and ResultPayload are served back on idempotent replay.
	ResultID      string          `json:"result_id,omitempty"`
	ResultPayload json.RawMessage `json:"result_payload,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	Version     int64      `json:"version"`
}

// IsDeleted reports whether the record has been soft-deleted.
func (e *WorkflowExecution) IsDeleted() bool {
	return e.DeletedAt != nil
}

// IsExpired reports whether a cached result is no longer eligible for replay.
func (e *WorkflowExecution) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// Timeout returns the timeout budget as a duration, zero when unbounded.
func (e *WorkflowExecution) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	if e == nil {
		return nil
	}

	clone := *e
	clone.InputData = cloneRaw(e.InputData)
	clone.OutputData = cloneRaw(e.OutputData)
	clone.ContextData = cloneRaw(e.ContextData)
	clone.ResultPayload = cloneRaw(e.ResultPayload)
	clone.ExpiresAt = cloneTime(e.ExpiresAt)
	clone.CompletedAt = cloneTime(e.CompletedAt)
	clone.DeletedAt = cloneTime(e.DeletedAt)

	return &clone
}

// ExecutionFilter narrows execution listings. Zero values match everything.
type ExecutionFilter struct {
	WorkflowName      string
	Status            ExecutionStatus
	CorrelationID     string
	ParentExecutionID string
	IncludeDeleted    bool
	// OldestFirst orders by creation time ascending; listings are newest first otherwise.
	OldestFirst bool
	Limit       int
}

// Less orders two records the way the filter lists them.
func (f ExecutionFilter) Less(a, b *WorkflowExecution) bool {
	if f.OldestFirst {
		return a.CreatedAt.Before(b.CreatedAt)
	}

	return a.CreatedAt.After(b.CreatedAt)
}

// Matches applies the filter to a single record.
func (f ExecutionFilter) Matches(execution *WorkflowExecution) bool {
	if !f.IncludeDeleted && execution.IsDeleted() {
		return false
	}

	if f.WorkflowName != "" && execution.WorkflowName != f.WorkflowName {
		return false
	}

	if f.Status != "" && execution.Status != f.Status {
		return false
	}

	if f.CorrelationID != "" && execution.CorrelationID != f.CorrelationID {
		return false
	}

	if f.ParentExecutionID != "" && execution.ParentExecutionID != f.ParentExecutionID {
		return false
	}

	return true
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}

	return append(json.RawMessage(nil), raw...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := *t

	return &v
}
