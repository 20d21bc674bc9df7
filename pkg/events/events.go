// Package events defines the lifecycle notifications emitted by the workflow engine.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries engine lifecycle events and workflow domain events.
const Topic = "orderflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent     EventType = "workflow.execution.started"
	ExecutionCompletedEvent   EventType = "workflow.execution.completed"
	ExecutionFailedEvent      EventType = "workflow.execution.failed"
	ExecutionCompensatedEvent EventType = "workflow.execution.compensated"
	ExecutionCancelledEvent   EventType = "workflow.execution.cancelled"
	ExecutionTimeoutEvent     EventType = "workflow.execution.timeout"
	ExecutionPausedEvent      EventType = "workflow.execution.paused"
	ExecutionResumedEvent     EventType = "workflow.execution.resumed"
	ExecutionCleanedUpEvent   EventType = "workflow.execution.cleaned_up"

	// Step events.
	StepCompletedEvent          EventType = "workflow.step.completed"
	StepFailedEvent             EventType = "workflow.step.failed"
	StepCompensatedEvent        EventType = "workflow.step.compensated"
	StepCompensationFailedEvent EventType = "workflow.step.compensation_failed"
)

type BaseEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	ExecutionID   string         `json:"execution_id"`
	WorkflowName  string         `json:"workflow_name"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, executionID, workflowName, correlationID string) BaseEvent {
	return BaseEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		ExecutionID:   executionID,
		WorkflowName:  workflowName,
		CorrelationID: correlationID,
		Metadata:      make(map[string]any),
	}
}

type ExecutionStarted struct {
	BaseEvent

	ParentExecutionID string `json:"parent_execution_id,omitempty"`
	IdempotencyKey    string `json:"idempotency_key,omitempty"`
	RetryCount        int    `json:"retry_count"`
	Resumed           bool   `json:"resumed,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ResultID   string `json:"result_id"`
	DurationMs int64  `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

// ExecutionFailed is emitted for FAILED, COMPENSATED, CANCELLED and TIMEOUT outcomes;
// Type tells them apart.
type ExecutionFailed struct {
	BaseEvent

	Status            string `json:"status"`
	Error             string `json:"error"`
	ErrorType         string `json:"error_type,omitempty"`
	CompensatedSteps  int    `json:"compensated_steps"`
	CompensationError string `json:"compensation_error,omitempty"`
	DurationMs        int64  `json:"duration_ms"`
}

func (e ExecutionFailed) GetType() EventType {
	return e.Type
}

// ExecutionTransitioned covers status changes without a failure: pause, resume and cleanup.
type ExecutionTransitioned struct {
	BaseEvent

	From string `json:"from"`
	To   string `json:"to"`
}

func (e ExecutionTransitioned) GetType() EventType {
	return e.Type
}

type StepCompleted struct {
	BaseEvent

	StepName   string `json:"step_name"`
	StepIndex  int    `json:"step_index"`
	DurationMs int64  `json:"duration_ms"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	StepName   string `json:"step_name"`
	StepIndex  int    `json:"step_index"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}

// StepCompensation reports the outcome of one compensation call.
type StepCompensation struct {
	BaseEvent

	StepName  string `json:"step_name"`
	StepIndex int    `json:"step_index"`
	Error     string `json:"error,omitempty"`
}

func (e StepCompensation) GetType() EventType {
	return e.Type
}
