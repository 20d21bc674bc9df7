// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrDuplicateIdempotencyKey indicates a live execution already owns the idempotency key.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrExecutionAlreadyExists indicates an execution with the same identifier already exists.
	ErrExecutionAlreadyExists = errors.New("execution already exists")

	// ErrVersionConflict indicates the record was modified since it was read.
	ErrVersionConflict = errors.New("execution version conflict")

	// ErrStepEventNotFound indicates no event exists for the execution and step index.
	ErrStepEventNotFound = errors.New("step event not found")

	// ErrStepEventExists indicates an event was already recorded for the execution and step index.
	ErrStepEventExists = errors.New("step event already recorded")

	// ErrStepEventFinalized indicates the event is already completed or failed.
	ErrStepEventFinalized = errors.New("step event already finalized")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "GetByID", "Create", "Update")
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for execution errors.
func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// StepEventError wraps step event errors with additional context.
type StepEventError struct {
	Op          string
	ExecutionID string
	StepIndex   int
	Err         error
}

func (e *StepEventError) Error() string {
	return fmt.Sprintf("%s operation failed for step %d of execution %s: %v", e.Op, e.StepIndex, e.ExecutionID, e.Err)
}

func (e *StepEventError) Unwrap() error {
	return e.Err
}

func (e *StepEventError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewStepEventError(op, executionID string, stepIndex int, err error) *StepEventError {
	return &StepEventError{
		Op:          op,
		ExecutionID: executionID,
		StepIndex:   stepIndex,
		Err:         err,
	}
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsDuplicateIdempotencyKey checks if an error indicates an idempotency key collision.
func IsDuplicateIdempotencyKey(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsVersionConflict checks if an error indicates an optimistic locking failure.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsStepEventExists checks if an error indicates a step event was already recorded.
func IsStepEventExists(err error) bool {
	return errors.Is(err, ErrStepEventExists)
}
