package workflow

import (
	"encoding/json"
	"errors"

	"github.com/dukex/orderflow/pkg/models"
)

// Result is the outcome of a workflow run: a success carrying Output or a failure carrying Err.
type Result[O any] struct {
	Output O
	Err    error

	ExecutionID string
	ResultID    string
	Status      models.ExecutionStatus

	// Replayed is set when Output was served from a previous completed execution.
	Replayed bool
	// Compensated is set when at least one compensation ran and all of them succeeded.
	Compensated bool
}

// RawResult is the untyped form returned by RunJSON and Resume.
type RawResult = Result[json.RawMessage]

func Success[O any](output O) Result[O] {
	return Result[O]{Output: output, Status: models.ExecutionStatusCompleted}
}

func Failure[O any](err error) Result[O] {
	return Result[O]{Err: err, Status: models.ExecutionStatusFailed}
}

func (r Result[O]) IsSuccess() bool {
	return r.Err == nil
}

func (r Result[O]) IsFailure() bool {
	return r.Err != nil
}

// IsConflict distinguishes a duplicate in-flight request from an ordinary failure.
func (r Result[O]) IsConflict() bool {
	return errors.Is(r.Err, ErrIdempotencyConflict)
}

func (r Result[O]) Get() (O, error) {
	return r.Output, r.Err
}

func (r Result[O]) withExecution(execution *models.WorkflowExecution) Result[O] {
	r.ExecutionID = execution.ID
	r.ResultID = execution.ResultID
	r.Status = execution.Status

	return r
}
