package workflow

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dukex/orderflow/pkg/models"
)

var (
	ErrWorkflowNotRegistered     = errors.New("workflow not registered")
	ErrWorkflowAlreadyRegistered = errors.New("workflow already registered")
	ErrInvalidInput              = errors.New("invalid workflow input")

	// ErrIdempotencyConflict means another execution with the same key is still in flight.
	ErrIdempotencyConflict = errors.New("idempotency conflict")
	ErrRetriesExhausted    = errors.New("retries exhausted")

	ErrExecutionCancelled = errors.New("execution cancelled")
	ErrExecutionPaused    = errors.New("execution paused")
	ErrExecutionTimeout   = errors.New("execution timed out")
	ErrExecutionNotActive = errors.New("execution is not active")

	// ErrNonDeterministic means a resumed workflow issued steps in a different order.
	ErrNonDeterministic  = errors.New("non-deterministic workflow replay")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// StepError wraps the failure of a single step.
type StepError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q (#%d) failed: %v", e.Step, e.Index, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// PanicError is produced when a step, workflow body or compensation panics.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// CompensationError collects every compensation that did not succeed during one rollback.
type CompensationError struct {
	Failures []*StepError
}

func (e *CompensationError) Error() string {
	messages := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		messages = append(messages, failure.Error())
	}

	return "compensation failed: " + strings.Join(messages, "; ")
}

func (e *CompensationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, failure := range e.Failures {
		errs = append(errs, failure)
	}

	return errs
}

// TransitionError reports a trigger that is not permitted from the current status.
type TransitionError struct {
	From    models.ExecutionStatus
	Trigger Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s execution in status %s", e.Trigger, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsConflict reports whether err is an idempotency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyConflict)
}

func IsNotRegistered(err error) bool {
	return errors.Is(err, ErrWorkflowNotRegistered)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// splitCompensationError separates the original failure from rollback failures joined onto it.
func splitCompensationError(err error) (error, error) {
	var compensationErr *CompensationError
	if !errors.As(err, &compensationErr) {
		return err, nil
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			if inner != compensationErr {
				return inner, compensationErr
			}
		}
	}

	return err, compensationErr
}

// errorType names the innermost meaningful error for the execution record.
func errorType(err error) string {
	if err == nil {
		return ""
	}

	err, _ = splitCompensationError(err)

	var stepErr *StepError
	if errors.As(err, &stepErr) && stepErr.Err != nil {
		err = stepErr.Err
	}

	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return "PanicError"
	}

	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.Name() == "" || t.PkgPath() == "errors" || t.PkgPath() == "fmt" {
		return "error"
	}

	return t.Name()
}
