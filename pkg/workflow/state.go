package workflow

import (
	"context"

	"github.com/dukex/orderflow/pkg/models"
	"github.com/qmuntal/stateless"
)

type Trigger string

const (
	TriggerComplete   Trigger = "complete"
	TriggerFail       Trigger = "fail"
	TriggerCompensate Trigger = "compensate"
	TriggerPause      Trigger = "pause"
	TriggerResume     Trigger = "resume"
	TriggerCancel     Trigger = "cancel"
	TriggerTimeout    Trigger = "timeout"
	TriggerCleanUp    Trigger = "cleanup"
)

// newStateMachine binds the transition table to the status field of execution.
func newStateMachine(execution *models.WorkflowExecution) *stateless.StateMachine {
	sm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return execution.Status, nil
		},
		func(_ context.Context, state stateless.State) error {
			execution.Status = state.(models.ExecutionStatus)

			return nil
		},
		stateless.FiringImmediate,
	)

	sm.Configure(models.ExecutionStatusRunning).
		Permit(TriggerComplete, models.ExecutionStatusCompleted).
		Permit(TriggerFail, models.ExecutionStatusFailed).
		Permit(TriggerPause, models.ExecutionStatusPaused).
		Permit(TriggerCancel, models.ExecutionStatusCancelled).
		Permit(TriggerTimeout, models.ExecutionStatusTimeout)

	sm.Configure(models.ExecutionStatusPaused).
		Permit(TriggerResume, models.ExecutionStatusRunning).
		Permit(TriggerCancel, models.ExecutionStatusCancelled).
		Permit(TriggerTimeout, models.ExecutionStatusTimeout)

	sm.Configure(models.ExecutionStatusFailed).
		Permit(TriggerCompensate, models.ExecutionStatusCompensated).
		Permit(TriggerCleanUp, models.ExecutionStatusCleanedUp)

	for _, status := range []models.ExecutionStatus{
		models.ExecutionStatusCompleted,
		models.ExecutionStatusCompensated,
		models.ExecutionStatusCancelled,
		models.ExecutionStatusTimeout,
	} {
		sm.Configure(status).Permit(TriggerCleanUp, models.ExecutionStatusCleanedUp)
	}

	sm.Configure(models.ExecutionStatusCleanedUp)

	return sm
}

// Transition applies trigger to the execution status or returns a TransitionError.
func Transition(ctx context.Context, execution *models.WorkflowExecution, trigger Trigger) error {
	sm := newStateMachine(execution)

	ok, err := sm.CanFireCtx(ctx, trigger)
	if err != nil {
		return err
	}

	if !ok {
		return &TransitionError{From: execution.Status, Trigger: trigger}
	}

	return sm.FireCtx(ctx, trigger)
}

// CanTransition reports whether trigger is permitted from status.
func CanTransition(status models.ExecutionStatus, trigger Trigger) bool {
	execution := &models.WorkflowExecution{Status: status}

	ok, err := newStateMachine(execution).CanFireCtx(context.Background(), trigger)

	return err == nil && ok
}
