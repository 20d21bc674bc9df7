package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dukex/orderflow/pkg/events"
	"github.com/dukex/orderflow/pkg/models"
)

type signal int

const (
	signalNone signal = iota
	signalPause
	signalCancel
	signalTimeout
)

// control carries out-of-band requests to a running execution. They are
// honoured at the next step boundary.
type control struct {
	mu  sync.Mutex
	sig signal
}

// request records s unless a stronger signal is already pending; cancel and
// timeout win over pause.
func (c *control) request(s signal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sig == signalNone || c.sig == signalPause {
		c.sig = s
	}
}

func (c *control) clearPause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sig != signalPause {
		return false
	}

	c.sig = signalNone

	return true
}

func (c *control) pending() signal {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sig
}

func (e *Engine) track(executionID string) *control {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctl := &control{}
	e.active[executionID] = ctl

	return ctl
}

func (e *Engine) untrack(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.active, executionID)
}

func (e *Engine) activeControl(executionID string) *control {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.active[executionID]
}

// IsActive reports whether this engine is currently driving the execution.
func (e *Engine) IsActive(executionID string) bool {
	return e.activeControl(executionID) != nil
}

// Pause asks an execution to stop before its next step. Executions driven by
// another process are paused in the store; their owner stops when it notices.
func (e *Engine) Pause(ctx context.Context, executionID string) error {
	if ctl := e.activeControl(executionID); ctl != nil {
		ctl.request(signalPause)
		e.logger.InfoContext(ctx, "Pause requested", "execution_id", executionID)

		return nil
	}

	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status == models.ExecutionStatusPaused {
		return nil
	}

	return e.transitionStored(ctx, execution, TriggerPause, events.ExecutionPausedEvent)
}

// Resume continues a paused execution in the calling goroutine. Completed
// steps are replayed from their events; their bodies do not run again.
func (e *Engine) Resume(ctx context.Context, executionID string) (RawResult, error) {
	if ctl := e.activeControl(executionID); ctl != nil {
		if ctl.clearPause() {
			return RawResult{ExecutionID: executionID, Status: models.ExecutionStatusRunning}, nil
		}

		return RawResult{}, &TransitionError{From: models.ExecutionStatusRunning, Trigger: TriggerResume}
	}

	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return RawResult{}, err
	}

	if execution.Status != models.ExecutionStatusPaused {
		return RawResult{}, &TransitionError{From: execution.Status, Trigger: TriggerResume}
	}

	definition, history, err := e.loadForReplay(ctx, execution)
	if err != nil {
		return RawResult{}, err
	}

	err = e.transitionStored(ctx, execution, TriggerResume, events.ExecutionResumedEvent)
	if err != nil {
		return RawResult{}, err
	}

	return e.drive(ctx, definition, execution, driveOptions{mode: modeResume, history: history}, e.replayBody(definition, execution)), nil
}

// Cancel stops an execution and compensates its completed steps. A paused
// execution is compensated in the calling goroutine; a running one at its
// next step boundary.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	if ctl := e.activeControl(executionID); ctl != nil {
		ctl.request(signalCancel)
		e.logger.InfoContext(ctx, "Cancellation requested", "execution_id", executionID)

		return nil
	}

	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	switch execution.Status {
	case models.ExecutionStatusRunning:
		return e.transitionStored(ctx, execution, TriggerCancel, events.ExecutionCancelledEvent)
	case models.ExecutionStatusPaused:
		return e.unwind(ctx, execution, signalCancel, models.ExecutionStatusCancelled)
	default:
		return &TransitionError{From: execution.Status, Trigger: TriggerCancel}
	}
}

// Expire times out a paused execution and compensates its completed steps in
// the calling goroutine. Running executions time out on their own.
func (e *Engine) Expire(ctx context.Context, executionID string) error {
	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status != models.ExecutionStatusPaused || e.IsActive(executionID) {
		return &TransitionError{From: execution.Status, Trigger: TriggerTimeout}
	}

	return e.unwind(ctx, execution, signalTimeout, models.ExecutionStatusTimeout)
}

// unwind replays a paused execution with sig pending, which rolls it back
// and leaves it in target.
func (e *Engine) unwind(ctx context.Context, execution *models.WorkflowExecution, sig signal, target models.ExecutionStatus) error {
	definition, history, err := e.loadForReplay(ctx, execution)
	if err != nil {
		return err
	}

	options := driveOptions{mode: modeUnwind, signal: sig, history: history}

	result := e.drive(ctx, definition, execution, options, e.replayBody(definition, execution))
	if result.Status != target {
		return fmt.Errorf("execution %s ended as %s instead of %s: %w", execution.ID, result.Status, target, result.Err)
	}

	return nil
}

func (e *Engine) loadForReplay(ctx context.Context, execution *models.WorkflowExecution) (Definition, []*models.WorkflowStepEvent, error) {
	definition, err := e.lookup(execution.WorkflowName)
	if err != nil {
		return nil, nil, err
	}

	history, err := e.persistence.StepEventRepository().ListByExecution(ctx, execution.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load step history: %w", err)
	}

	return definition, history, nil
}

func (e *Engine) replayBody(definition Definition, execution *models.WorkflowExecution) body {
	input := execution.InputData
	if len(input) == 0 {
		input = json.RawMessage("null")
	}

	return func(ctx context.Context, wctx *Context) RawResult {
		return definition.executeJSON(ctx, wctx, input)
	}
}

// transitionStored applies trigger to an execution nobody is driving locally.
func (e *Engine) transitionStored(ctx context.Context, execution *models.WorkflowExecution, trigger Trigger, eventType events.EventType) error {
	from := execution.Status

	err := Transition(ctx, execution, trigger)
	if err != nil {
		return err
	}

	execution.UpdatedAt = e.now()

	err = e.persistence.ExecutionRepository().Update(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to %s execution %s: %w", trigger, execution.ID, err)
	}

	e.logger.InfoContext(ctx, "Execution status changed",
		"execution_id", execution.ID,
		"workflow_name", execution.WorkflowName,
		"from", from,
		"to", execution.Status,
	)

	base := events.NewBaseEvent(eventType, execution.ID, execution.WorkflowName, execution.CorrelationID)

	if eventType == events.ExecutionCancelledEvent {
		e.publish(ctx, execution.CorrelationID, events.ExecutionFailed{
			BaseEvent: base,
			Status:    string(execution.Status),
			Error:     ErrExecutionCancelled.Error(),
		})

		return nil
	}

	e.publish(ctx, execution.CorrelationID, events.ExecutionTransitioned{
		BaseEvent: base,
		From:      string(from),
		To:        string(execution.Status),
	})

	return nil
}
