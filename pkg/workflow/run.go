package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/orderflow/pkg/events"
	"github.com/dukex/orderflow/pkg/log"
	"github.com/dukex/orderflow/pkg/models"
	"github.com/dukex/orderflow/pkg/otelhelper"
	"github.com/dukex/orderflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type driveMode int

const (
	modeStart driveMode = iota
	modeResume
	// modeUnwind replays a paused run only to rebuild and run its compensations.
	modeUnwind
)

type driveOptions struct {
	mode     driveMode
	signal   signal
	history  []*models.WorkflowStepEvent
	metadata map[string]any
}

// run is the engine-side state of one execution being driven by one goroutine.
type run struct {
	engine     *Engine
	definition Definition
	execution  *models.WorkflowExecution
	control    *control
	history    map[int]*models.WorkflowStepEvent
	logger     *slog.Logger
	started    time.Time
	deadline   time.Time

	compensated int
}

type stepAttempt struct {
	event  *models.WorkflowStepEvent
	ctx    context.Context
	span   trace.Span
	replay bool
}

func (a *stepAttempt) replayed() bool {
	return a.replay
}

func (e *Engine) drive(ctx context.Context, definition Definition, execution *models.WorkflowExecution, options driveOptions, fn body) RawResult {
	ctl := e.track(execution.ID)
	defer e.untrack(execution.ID)

	if options.mode == modeUnwind {
		ctl.request(options.signal)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowNameKey, execution.WorkflowName),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.CorrelationIDKey, execution.CorrelationID),
		attribute.String(otelhelper.IdempotencyKeyKey, execution.IdempotencyKey),
	)
	defer span.End()

	r := &run{
		engine:     e,
		definition: definition,
		execution:  execution,
		control:    ctl,
		history:    make(map[int]*models.WorkflowStepEvent, len(options.history)),
		logger: e.logger.With(
			"execution_id", execution.ID,
			"workflow_name", execution.WorkflowName,
			"correlation_id", execution.CorrelationID,
		),
		started: e.now(),
	}

	for _, event := range options.history {
		r.history[event.StepIndex] = event
	}

	// The budget covers the whole execution, paused time included.
	if timeout := execution.Timeout(); timeout > 0 {
		r.deadline = execution.CreatedAt.Add(timeout)
	}

	wctx := newExecutionContext(execution, e.publisher)
	wctx.run = r

	err := wctx.restore(execution.ContextData)
	if err != nil {
		r.logger.WarnContext(ctx, "Ignoring unreadable context snapshot", "error", err)
	}

	for key, value := range options.metadata {
		wctx.AddMetadata(key, value)
	}

	switch options.mode {
	case modeStart:
		r.logger.InfoContext(ctx, "Starting workflow execution", "retry_count", execution.RetryCount)
		e.publish(ctx, execution.CorrelationID, events.ExecutionStarted{
			BaseEvent:         r.baseEvent(events.ExecutionStartedEvent),
			ParentExecutionID: execution.ParentExecutionID,
			IdempotencyKey:    execution.IdempotencyKey,
			RetryCount:        execution.RetryCount,
		})
	case modeResume:
		r.logger.InfoContext(ctx, "Resuming workflow execution", "replayed_steps", len(r.history))
	case modeUnwind:
		r.logger.InfoContext(ctx, "Compensating paused workflow execution", "replayed_steps", len(r.history))
	}

	result := fn(log.WithLogger(ctx, r.logger), wctx)

	result = r.finish(ctx, wctx, result)

	span.SetAttributes(attribute.String(otelhelper.ExecutionStatusKey, string(result.Status)))

	if result.IsFailure() {
		otelhelper.SetError(span, result.Err)
	}

	return result
}

func (r *run) baseEvent(eventType events.EventType) events.BaseEvent {
	return events.NewBaseEvent(eventType, r.execution.ID, r.execution.WorkflowName, r.execution.CorrelationID)
}

// checkBoundary decides whether a new step may start.
func (r *run) checkBoundary(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutionCancelled, err)
	}

	switch r.control.pending() {
	case signalCancel:
		return ErrExecutionCancelled
	case signalTimeout:
		return ErrExecutionTimeout
	case signalPause:
		return ErrExecutionPaused
	case signalNone:
	}

	if !r.deadline.IsZero() && !r.engine.now().Before(r.deadline) {
		return ErrExecutionTimeout
	}

	return nil
}

func (r *run) beginStep(ctx context.Context, wctx *Context, index int, name string, input any) (*stepAttempt, error) {
	var event *models.WorkflowStepEvent

	if recorded, ok := r.history[index]; ok {
		if recorded.StepName != name {
			return nil, fmt.Errorf("%w: step %d was %q, now %q", ErrNonDeterministic, index, recorded.StepName, name)
		}

		switch recorded.Status {
		case models.StepStatusCompleted:
			r.logger.DebugContext(ctx, "Replaying completed step", "step_name", name, "step_index", index)

			_, span := otelhelper.StartSpan(ctx, r.engine.tracer, "workflow.step",
				attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
				attribute.String(otelhelper.StepNameKey, name),
				attribute.Int(otelhelper.StepIndexKey, index),
				attribute.Bool(otelhelper.ReplayedKey, true),
			)
			span.End()

			return &stepAttempt{event: recorded, replay: true}, nil
		case models.StepStatusFailed:
			return nil, fmt.Errorf("%w: step %d already failed", ErrNonDeterministic, index)
		case models.StepStatusRunning:
			// Interrupted mid-step: run it again and finalize the existing event.
			event = recorded
		}
	}

	err := r.checkBoundary(ctx)
	if err != nil {
		return nil, err
	}

	logger := r.logger.With("step_name", name, "step_index", index)

	if event == nil {
		inputData, err := json.Marshal(input)
		if err != nil {
			logger.WarnContext(ctx, "Step input is not serializable", "error", err)
		}

		event = &models.WorkflowStepEvent{
			ExecutionID:  r.execution.ID,
			WorkflowName: r.execution.WorkflowName,
			StepName:     name,
			StepIndex:    index,
			TotalSteps:   r.definition.settings().steps,
			Status:       models.StepStatusRunning,
			InputData:    inputData,
			StartedAt:    r.engine.now(),
		}

		err = r.engine.persistence.StepEventRepository().Record(ctx, event)
		if err != nil {
			return nil, &StepError{Step: name, Index: index, Err: fmt.Errorf("failed to record step: %w", err)}
		}
	}

	stepCtx, span := otelhelper.StartSpan(ctx, r.engine.tracer, "workflow.step",
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
		attribute.String(otelhelper.StepNameKey, name),
		attribute.Int(otelhelper.StepIndexKey, index),
		attribute.Bool(otelhelper.ReplayedKey, false),
	)

	logger.InfoContext(ctx, "Executing step")

	return &stepAttempt{event: event, ctx: log.WithLogger(stepCtx, logger), span: span}, nil
}

func (r *run) completeStep(ctx context.Context, wctx *Context, attempt *stepAttempt, output, compensationInput any, compensable bool) error {
	defer attempt.span.End()

	// A finished step is recorded even if the caller gave up meanwhile.
	ctx = context.WithoutCancel(ctx)
	event := attempt.event

	outputData, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to encode step output: %w", err)
	}

	event.OutputData = outputData

	if compensable {
		event.CompensationData, err = json.Marshal(compensationInput)
		if err != nil {
			return fmt.Errorf("failed to encode compensation input: %w", err)
		}
	}

	event.Finalize(models.StepStatusCompleted, r.engine.now())

	err = r.engine.persistence.StepEventRepository().Finalize(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to finalize step: %w", err)
	}

	snapshot, err := wctx.snapshot()
	if err != nil {
		r.logger.WarnContext(ctx, "Skipping context snapshot", "step_index", event.StepIndex, "error", err)
	} else {
		r.execution.ContextData = snapshot
	}

	err = r.save(ctx)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	r.logger.InfoContext(ctx, "Step completed",
		"step_name", event.StepName,
		"step_index", event.StepIndex,
		"duration_ms", event.DurationMs,
	)

	r.engine.publish(ctx, r.execution.CorrelationID, events.StepCompleted{
		BaseEvent:  r.baseEvent(events.StepCompletedEvent),
		StepName:   event.StepName,
		StepIndex:  event.StepIndex,
		DurationMs: event.DurationMs,
	})

	return nil
}

func (r *run) failStep(ctx context.Context, _ *Context, attempt *stepAttempt, stepErr *StepError) {
	defer attempt.span.End()

	ctx = context.WithoutCancel(ctx)

	otelhelper.SetError(attempt.span, stepErr)

	event := attempt.event
	event.ErrorMessage = stepErr.Err.Error()
	event.ErrorType = errorType(stepErr)
	event.Finalize(models.StepStatusFailed, r.engine.now())

	err := r.engine.persistence.StepEventRepository().Finalize(ctx, event)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to finalize failed step", "step_index", event.StepIndex, "error", err)
	}

	r.logger.ErrorContext(ctx, "Step failed",
		"step_name", event.StepName,
		"step_index", event.StepIndex,
		"duration_ms", event.DurationMs,
		"error", stepErr.Err,
	)

	r.engine.publish(ctx, r.execution.CorrelationID, events.StepFailed{
		BaseEvent:  r.baseEvent(events.StepFailedEvent),
		StepName:   event.StepName,
		StepIndex:  event.StepIndex,
		Error:      stepErr.Err.Error(),
		DurationMs: event.DurationMs,
	})
}

// compensate calls one compensation, retrying it up to CompensationAttempts times.
func (r *run) compensate(ctx context.Context, wctx *Context, entry compensation) error {
	ctx, span := otelhelper.StartSpan(ctx, r.engine.tracer, "workflow.compensate",
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
		attribute.String(otelhelper.StepNameKey, entry.step),
		attribute.Int(otelhelper.StepIndexKey, entry.index),
	)
	defer span.End()

	logger := r.logger.With("step_name", entry.step, "step_index", entry.index)
	ctx = log.WithLogger(ctx, logger)

	attempts := uint64(r.engine.config.CompensationAttempts) //nolint:gosec // validated positive
	backoff := retry.WithMaxRetries(attempts-1, retry.NewConstant(r.engine.config.CompensationBackoff))

	attempt := 0

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		err := safeCall(func() error { return entry.call(ctx, wctx) })
		if err != nil {
			logger.WarnContext(ctx, "Compensation attempt failed", "attempt", attempt, "error", err)

			return retry.RetryableError(err)
		}

		return nil
	})

	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Compensation failed", "attempts", attempt, "error", err)

		r.engine.publish(ctx, r.execution.CorrelationID, events.StepCompensation{
			BaseEvent: r.baseEvent(events.StepCompensationFailedEvent),
			StepName:  entry.step,
			StepIndex: entry.index,
			Error:     err.Error(),
		})

		return err
	}

	r.compensated++

	logger.InfoContext(ctx, "Step compensated")

	r.engine.publish(ctx, r.execution.CorrelationID, events.StepCompensation{
		BaseEvent: r.baseEvent(events.StepCompensatedEvent),
		StepName:  entry.step,
		StepIndex: entry.index,
	})

	return nil
}

// save writes the execution. On a version conflict it reloads the record,
// picks up pause, cancel or timeout requests made elsewhere, and retries.
func (r *run) save(ctx context.Context) error {
	return retry.Do(ctx, saveBackoff(), func(ctx context.Context) error {
		latest, err := r.store(ctx)
		if latest == nil {
			return err
		}

		r.adopt(ctx, latest)

		return retry.RetryableError(err)
	})
}

func saveBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewConstant(10*time.Millisecond))
}

// store writes the execution once. On a version conflict it returns the
// stored record along with the conflict.
func (r *run) store(ctx context.Context) (*models.WorkflowExecution, error) {
	repo := r.engine.persistence.ExecutionRepository()
	r.execution.UpdatedAt = r.engine.now()

	err := repo.Update(ctx, r.execution)
	if err == nil || !persistence.IsVersionConflict(err) {
		return nil, err
	}

	latest, getErr := repo.GetByID(ctx, r.execution.ID)
	if getErr != nil {
		return nil, getErr
	}

	return latest, err
}

// adopt takes the version of the stored record and applies a pause, cancel or
// timeout written there, as long as the current status permits it.
func (r *run) adopt(ctx context.Context, latest *models.WorkflowExecution) {
	r.execution.Version = latest.Version
	r.execution.DeletedAt = latest.DeletedAt

	if latest.Status == r.execution.Status {
		return
	}

	var (
		trigger Trigger
		sig     signal
	)

	switch latest.Status {
	case models.ExecutionStatusPaused:
		trigger, sig = TriggerPause, signalPause
	case models.ExecutionStatusCancelled:
		trigger, sig = TriggerCancel, signalCancel
	case models.ExecutionStatusTimeout:
		trigger, sig = TriggerTimeout, signalTimeout
	default:
		r.logger.WarnContext(ctx, "Ignoring stored execution status", "status", r.execution.Status, "stored_status", latest.Status)

		return
	}

	err := Transition(ctx, r.execution, trigger)
	if err != nil {
		r.logger.WarnContext(ctx, "Ignoring stored execution status", "status", r.execution.Status, "stored_status", latest.Status, "error", err)

		return
	}

	r.logger.InfoContext(ctx, "Execution status changed elsewhere", "status", latest.Status)
	r.control.request(sig)
}

// finish settles the final status of the run and persists it. When the write
// conflicts with a signal stored meanwhile, the outcome is settled again from
// the adopted status, rolling back a success that was cancelled or timed out.
func (r *run) finish(ctx context.Context, wctx *Context, result RawResult) RawResult {
	ctx = context.WithoutCancel(ctx)

	var (
		eventType events.EventType
		now       time.Time
	)

	err := retry.Do(ctx, saveBackoff(), func(ctx context.Context) error {
		status := r.execution.Status
		now = r.engine.now()

		result = r.interrupt(ctx, wctx, result)
		eventType = r.settle(ctx, wctx, result, now)

		latest, err := r.store(ctx)
		if latest == nil {
			return err
		}

		r.execution.Status = status
		r.adopt(ctx, latest)

		return retry.RetryableError(err)
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist execution outcome", "status", r.execution.Status, "error", err)
	}

	r.announce(ctx, eventType, result, now)

	return result.withExecution(r.execution)
}

// interrupt turns a success or a pause into a rolled back failure when a
// cancel or timeout is pending.
func (r *run) interrupt(ctx context.Context, wctx *Context, result RawResult) RawResult {
	if result.IsFailure() && !errors.Is(result.Err, ErrExecutionPaused) {
		return result
	}

	hook := r.definition.settings().compensate

	switch r.control.pending() {
	case signalCancel:
		return rollbackFailure[json.RawMessage](ctx, wctx, hook, ErrExecutionCancelled)
	case signalTimeout:
		return rollbackFailure[json.RawMessage](ctx, wctx, hook, ErrExecutionTimeout)
	case signalNone, signalPause:
	}

	return result
}

// settle moves the execution to the status matching result and fills in the
// outcome fields. A status adopted from the store that the table does not let
// the outcome leave, such as CANCELLED, is kept.
func (r *run) settle(ctx context.Context, wctx *Context, result RawResult, now time.Time) events.EventType {
	execution := r.execution
	paused := errors.Is(result.Err, ErrExecutionPaused)

	if execution.Status == models.ExecutionStatusPaused && !paused {
		r.transition(ctx, TriggerResume, models.ExecutionStatusRunning)
	}

	switch {
	case execution.Status.IsTerminal():
	case result.IsSuccess():
		r.transition(ctx, TriggerComplete, models.ExecutionStatusCompleted)
	case paused:
		r.transition(ctx, TriggerPause, models.ExecutionStatusPaused)
	case errors.Is(result.Err, ErrExecutionCancelled):
		r.transition(ctx, TriggerCancel, models.ExecutionStatusCancelled)
	case errors.Is(result.Err, ErrExecutionTimeout):
		r.transition(ctx, TriggerTimeout, models.ExecutionStatusTimeout)
	default:
		r.transition(ctx, TriggerFail, models.ExecutionStatusFailed)

		if result.Compensated && execution.Status == models.ExecutionStatusFailed {
			r.transition(ctx, TriggerCompensate, models.ExecutionStatusCompensated)
		}
	}

	snapshot, err := wctx.snapshot()
	if err == nil && snapshot != nil {
		execution.ContextData = snapshot
	}

	switch {
	case execution.Status == models.ExecutionStatusCompleted:
		execution.OutputData = result.Output
		execution.ResultID = uuid.New().String()
		execution.ResultPayload = result.Output
		execution.CompletedAt = &now
		execution.ExpiresAt = nil

		if ttl := r.engine.config.ResultTTL; ttl > 0 {
			expiresAt := now.Add(ttl)
			execution.ExpiresAt = &expiresAt
		}
	case execution.Status == models.ExecutionStatusPaused:
	default:
		execution.OutputData = nil
		execution.ResultID = ""
		execution.ResultPayload = nil
		execution.ExpiresAt = nil
		execution.CompletedAt = &now

		if result.IsFailure() {
			execution.ErrorMessage = result.Err.Error()
			execution.ErrorType = errorType(result.Err)
		}
	}

	return outcomeEvent(execution.Status)
}

func outcomeEvent(status models.ExecutionStatus) events.EventType {
	switch status {
	case models.ExecutionStatusCompleted:
		return events.ExecutionCompletedEvent
	case models.ExecutionStatusPaused:
		return events.ExecutionPausedEvent
	case models.ExecutionStatusCancelled:
		return events.ExecutionCancelledEvent
	case models.ExecutionStatusTimeout:
		return events.ExecutionTimeoutEvent
	case models.ExecutionStatusCompensated:
		return events.ExecutionCompensatedEvent
	default:
		return events.ExecutionFailedEvent
	}
}

func (r *run) transition(ctx context.Context, trigger Trigger, target models.ExecutionStatus) {
	if r.execution.Status == target {
		return
	}

	err := Transition(ctx, r.execution, trigger)
	if err != nil {
		r.logger.ErrorContext(ctx, "Keeping execution status", "status", r.execution.Status, "trigger", trigger, "error", err)
	}
}

func (r *run) announce(ctx context.Context, eventType events.EventType, result RawResult, now time.Time) {
	execution := r.execution
	durationMs := now.Sub(r.started).Milliseconds()

	switch eventType {
	case events.ExecutionCompletedEvent:
		r.logger.InfoContext(ctx, "Workflow execution completed", "duration_ms", durationMs)
		r.engine.publish(ctx, execution.CorrelationID, events.ExecutionCompleted{
			BaseEvent:  r.baseEvent(eventType),
			ResultID:   execution.ResultID,
			DurationMs: durationMs,
		})
	case events.ExecutionPausedEvent:
		r.logger.InfoContext(ctx, "Workflow execution paused")
		r.engine.publish(ctx, execution.CorrelationID, events.ExecutionTransitioned{
			BaseEvent: r.baseEvent(eventType),
			From:      string(models.ExecutionStatusRunning),
			To:        string(models.ExecutionStatusPaused),
		})
	default:
		primary, compensationErr := splitCompensationError(result.Err)

		r.logger.ErrorContext(ctx, "Workflow execution did not complete",
			"status", execution.Status,
			"duration_ms", durationMs,
			"error", primary,
			"compensation_error", compensationErr,
		)

		event := events.ExecutionFailed{
			BaseEvent:  r.baseEvent(eventType),
			Status:     string(execution.Status),
			Error:      primary.Error(),
			ErrorType:  execution.ErrorType,
			DurationMs: durationMs,
		}

		event.CompensatedSteps = r.compensated

		if compensationErr != nil {
			event.CompensationError = compensationErr.Error()
		}

		r.engine.publish(ctx, execution.CorrelationID, event)
	}
}
