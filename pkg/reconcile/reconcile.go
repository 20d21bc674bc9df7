// Package reconcile runs a periodic sweep over stored executions: runs past
// their timeout or without progress are timed out, and expired records are
// cleaned up.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/orderflow/pkg/eventbus"
	"github.com/dukex/orderflow/pkg/events"
	"github.com/dukex/orderflow/pkg/models"
	"github.com/dukex/orderflow/pkg/persistence"
	"github.com/dukex/orderflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

type Config struct {
	// Schedule is a standard cron expression or descriptor such as "@every 1m".
	Schedule string `validate:"required"`

	// StaleAfter times out RUNNING executions without their own timeout once
	// they have not been updated for this long. Zero leaves them alone.
	// Executions with a timeout are measured from their creation instead.
	StaleAfter time.Duration `validate:"gte=0"`

	// Retention is how long failed, compensated, cancelled and timed out
	// executions are kept. Completed ones are kept until they expire.
	Retention time.Duration `validate:"gte=0"`

	BatchSize int `validate:"min=1,max=10000"`
}

func DefaultConfig() Config {
	return Config{
		Schedule:   "@every 1m",
		StaleAfter: time.Hour,
		Retention:  7 * 24 * time.Hour,
		BatchSize:  500,
	}
}

// Tracker reports whether an execution is being driven in this process.
type Tracker interface {
	IsActive(executionID string) bool
}

// Expirer times out a paused execution and compensates its completed steps.
// A Tracker that also implements Expirer handles paused executions past
// their timeout; otherwise they are only marked TIMEOUT.
type Expirer interface {
	Expire(ctx context.Context, executionID string) error
}

type Report struct {
	TimedOut  int `json:"timed_out"`
	CleanedUp int `json:"cleaned_up"`
}

type Reconciler struct {
	persistence persistence.Persistence
	tracker     Tracker
	publisher   eventbus.EventPublisher
	config      Config
	logger      *slog.Logger
	now         func() time.Time
	cron        *cron.Cron
}

type Option func(*Reconciler)

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(r *Reconciler) { r.publisher = publisher }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func New(store persistence.Persistence, tracker Tracker, config Config, logger *slog.Logger, opts ...Option) (*Reconciler, error) {
	err := validator.New().Struct(config)
	if err != nil {
		return nil, fmt.Errorf("invalid reconciler config: %w", err)
	}

	_, err = cron.ParseStandard(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	r := &Reconciler{
		persistence: store,
		tracker:     tracker,
		config:      config,
		logger:      logger.With("module", "reconciler", "schedule", config.Schedule),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Start schedules Sweep. Runs never overlap; a panic in one is logged and
// does not stop the schedule.
func (r *Reconciler) Start(ctx context.Context) error {
	logger := cronLogger{logger: r.logger}

	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))

	id, err := r.cron.AddFunc(r.config.Schedule, func() {
		_, err := r.Sweep(ctx)
		if err != nil {
			r.logger.ErrorContext(ctx, "Reconciliation sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reconciler: %w", err)
	}

	r.logger.Info("Starting reconciler", "entry_id", id)
	r.cron.Start()

	return nil
}

// Stop unschedules Sweep and waits for a running sweep to finish.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}

	r.logger.Info("Stopping reconciler")

	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep runs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	var report Report

	timedOut, err := r.timeOutStale(ctx)
	report.TimedOut = timedOut

	if err != nil {
		return report, err
	}

	cleanedUp, err := r.cleanUpExpired(ctx)
	report.CleanedUp = cleanedUp

	if err != nil {
		return report, err
	}

	if report.TimedOut > 0 || report.CleanedUp > 0 {
		r.logger.InfoContext(ctx, "Reconciliation sweep finished", "timed_out", report.TimedOut, "cleaned_up", report.CleanedUp)
	}

	return report, nil
}

func (r *Reconciler) timeOutStale(ctx context.Context) (int, error) {
	now := r.now()
	count := 0

	for _, status := range []models.ExecutionStatus{models.ExecutionStatusRunning, models.ExecutionStatusPaused} {
		executions, err := r.persistence.ExecutionRepository().List(ctx, models.ExecutionFilter{
			Status:      status,
			OldestFirst: true,
			Limit:       r.config.BatchSize,
		})
		if err != nil {
			return count, fmt.Errorf("failed to list %s executions: %w", status, err)
		}

		for _, execution := range executions {
			if r.tracker != nil && r.tracker.IsActive(execution.ID) {
				continue
			}

			deadline, reason, ok := r.deadline(execution)
			if !ok || now.Before(deadline) {
				continue
			}

			timedOut, err := r.timeOut(ctx, execution, reason, now)
			if err != nil {
				return count, err
			}

			if timedOut {
				count++
			}
		}
	}

	return count, nil
}

// deadline is when execution counts as timed out: its own timeout measured
// from creation, or StaleAfter since the last update for RUNNING executions
// without one.
func (r *Reconciler) deadline(execution *models.WorkflowExecution) (time.Time, string, bool) {
	if timeout := execution.Timeout(); timeout > 0 {
		return execution.CreatedAt.Add(timeout), fmt.Sprintf("exceeded %s since %s", timeout, execution.CreatedAt.Format(time.RFC3339)), true
	}

	if execution.Status != models.ExecutionStatusRunning || r.config.StaleAfter == 0 {
		return time.Time{}, "", false
	}

	return execution.UpdatedAt.Add(r.config.StaleAfter), "no progress since " + execution.UpdatedAt.Format(time.RFC3339), true
}

func (r *Reconciler) timeOut(ctx context.Context, execution *models.WorkflowExecution, reason string, now time.Time) (bool, error) {
	logger := r.logger.With(
		"execution_id", execution.ID,
		"workflow_name", execution.WorkflowName,
		"status", execution.Status,
		"reason", reason,
	)

	if expirer, ok := r.tracker.(Expirer); ok && execution.Status == models.ExecutionStatusPaused {
		err := expirer.Expire(ctx, execution.ID)
		if err != nil {
			logger.WarnContext(ctx, "Failed to expire paused execution", "error", err)

			return false, nil
		}

		logger.WarnContext(ctx, "Timed out paused execution")

		return true, nil
	}

	execution.ErrorMessage = fmt.Sprintf("%s: %s", workflow.ErrExecutionTimeout, reason)
	execution.ErrorType = "error"
	execution.CompletedAt = &now

	ok, err := r.apply(ctx, execution, workflow.TriggerTimeout, now)
	if err != nil || !ok {
		return false, err
	}

	logger.WarnContext(ctx, "Timed out stale execution")

	r.publish(ctx, execution, events.ExecutionFailed{
		BaseEvent: events.NewBaseEvent(events.ExecutionTimeoutEvent, execution.ID, execution.WorkflowName, execution.CorrelationID),
		Status:    string(execution.Status),
		Error:     execution.ErrorMessage,
		ErrorType: execution.ErrorType,
	})

	return true, nil
}

func (r *Reconciler) cleanUpExpired(ctx context.Context) (int, error) {
	now := r.now()
	count := 0

	for _, status := range []models.ExecutionStatus{
		models.ExecutionStatusCompleted,
		models.ExecutionStatusFailed,
		models.ExecutionStatusCompensated,
		models.ExecutionStatusCancelled,
		models.ExecutionStatusTimeout,
	} {
		executions, err := r.persistence.ExecutionRepository().List(ctx, models.ExecutionFilter{
			Status:      status,
			OldestFirst: true,
			Limit:       r.config.BatchSize,
		})
		if err != nil {
			return count, fmt.Errorf("failed to list %s executions: %w", status, err)
		}

		for _, execution := range executions {
			if !r.expired(execution, now) {
				continue
			}

			from := execution.Status
			execution.DeletedAt = &now

			ok, err := r.apply(ctx, execution, workflow.TriggerCleanUp, now)
			if err != nil {
				return count, err
			}

			if !ok {
				continue
			}

			count++

			r.logger.DebugContext(ctx, "Cleaned up execution", "execution_id", execution.ID, "status", from)

			r.publish(ctx, execution, events.ExecutionTransitioned{
				BaseEvent: events.NewBaseEvent(events.ExecutionCleanedUpEvent, execution.ID, execution.WorkflowName, execution.CorrelationID),
				From:      string(from),
				To:        string(execution.Status),
			})
		}
	}

	return count, nil
}

func (r *Reconciler) expired(execution *models.WorkflowExecution, now time.Time) bool {
	if execution.Status == models.ExecutionStatusCompleted {
		return execution.IsExpired(now)
	}

	if r.config.Retention == 0 || execution.CompletedAt == nil {
		return false
	}

	return !now.Before(execution.CompletedAt.Add(r.config.Retention))
}

// apply transitions and stores execution. It reports false when the record
// changed underneath, which leaves it for the next sweep.
func (r *Reconciler) apply(ctx context.Context, execution *models.WorkflowExecution, trigger workflow.Trigger, now time.Time) (bool, error) {
	err := workflow.Transition(ctx, execution, trigger)
	if err != nil {
		return false, fmt.Errorf("failed to %s execution %s: %w", trigger, execution.ID, err)
	}

	execution.UpdatedAt = now

	err = r.persistence.ExecutionRepository().Update(ctx, execution)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, persistence.ErrVersionConflict):
		r.logger.DebugContext(ctx, "Execution changed during sweep", "execution_id", execution.ID)

		return false, nil
	default:
		return false, fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}
}

func (r *Reconciler) publish(ctx context.Context, execution *models.WorkflowExecution, event eventbus.Event) {
	if r.publisher == nil {
		return
	}

	err := r.publisher.Publish(ctx, execution.CorrelationID, event)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
