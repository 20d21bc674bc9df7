package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/orderflow/pkg/models"
	"github.com/dukex/orderflow/pkg/persistence"
)

const stepEventColumns = `
	execution_id, workflow_name, step_name, step_index, total_steps, status,
	input_data, output_data, compensation_data, error_message, error_type,
	duration_ms, started_at, completed_at
`

// StepEventRepository handles step event database operations.
type StepEventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStepEventRepository creates a new step event repository.
func NewStepEventRepository(db *sql.DB, logger *slog.Logger) *StepEventRepository {
	return &StepEventRepository{db: db, logger: logger}
}

// Record inserts a RUNNING event; the (execution_id, step_index) constraint rejects duplicates.
func (sr *StepEventRepository) Record(ctx context.Context, event *models.WorkflowStepEvent) error {
	query := `
		INSERT INTO workflow_step_events (` + stepEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (execution_id, step_index) DO NOTHING
	`

	result, err := sr.db.ExecContext(ctx, query,
		event.ExecutionID,
		event.WorkflowName,
		event.StepName,
		event.StepIndex,
		event.TotalSteps,
		event.Status,
		nullJSON(event.InputData),
		nullJSON(event.OutputData),
		nullJSON(event.CompensationData),
		nullString(event.ErrorMessage),
		nullString(event.ErrorType),
		event.DurationMs,
		event.StartedAt,
		event.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			err = persistence.ErrStepEventExists
		}

		return persistence.NewStepEventError("Record", event.ExecutionID, event.StepIndex, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStepEventError("Record", event.ExecutionID, event.StepIndex, err)
	}

	if rowsAffected == 0 {
		return persistence.NewStepEventError("Record", event.ExecutionID, event.StepIndex, persistence.ErrStepEventExists)
	}

	return nil
}

// Finalize writes the final state of a RUNNING event.
func (sr *StepEventRepository) Finalize(ctx context.Context, event *models.WorkflowStepEvent) error {
	query := `
		UPDATE workflow_step_events SET
			status = $3,
			output_data = $4,
			compensation_data = $5,
			error_message = $6,
			error_type = $7,
			duration_ms = $8,
			completed_at = $9
		WHERE execution_id = $1 AND step_index = $2 AND status = 'RUNNING'
	`

	result, err := sr.db.ExecContext(ctx, query,
		event.ExecutionID,
		event.StepIndex,
		event.Status,
		nullJSON(event.OutputData),
		nullJSON(event.CompensationData),
		nullString(event.ErrorMessage),
		nullString(event.ErrorType),
		event.DurationMs,
		event.CompletedAt,
	)
	if err != nil {
		return persistence.NewStepEventError("Finalize", event.ExecutionID, event.StepIndex, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStepEventError("Finalize", event.ExecutionID, event.StepIndex, err)
	}

	if rowsAffected > 0 {
		return nil
	}

	_, err = sr.Get(ctx, event.ExecutionID, event.StepIndex)
	if err != nil {
		return persistence.NewStepEventError("Finalize", event.ExecutionID, event.StepIndex, persistence.ErrStepEventNotFound)
	}

	return persistence.NewStepEventError("Finalize", event.ExecutionID, event.StepIndex, persistence.ErrStepEventFinalized)
}

func (sr *StepEventRepository) Get(ctx context.Context, executionID string, stepIndex int) (*models.WorkflowStepEvent, error) {
	query := `SELECT ` + stepEventColumns + ` FROM workflow_step_events WHERE execution_id = $1 AND step_index = $2`

	event, err := sr.scanStepEvent(sr.db.QueryRowContext(ctx, query, executionID, stepIndex))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStepEventError("Get", executionID, stepIndex, persistence.ErrStepEventNotFound)
		}

		return nil, persistence.NewStepEventError("Get", executionID, stepIndex, fmt.Errorf("failed to scan step event: %w", err))
	}

	return event, nil
}

// ListByExecution returns the events of an execution ordered by step index.
func (sr *StepEventRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.WorkflowStepEvent, error) {
	query := `SELECT ` + stepEventColumns + ` FROM workflow_step_events WHERE execution_id = $1 ORDER BY step_index`

	rows, err := sr.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step events: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			sr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	events := []*models.WorkflowStepEvent{}

	for rows.Next() {
		event, err := sr.scanStepEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step event: %w", err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step events: %w", err)
	}

	return events, nil
}

func (sr *StepEventRepository) scanStepEvent(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowStepEvent, error) {
	var (
		event                                   models.WorkflowStepEvent
		inputJSON, outputJSON, compensationJSON []byte
		errorMessage, errorType                 sql.NullString
		completedAt                             sql.NullTime
	)

	err := scanner.Scan(
		&event.ExecutionID,
		&event.WorkflowName,
		&event.StepName,
		&event.StepIndex,
		&event.TotalSteps,
		&event.Status,
		&inputJSON,
		&outputJSON,
		&compensationJSON,
		&errorMessage,
		&errorType,
		&event.DurationMs,
		&event.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	event.InputData = rawJSON(inputJSON)
	event.OutputData = rawJSON(outputJSON)
	event.CompensationData = rawJSON(compensationJSON)
	event.ErrorMessage = errorMessage.String
	event.ErrorType = errorType.String
	event.CompletedAt = timePtr(completedAt)

	return &event, nil
}
