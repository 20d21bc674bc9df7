package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/orderflow/pkg/models"
	"github.com/dukex/orderflow/pkg/persistence"
	"github.com/lib/pq"
)

const executionColumns = `
	id, workflow_name, parent_execution_id, correlation_id, idempotency_key, status,
	input_data, output_data, context_data, error_message, error_type,
	retry_count, max_retries, timeout_seconds, result_id, result_payload, expires_at,
	created_at, updated_at, completed_at, deleted_at, version
`

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Create inserts a new execution. The partial unique index on
// (idempotency_key, workflow_name) makes the insert the arbiter between
// concurrent requests carrying the same key.
func (er *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	if execution.Version == 0 {
		execution.Version = 1
	}

	query := `
		INSERT INTO workflow_executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	_, err := er.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowName,
		nullString(execution.ParentExecutionID),
		nullString(execution.CorrelationID),
		nullString(execution.IdempotencyKey),
		execution.Status,
		nullJSON(execution.InputData),
		nullJSON(execution.OutputData),
		nullJSON(execution.ContextData),
		nullString(execution.ErrorMessage),
		nullString(execution.ErrorType),
		execution.RetryCount,
		execution.MaxRetries,
		execution.TimeoutSeconds,
		nullString(execution.ResultID),
		nullJSON(execution.ResultPayload),
		execution.ExpiresAt,
		execution.CreatedAt,
		execution.UpdatedAt,
		execution.CompletedAt,
		execution.DeletedAt,
		execution.Version,
	)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, er.translate(err))
	}

	return nil
}

// Update writes the execution when the stored version matches and bumps the version.
func (er *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	query := `
		UPDATE workflow_executions SET
			workflow_name = $2,
			parent_execution_id = $3,
			correlation_id = $4,
			idempotency_key = $5,
			status = $6,
			input_data = $7,
			output_data = $8,
			context_data = $9,
			error_message = $10,
			error_type = $11,
			retry_count = $12,
			max_retries = $13,
			timeout_seconds = $14,
			result_id = $15,
			result_payload = $16,
			expires_at = $17,
			updated_at = $18,
			completed_at = $19,
			deleted_at = $20,
			version = version + 1
		WHERE id = $1 AND version = $21
	`

	result, err := er.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowName,
		nullString(execution.ParentExecutionID),
		nullString(execution.CorrelationID),
		nullString(execution.IdempotencyKey),
		execution.Status,
		nullJSON(execution.InputData),
		nullJSON(execution.OutputData),
		nullJSON(execution.ContextData),
		nullString(execution.ErrorMessage),
		nullString(execution.ErrorType),
		execution.RetryCount,
		execution.MaxRetries,
		execution.TimeoutSeconds,
		nullString(execution.ResultID),
		nullJSON(execution.ResultPayload),
		execution.ExpiresAt,
		execution.UpdatedAt,
		execution.CompletedAt,
		execution.DeletedAt,
		execution.Version,
	)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, er.translate(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if rowsAffected == 0 {
		var exists bool

		err = er.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM workflow_executions WHERE id = $1)", execution.ID).Scan(&exists)
		if err != nil {
			return persistence.NewExecutionError("Update", execution.ID, err)
		}

		if !exists {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrVersionConflict)
	}

	execution.Version++

	return nil
}

// GetByID retrieves an execution by its ID from the database.
func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	execution, err := er.scanExecution(er.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, fmt.Errorf("failed to scan execution: %w", err))
	}

	return execution, nil
}

// FindByIdempotencyKey returns the live execution owning the key for the workflow.
func (er *ExecutionRepository) FindByIdempotencyKey(ctx context.Context, workflowName, idempotencyKey string) (*models.WorkflowExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE workflow_name = $1 AND idempotency_key = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`

	execution, err := er.scanExecution(er.db.QueryRowContext(ctx, query, workflowName, idempotencyKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("FindByIdempotencyKey", idempotencyKey, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("FindByIdempotencyKey", idempotencyKey, fmt.Errorf("failed to scan execution: %w", err))
	}

	return execution, nil
}

// List returns executions matching the filter, newest first unless OldestFirst is set.
func (er *ExecutionRepository) List(ctx context.Context, filter models.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	var (
		conditions []string
		args       []any
	)

	addCondition := func(column string, value any) {
		args = append(args, value)
		conditions = append(conditions, column+" = $"+strconv.Itoa(len(args)))
	}

	if !filter.IncludeDeleted {
		conditions = append(conditions, "deleted_at IS NULL")
	}

	if filter.WorkflowName != "" {
		addCondition("workflow_name", filter.WorkflowName)
	}

	if filter.Status != "" {
		addCondition("status", filter.Status)
	}

	if filter.CorrelationID != "" {
		addCondition("correlation_id", filter.CorrelationID)
	}

	if filter.ParentExecutionID != "" {
		addCondition("parent_execution_id", filter.ParentExecutionID)
	}

	query := `SELECT ` + executionColumns + ` FROM workflow_executions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	if filter.OldestFirst {
		query += " ORDER BY created_at ASC"
	} else {
		query += " ORDER BY created_at DESC"
	}

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := er.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			er.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	executions := []*models.WorkflowExecution{}

	for rows.Next() {
		execution, err := er.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (er *ExecutionRepository) translate(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}

	if pqErr.Constraint == "workflow_executions_pkey" {
		return persistence.ErrExecutionAlreadyExists
	}

	return persistence.ErrDuplicateIdempotencyKey
}

// scanExecution scans an execution from a database row.
func (er *ExecutionRepository) scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowExecution, error) {
	var (
		execution                                      models.WorkflowExecution
		parentID, correlationID, idempotencyKey        sql.NullString
		errorMessage, errorType, resultID              sql.NullString
		inputJSON, outputJSON, contextJSON, resultJSON []byte
		expiresAt, completedAt, deletedAt              sql.NullTime
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.WorkflowName,
		&parentID,
		&correlationID,
		&idempotencyKey,
		&execution.Status,
		&inputJSON,
		&outputJSON,
		&contextJSON,
		&errorMessage,
		&errorType,
		&execution.RetryCount,
		&execution.MaxRetries,
		&execution.TimeoutSeconds,
		&resultID,
		&resultJSON,
		&expiresAt,
		&execution.CreatedAt,
		&execution.UpdatedAt,
		&completedAt,
		&deletedAt,
		&execution.Version,
	)
	if err != nil {
		return nil, err
	}

	execution.ParentExecutionID = parentID.String
	execution.CorrelationID = correlationID.String
	execution.IdempotencyKey = idempotencyKey.String
	execution.ErrorMessage = errorMessage.String
	execution.ErrorType = errorType.String
	execution.ResultID = resultID.String
	execution.InputData = rawJSON(inputJSON)
	execution.OutputData = rawJSON(outputJSON)
	execution.ContextData = rawJSON(contextJSON)
	execution.ResultPayload = rawJSON(resultJSON)
	execution.ExpiresAt = timePtr(expiresAt)
	execution.CompletedAt = timePtr(completedAt)
	execution.DeletedAt = timePtr(deletedAt)

	return &execution, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	v := t.Time

	return &v
}
