package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/orderflow/pkg/models"
	"github.com/dukex/orderflow/pkg/persistence"
)

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	root string
	mu   *sync.Mutex
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string, mu *sync.Mutex) *ExecutionRepository {
	return &ExecutionRepository{root: root, mu: mu}
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, "executions")
}

// Create writes a new execution, enforcing the idempotency key constraint.
func (er *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	_, err := er.read(execution.ID)
	if err == nil {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	if !errors.Is(err, persistence.ErrExecutionNotFound) {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	if execution.IdempotencyKey != "" && !execution.IsDeleted() {
		owner, err := er.findLive(execution.WorkflowName, execution.IdempotencyKey)
		if err != nil {
			return persistence.NewExecutionError("Create", execution.ID, err)
		}

		if owner != nil {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrDuplicateIdempotencyKey)
		}
	}

	if execution.Version == 0 {
		execution.Version = 1
	}

	err = er.write(execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

// Update overwrites an execution when its version matches the stored one.
func (er *ExecutionRepository) Update(_ context.Context, execution *models.WorkflowExecution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	stored, err := er.read(execution.ID)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if stored.Version != execution.Version {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrVersionConflict)
	}

	next := execution.Clone()
	next.Version++

	err = er.write(next)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	execution.Version = next.Version

	return nil
}

// GetByID retrieves an execution by its ID from the file system.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, fmt.Errorf("invalid execution ID: %w", err))
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	execution, err := er.read(id)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) FindByIdempotencyKey(_ context.Context, workflowName, idempotencyKey string) (*models.WorkflowExecution, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	if idempotencyKey == "" {
		return nil, persistence.NewExecutionError("FindByIdempotencyKey", "", persistence.ErrExecutionNotFound)
	}

	execution, err := er.findLive(workflowName, idempotencyKey)
	if err != nil {
		return nil, persistence.NewExecutionError("FindByIdempotencyKey", idempotencyKey, err)
	}

	if execution == nil {
		return nil, persistence.NewExecutionError("FindByIdempotencyKey", idempotencyKey, persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

func (er *ExecutionRepository) List(_ context.Context, filter models.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	all, err := er.readAll()
	if err != nil {
		return nil, err
	}

	executions := []*models.WorkflowExecution{}

	for _, execution := range all {
		if filter.Matches(execution) {
			executions = append(executions, execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return filter.Less(executions[i], executions[j])
	})

	if filter.Limit > 0 && len(executions) > filter.Limit {
		executions = executions[:filter.Limit]
	}

	return executions, nil
}

func (er *ExecutionRepository) findLive(workflowName, idempotencyKey string) (*models.WorkflowExecution, error) {
	all, err := er.readAll()
	if err != nil {
		return nil, err
	}

	var latest *models.WorkflowExecution

	for _, execution := range all {
		if execution.IsDeleted() || execution.WorkflowName != workflowName || execution.IdempotencyKey != idempotencyKey {
			continue
		}

		if latest == nil || execution.CreatedAt.After(latest.CreatedAt) {
			latest = execution
		}
	}

	return latest, nil
}

func (er *ExecutionRepository) read(id string) (*models.WorkflowExecution, error) {
	filePath := filepath.Join(er.dir(), id+".json")

	data, err := os.ReadFile(filePath) // #nosec G304 -- id is validated before the path is built
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", id, err)
	}

	var execution models.WorkflowExecution

	err = json.Unmarshal(data, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}

	return &execution, nil
}

func (er *ExecutionRepository) readAll() ([]*models.WorkflowExecution, error) {
	entries, err := os.ReadDir(er.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read executions directory: %w", err)
	}

	var executions []*models.WorkflowExecution

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		execution, err := er.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			// Skip invalid files
			continue
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

func (er *ExecutionRepository) write(execution *models.WorkflowExecution) error {
	err := os.MkdirAll(er.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	return writeFileAtomic(filepath.Join(er.dir(), execution.ID+".json"), data)
}

// writeFileAtomic writes through a temp file so readers never observe partial JSON.
func writeFileAtomic(filePath string, data []byte) error {
	tmp := filePath + ".tmp"

	err := os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}

	err = os.Rename(tmp, filePath)
	if err != nil {
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}

	return nil
}
