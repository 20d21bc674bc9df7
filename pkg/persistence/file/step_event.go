package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dukex/orderflow/pkg/models"
	"github.com/dukex/orderflow/pkg/persistence"
)

// StepEventRepository stores one JSON file per (execution, step index).
type StepEventRepository struct {
	root string
	mu   *sync.Mutex
}

func NewStepEventRepository(root string, mu *sync.Mutex) *StepEventRepository {
	return &StepEventRepository{root: root, mu: mu}
}

func (sr *StepEventRepository) dir(executionID string) string {
	return filepath.Join(sr.root, "step_events", executionID)
}

func (sr *StepEventRepository) path(executionID string, stepIndex int) string {
	return filepath.Join(sr.dir(executionID), strconv.Itoa(stepIndex)+".json")
}

func (sr *StepEventRepository) Record(_ context.Context, event *models.WorkflowStepEvent) error {
	if err := validateID(event.ExecutionID); err != nil {
		return persistence.NewStepEventError("Record", event.ExecutionID, event.StepIndex, err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	_, err := os.Stat(sr.path(event.ExecutionID, event.StepIndex))
	if err == nil {
		return persistence.NewStepEventError("Record", event.ExecutionID, event.StepIndex, persistence.ErrStepEventExists)
	}

	err = sr.write(event)
	if err != nil {
		return persistence.NewStepEventError("Record", event.ExecutionID, event.StepIndex, err)
	}

	return nil
}

func (sr *StepEventRepository) Finalize(_ context.Context, event *models.WorkflowStepEvent) error {
	if err := validateID(event.ExecutionID); err != nil {
		return persistence.NewStepEventError("Finalize", event.ExecutionID, event.StepIndex, err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	stored, err := sr.read(event.ExecutionID, event.StepIndex)
	if err != nil {
		return persistence.NewStepEventError("Finalize", event.ExecutionID, event.StepIndex, err)
	}

	if stored.Status.IsFinal() {
		return persistence.NewStepEventError("Finalize", event.ExecutionID, event.StepIndex, persistence.ErrStepEventFinalized)
	}

	err = sr.write(event)
	if err != nil {
		return persistence.NewStepEventError("Finalize", event.ExecutionID, event.StepIndex, err)
	}

	return nil
}

func (sr *StepEventRepository) Get(_ context.Context, executionID string, stepIndex int) (*models.WorkflowStepEvent, error) {
	if err := validateID(executionID); err != nil {
		return nil, persistence.NewStepEventError("Get", executionID, stepIndex, err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	event, err := sr.read(executionID, stepIndex)
	if err != nil {
		return nil, persistence.NewStepEventError("Get", executionID, stepIndex, err)
	}

	return event, nil
}

func (sr *StepEventRepository) ListByExecution(_ context.Context, executionID string) ([]*models.WorkflowStepEvent, error) {
	if err := validateID(executionID); err != nil {
		return nil, fmt.Errorf("invalid execution ID: %w", err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	events := []*models.WorkflowStepEvent{}

	entries, err := os.ReadDir(sr.dir(executionID))
	if err != nil {
		if os.IsNotExist(err) {
			return events, nil
		}

		return nil, fmt.Errorf("failed to read step events directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		stepIndex, err := strconv.Atoi(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}

		event, err := sr.read(executionID, stepIndex)
		if err != nil {
			continue
		}

		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].StepIndex < events[j].StepIndex
	})

	return events, nil
}

func (sr *StepEventRepository) read(executionID string, stepIndex int) (*models.WorkflowStepEvent, error) {
	data, err := os.ReadFile(sr.path(executionID, stepIndex)) // #nosec G304 -- execution id is validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrStepEventNotFound
		}

		return nil, fmt.Errorf("failed to read step event: %w", err)
	}

	var event models.WorkflowStepEvent

	err = json.Unmarshal(data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal step event: %w", err)
	}

	return &event, nil
}

func (sr *StepEventRepository) write(event *models.WorkflowStepEvent) error {
	err := os.MkdirAll(sr.dir(event.ExecutionID), 0750)
	if err != nil {
		return fmt.Errorf("failed to create step events directory: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal step event: %w", err)
	}

	return writeFileAtomic(sr.path(event.ExecutionID, event.StepIndex), data)
}
