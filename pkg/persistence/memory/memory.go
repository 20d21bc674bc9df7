// Package memory provides an in-process persistence implementation backed by go-memdb.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/dukex/orderflow/pkg/models"
	"github.com/dukex/orderflow/pkg/persistence"
	"github.com/hashicorp/go-memdb"
)

const (
	executionsTable = "executions"
	stepEventsTable = "step_events"
)

// executionRow is the indexed envelope stored in memdb; stored values are never mutated.
type executionRow struct {
	ID               string
	IdempotencyScope string
	Execution        *models.WorkflowExecution
}

type stepEventRow struct {
	Key         string
	ExecutionID string
	Event       *models.WorkflowStepEvent
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			executionsTable: {
				Name: executionsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"idempotency": {
						Name:         "idempotency",
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "IdempotencyScope"},
					},
				},
			},
			stepEventsTable: {
				Name: stepEventsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
					"execution": {
						Name:    "execution",
						Indexer: &memdb.StringFieldIndex{Field: "ExecutionID"},
					},
				},
			},
		},
	}
}

// Persistence implements persistence.Persistence in memory.
type Persistence struct {
	db            *memdb.MemDB
	executionRepo *ExecutionRepository
	stepEventRepo *StepEventRepository
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() (*Persistence, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}

	return &Persistence{
		db:            db,
		executionRepo: &ExecutionRepository{db: db},
		stepEventRepo: &StepEventRepository{db: db},
	}, nil
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) StepEventRepository() persistence.StepEventRepository {
	return p.stepEventRepo
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// ExecutionRepository handles execution records in memdb.
type ExecutionRepository struct {
	db *memdb.MemDB
}

func idempotencyScope(workflowName, idempotencyKey string) string {
	if idempotencyKey == "" {
		return ""
	}

	return workflowName + "\x00" + idempotencyKey
}

func newExecutionRow(execution *models.WorkflowExecution) *executionRow {
	return &executionRow{
		ID:               execution.ID,
		IdempotencyScope: idempotencyScope(execution.WorkflowName, execution.IdempotencyKey),
		Execution:        execution.Clone(),
	}
}

// liveByScope returns the non-deleted execution owning the idempotency scope.
func liveByScope(txn *memdb.Txn, scope string) (*models.WorkflowExecution, error) {
	it, err := txn.Get(executionsTable, "idempotency", scope)
	if err != nil {
		return nil, err
	}

	var latest *models.WorkflowExecution

	for obj := it.Next(); obj != nil; obj = it.Next() {
		execution := obj.(*executionRow).Execution
		if execution.IsDeleted() {
			continue
		}

		if latest == nil || execution.CreatedAt.After(latest.CreatedAt) {
			latest = execution
		}
	}

	return latest, nil
}

func (r *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(executionsTable, "id", execution.ID)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	if existing != nil {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	if scope := idempotencyScope(execution.WorkflowName, execution.IdempotencyKey); scope != "" && !execution.IsDeleted() {
		owner, err := liveByScope(txn, scope)
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

	err = txn.Insert(executionsTable, newExecutionRow(execution))
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	txn.Commit()

	return nil
}

func (r *ExecutionRepository) Update(_ context.Context, execution *models.WorkflowExecution) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	obj, err := txn.First(executionsTable, "id", execution.ID)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if obj == nil {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	if obj.(*executionRow).Execution.Version != execution.Version {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrVersionConflict)
	}

	next := execution.Clone()
	next.Version++

	row := newExecutionRow(next)

	err = txn.Insert(executionsTable, row)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	txn.Commit()

	execution.Version = next.Version

	return nil
}

func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	txn := r.db.Txn(false)

	obj, err := txn.First(executionsTable, "id", id)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	if obj == nil {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return obj.(*executionRow).Execution.Clone(), nil
}

func (r *ExecutionRepository) FindByIdempotencyKey(_ context.Context, workflowName, idempotencyKey string) (*models.WorkflowExecution, error) {
	scope := idempotencyScope(workflowName, idempotencyKey)
	if scope == "" {
		return nil, persistence.NewExecutionError("FindByIdempotencyKey", "", persistence.ErrExecutionNotFound)
	}

	execution, err := liveByScope(r.db.Txn(false), scope)
	if err != nil {
		return nil, persistence.NewExecutionError("FindByIdempotencyKey", idempotencyKey, err)
	}

	if execution == nil {
		return nil, persistence.NewExecutionError("FindByIdempotencyKey", idempotencyKey, persistence.ErrExecutionNotFound)
	}

	return execution.Clone(), nil
}

func (r *ExecutionRepository) List(_ context.Context, filter models.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	it, err := r.db.Txn(false).Get(executionsTable, "id")
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions := []*models.WorkflowExecution{}

	for obj := it.Next(); obj != nil; obj = it.Next() {
		execution := obj.(*executionRow).Execution
		if filter.Matches(execution) {
			executions = append(executions, execution.Clone())
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

// StepEventRepository handles step events in memdb.
type StepEventRepository struct {
	db *memdb.MemDB
}

func stepEventKey(executionID string, stepIndex int) string {
	return executionID + "/" + strconv.Itoa(stepIndex)
}

func (r *StepEventRepository) Record(_ context.Context, event *models.WorkflowStepEvent) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	key := stepEventKey(event.ExecutionID, event.StepIndex)

	existing, err := txn.First(stepEventsTable, "id", key)
	if err != nil {
		return persistence.NewStepEventError("Record", event.ExecutionID, event.StepIndex, err)
	}

	if existing != nil {
		return persistence.NewStepEventError("Record", event.ExecutionID, event.StepIndex, persistence.ErrStepEventExists)
	}

	err = txn.Insert(stepEventsTable, &stepEventRow{Key: key, ExecutionID: event.ExecutionID, Event: event.Clone()})
	if err != nil {
		return persistence.NewStepEventError("Record", event.ExecutionID, event.StepIndex, err)
	}

	txn.Commit()

	return nil
}

func (r *StepEventRepository) Finalize(_ context.Context, event *models.WorkflowStepEvent) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	key := stepEventKey(event.ExecutionID, event.StepIndex)

	obj, err := txn.First(stepEventsTable, "id", key)
	if err != nil {
		return persistence.NewStepEventError("Finalize", event.ExecutionID, event.StepIndex, err)
	}

	if obj == nil {
		return persistence.NewStepEventError("Finalize", event.ExecutionID, event.StepIndex, persistence.ErrStepEventNotFound)
	}

	if obj.(*stepEventRow).Event.Status.IsFinal() {
		return persistence.NewStepEventError("Finalize", event.ExecutionID, event.StepIndex, persistence.ErrStepEventFinalized)
	}

	err = txn.Insert(stepEventsTable, &stepEventRow{Key: key, ExecutionID: event.ExecutionID, Event: event.Clone()})
	if err != nil {
		return persistence.NewStepEventError("Finalize", event.ExecutionID, event.StepIndex, err)
	}

	txn.Commit()

	return nil
}

func (r *StepEventRepository) Get(_ context.Context, executionID string, stepIndex int) (*models.WorkflowStepEvent, error) {
	obj, err := r.db.Txn(false).First(stepEventsTable, "id", stepEventKey(executionID, stepIndex))
	if err != nil {
		return nil, persistence.NewStepEventError("Get", executionID, stepIndex, err)
	}

	if obj == nil {
		return nil, persistence.NewStepEventError("Get", executionID, stepIndex, persistence.ErrStepEventNotFound)
	}

	return obj.(*stepEventRow).Event.Clone(), nil
}

func (r *StepEventRepository) ListByExecution(_ context.Context, executionID string) ([]*models.WorkflowStepEvent, error) {
	it, err := r.db.Txn(false).Get(stepEventsTable, "execution", executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step events for execution %s: %w", executionID, err)
	}

	events := []*models.WorkflowStepEvent{}

	for obj := it.Next(); obj != nil; obj = it.Next() {
		events = append(events, obj.(*stepEventRow).Event.Clone())
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].StepIndex < events[j].StepIndex
	})

	return events, nil
}
