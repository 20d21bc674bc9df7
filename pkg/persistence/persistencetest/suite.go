// Package persistencetest holds the behaviour every persistence implementation must satisfy.
package persistencetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dukex/orderflow/pkg/models"
	"github.com/dukex/orderflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for each subtest.
type Factory func(t *testing.T) persistence.Persistence

// NewExecution builds a RUNNING execution suitable for repository tests.
func NewExecution(t *testing.T, workflowName, idempotencyKey string) *models.WorkflowExecution {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)

	return &models.WorkflowExecution{
		ID:             uuid.New().String(),
		WorkflowName:   workflowName,
		IdempotencyKey: idempotencyKey,
		CorrelationID:  "corr-" + workflowName,
		Status:         models.ExecutionStatusRunning,
		InputData:      json.RawMessage(`{"cart_id":"cart-1"}`),
		MaxRetries:     3,
		TimeoutSeconds: 30,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Run executes the shared contract against the store produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, factory(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory(t)) })
	t.Run("DuplicateIdempotencyKey", func(t *testing.T) { testDuplicateIdempotencyKey(t, factory(t)) })
	t.Run("SoftDeletedKeyCanBeReused", func(t *testing.T) { testSoftDeletedKeyCanBeReused(t, factory(t)) })
	t.Run("ConcurrentCreateSameKey", func(t *testing.T) { testConcurrentCreateSameKey(t, factory(t)) })
	t.Run("UpdateChecksVersion", func(t *testing.T) { testUpdateChecksVersion(t, factory(t)) })
	t.Run("List", func(t *testing.T) { testList(t, factory(t)) })
	t.Run("StepEventsAreUniquePerIndex", func(t *testing.T) { testStepEventsUnique(t, factory(t)) })
	t.Run("StepEventsFinalizeOnce", func(t *testing.T) { testStepEventsFinalizeOnce(t, factory(t)) })
}

func testCreateAndGet(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()

	execution := NewExecution(t, "checkout", "key-1")
	require.NoError(t, repo.Create(ctx, execution))
	assert.Equal(t, int64(1), execution.Version)

	retrieved, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)

	assert.Equal(t, execution.ID, retrieved.ID)
	assert.Equal(t, execution.WorkflowName, retrieved.WorkflowName)
	assert.Equal(t, execution.IdempotencyKey, retrieved.IdempotencyKey)
	assert.Equal(t, execution.CorrelationID, retrieved.CorrelationID)
	assert.Equal(t, models.ExecutionStatusRunning, retrieved.Status)
	assert.JSONEq(t, `{"cart_id":"cart-1"}`, string(retrieved.InputData))
	assert.Equal(t, 3, retrieved.MaxRetries)
	assert.Equal(t, 30, retrieved.TimeoutSeconds)
	assert.Equal(t, int64(1), retrieved.Version)
	assert.True(t, execution.CreatedAt.Equal(retrieved.CreatedAt))
	assert.Nil(t, retrieved.DeletedAt)

	found, err := repo.FindByIdempotencyKey(ctx, "checkout", "key-1")
	require.NoError(t, err)
	assert.Equal(t, execution.ID, found.ID)

	_, err = repo.FindByIdempotencyKey(ctx, "other-workflow", "key-1")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func testGetMissing(t *testing.T, p persistence.Persistence) {
	_, err := p.ExecutionRepository().GetByID(context.Background(), uuid.New().String())
	require.Error(t, err)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func testDuplicateIdempotencyKey(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()

	require.NoError(t, repo.Create(ctx, NewExecution(t, "checkout", "dup")))

	err := repo.Create(ctx, NewExecution(t, "checkout", "dup"))
	require.Error(t, err)
	assert.True(t, persistence.IsDuplicateIdempotencyKey(err))

	// the same key under another workflow name is independent
	require.NoError(t, repo.Create(ctx, NewExecution(t, "refund", "dup")))

	// executions without a key never collide
	require.NoError(t, repo.Create(ctx, NewExecution(t, "checkout", "")))
	require.NoError(t, repo.Create(ctx, NewExecution(t, "checkout", "")))
}

func testSoftDeletedKeyCanBeReused(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()

	first := NewExecution(t, "checkout", "retry-key")
	require.NoError(t, repo.Create(ctx, first))

	deletedAt := time.Now().UTC()
	first.Status = models.ExecutionStatusFailed
	first.DeletedAt = &deletedAt
	require.NoError(t, repo.Update(ctx, first))

	_, err := repo.FindByIdempotencyKey(ctx, "checkout", "retry-key")
	assert.True(t, persistence.IsExecutionNotFound(err))

	second := NewExecution(t, "checkout", "retry-key")
	second.RetryCount = 1
	require.NoError(t, repo.Create(ctx, second))

	found, err := repo.FindByIdempotencyKey(ctx, "checkout", "retry-key")
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)
	assert.Equal(t, 1, found.RetryCount)
}

func testConcurrentCreateSameKey(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()

	const attempts = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)

	for range attempts {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := repo.Create(ctx, NewExecution(t, "checkout", "race"))

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				created++
			case persistence.IsDuplicateIdempotencyKey(err):
				conflicts++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, attempts-1, conflicts)
}

func testUpdateChecksVersion(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()

	execution := NewExecution(t, "checkout", "")
	require.NoError(t, repo.Create(ctx, execution))

	stale := execution.Clone()

	completedAt := time.Now().UTC().Truncate(time.Microsecond)
	execution.Status = models.ExecutionStatusCompleted
	execution.OutputData = json.RawMessage(`{"order_id":"order-1"}`)
	execution.ResultID = "result-1"
	execution.ResultPayload = json.RawMessage(`{"order_id":"order-1"}`)
	execution.ContextData = json.RawMessage(`{"reservation_id":"res-1"}`)
	execution.CompletedAt = &completedAt
	require.NoError(t, repo.Update(ctx, execution))
	assert.Equal(t, int64(2), execution.Version)

	stale.Status = models.ExecutionStatusFailed
	err := repo.Update(ctx, stale)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))

	retrieved, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, retrieved.Status)
	assert.Equal(t, "result-1", retrieved.ResultID)
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(retrieved.ResultPayload))
	assert.JSONEq(t, `{"reservation_id":"res-1"}`, string(retrieved.ContextData))
	require.NotNil(t, retrieved.CompletedAt)
	assert.True(t, completedAt.Equal(*retrieved.CompletedAt))
	assert.Equal(t, int64(2), retrieved.Version)

	missing := NewExecution(t, "checkout", "")
	missing.Version = 1
	err = repo.Update(ctx, missing)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func testList(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()

	running := NewExecution(t, "checkout", "")
	require.NoError(t, repo.Create(ctx, running))

	failed := NewExecution(t, "checkout", "")
	failed.Status = models.ExecutionStatusFailed
	failed.CreatedAt = failed.CreatedAt.Add(time.Second)
	require.NoError(t, repo.Create(ctx, failed))

	child := NewExecution(t, "reserve-stock", "")
	child.ParentExecutionID = running.ID
	require.NoError(t, repo.Create(ctx, child))

	all, err := repo.List(ctx, models.ExecutionFilter{WorkflowName: "checkout"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, failed.ID, all[0].ID, "newest first")

	byStatus, err := repo.List(ctx, models.ExecutionFilter{Status: models.ExecutionStatusFailed})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, failed.ID, byStatus[0].ID)

	children, err := repo.List(ctx, models.ExecutionFilter{ParentExecutionID: running.ID})
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)

	limited, err := repo.List(ctx, models.ExecutionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	oldest, err := repo.List(ctx, models.ExecutionFilter{WorkflowName: "checkout", OldestFirst: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, oldest, 1)
	assert.Equal(t, running.ID, oldest[0].ID)
}

func newStepEvent(executionID string, index int) *models.WorkflowStepEvent {
	return &models.WorkflowStepEvent{
		ExecutionID:  executionID,
		WorkflowName: "checkout",
		StepName:     "reserve-inventory",
		StepIndex:    index,
		TotalSteps:   3,
		Status:       models.StepStatusRunning,
		InputData:    json.RawMessage(`{"sku":"sku-1"}`),
		StartedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

func testStepEventsUnique(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()

	execution := NewExecution(t, "checkout", "")
	require.NoError(t, p.ExecutionRepository().Create(ctx, execution))

	events := p.StepEventRepository()

	require.NoError(t, events.Record(ctx, newStepEvent(execution.ID, 0)))

	err := events.Record(ctx, newStepEvent(execution.ID, 0))
	require.Error(t, err)
	assert.True(t, persistence.IsStepEventExists(err))

	require.NoError(t, events.Record(ctx, newStepEvent(execution.ID, 1)))

	list, err := events.ListByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 0, list[0].StepIndex)
	assert.Equal(t, 1, list[1].StepIndex)
}

func testStepEventsFinalizeOnce(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()

	execution := NewExecution(t, "checkout", "")
	require.NoError(t, p.ExecutionRepository().Create(ctx, execution))

	events := p.StepEventRepository()

	event := newStepEvent(execution.ID, 0)
	require.NoError(t, events.Record(ctx, event))

	event.OutputData = json.RawMessage(`{"reservation_id":"res-1"}`)
	event.CompensationData = json.RawMessage(`{"sku":"sku-1"}`)
	event.Finalize(models.StepStatusCompleted, event.StartedAt.Add(25*time.Millisecond))
	require.NoError(t, events.Finalize(ctx, event))

	stored, err := events.Get(ctx, execution.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, stored.Status)
	assert.Equal(t, int64(25), stored.DurationMs)
	assert.JSONEq(t, `{"reservation_id":"res-1"}`, string(stored.OutputData))
	assert.JSONEq(t, `{"sku":"sku-1"}`, string(stored.CompensationData))

	event.Status = models.StepStatusFailed
	err = events.Finalize(ctx, event)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrStepEventFinalized)

	_, err = events.Get(ctx, execution.ID, 7)
	assert.ErrorIs(t, err, persistence.ErrStepEventNotFound)
}
