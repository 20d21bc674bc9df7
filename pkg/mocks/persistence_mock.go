package mocks

import (
	"context"

	"github.com/dukex/orderflow/pkg/models"
	"github.com/dukex/orderflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Executions *MockExecutionRepository
	StepEvents *MockStepEventRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Executions: &MockExecutionRepository{},
		StepEvents: &MockStepEventRepository{},
	}
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.Executions
}

func (m *MockPersistence) StepEventRepository() persistence.StepEventRepository {
	return m.StepEvents
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) FindByIdempotencyKey(ctx context.Context, workflowName, idempotencyKey string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, workflowName, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) List(ctx context.Context, filter models.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

// MockStepEventRepository is a mock implementation of persistence.StepEventRepository interface.
type MockStepEventRepository struct {
	mock.Mock
}

func (m *MockStepEventRepository) Record(ctx context.Context, event *models.WorkflowStepEvent) error {
	args := m.Called(ctx, event)

	return args.Error(0)
}

func (m *MockStepEventRepository) Finalize(ctx context.Context, event *models.WorkflowStepEvent) error {
	args := m.Called(ctx, event)

	return args.Error(0)
}

func (m *MockStepEventRepository) Get(ctx context.Context, executionID string, stepIndex int) (*models.WorkflowStepEvent, error) {
	args := m.Called(ctx, executionID, stepIndex)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowStepEvent), args.Error(1)
}

func (m *MockStepEventRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.WorkflowStepEvent, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowStepEvent), args.Error(1)
}
