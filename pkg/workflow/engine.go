// Package workflow implements a saga engine: workflows run named steps in
// order, completed steps are compensated in reverse on failure, and every run
// is recorded for idempotent replay.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukex/orderflow/pkg/eventbus"
	"github.com/dukex/orderflow/pkg/lock"
	"github.com/dukex/orderflow/pkg/log"
	"github.com/dukex/orderflow/pkg/models"
	"github.com/dukex/orderflow/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Engine struct {
	persistence persistence.Persistence
	config      Config
	publisher   eventbus.EventPublisher
	locker      lock.Locker
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.RWMutex
	workflows map[string]Definition
	active    map[string]*control
}

func NewEngine(store persistence.Persistence, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		persistence: store,
		config:      DefaultConfig(),
		workflows:   make(map[string]Definition),
		active:      make(map[string]*control),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.persistence == nil {
		return nil, fmt.Errorf("workflow engine requires persistence")
	}

	err := e.config.Validate()
	if err != nil {
		return nil, err
	}

	if e.locker == nil {
		e.locker = lock.NewMemoryLocker()
	}

	if e.tracer == nil {
		e.tracer = otel.Tracer("orderflow/workflow")
	}

	if e.logger == nil {
		e.logger = log.WithModule("workflow_engine")
	}

	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}

	return e, nil
}

// Register adds workflows by name. A name can only be registered once.
func (e *Engine) Register(definitions ...Definition) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, definition := range definitions {
		name := definition.Name()
		if name == "" {
			return fmt.Errorf("%w: workflow name is required", ErrInvalidInput)
		}

		if _, exists := e.workflows[name]; exists {
			return fmt.Errorf("%w: %s", ErrWorkflowAlreadyRegistered, name)
		}

		if err := definition.settings().schemaErr; err != nil {
			return fmt.Errorf("%w: input schema of %s: %v", ErrInvalidInput, name, err)
		}

		e.workflows[name] = definition
		e.logger.Info("Registered workflow", "workflow_name", name)
	}

	return nil
}

// Workflows returns the registered definitions sorted by name.
func (e *Engine) Workflows() []Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	definitions := make([]Definition, 0, len(e.workflows))
	for _, definition := range e.workflows {
		definitions = append(definitions, definition)
	}

	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].Name() < definitions[j].Name()
	})

	return definitions
}

func (e *Engine) lookup(name string) (Definition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	definition, ok := e.workflows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotRegistered, name)
	}

	return definition, nil
}

// Run executes the workflow registered under name with a typed input.
func Run[I, O any](ctx context.Context, e *Engine, name string, input I, opts ...RunOption) Result[O] {
	definition, err := e.lookup(name)
	if err != nil {
		return Failure[O](err)
	}

	wf, ok := definition.(*Workflow[I, O])
	if !ok {
		return Failure[O](fmt.Errorf("%w: workflow %s does not accept %T", ErrInvalidInput, name, input))
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return Failure[O](fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}

	err = definition.validateJSON(raw)
	if err != nil {
		return Failure[O](err)
	}

	var (
		typed    Result[O]
		executed bool
	)

	rawResult := e.start(ctx, definition, raw, newRunOptions(opts), func(ctx context.Context, wctx *Context) RawResult {
		executed = true

		var encoded RawResult

		typed, encoded = wf.executeEncoded(ctx, wctx, input)

		return encoded
	})

	result := Result[O]{
		Err:         rawResult.Err,
		ExecutionID: rawResult.ExecutionID,
		ResultID:    rawResult.ResultID,
		Status:      rawResult.Status,
		Replayed:    rawResult.Replayed,
		Compensated: rawResult.Compensated,
	}

	switch {
	case result.IsFailure():
	case executed:
		result.Output = typed.Output
	case len(rawResult.Output) > 0:
		err = json.Unmarshal(rawResult.Output, &result.Output)
		if err != nil {
			result.Err = fmt.Errorf("failed to decode cached result: %w", err)
		}
	}

	return result
}

// RunChild runs a registered workflow as a child of the execution owning parent.
func RunChild[I, O any](ctx context.Context, parent *Context, name string, input I, opts ...RunOption) Result[O] {
	if parent.run == nil {
		return Failure[O](fmt.Errorf("%w: child workflows need a parent run by an engine", ErrExecutionNotActive))
	}

	opts = append([]RunOption{withParent(parent.ExecutionID), WithCorrelationID(parent.CorrelationID)}, opts...)

	return Run[I, O](ctx, parent.run.engine, name, input, opts...)
}

// RunJSON executes a workflow with JSON input, for callers without Go types.
// Input is validated before any execution is recorded.
func (e *Engine) RunJSON(ctx context.Context, name string, input json.RawMessage, opts ...RunOption) RawResult {
	definition, err := e.lookup(name)
	if err != nil {
		return Failure[json.RawMessage](err)
	}

	if len(input) == 0 {
		input = json.RawMessage("null")
	}

	err = definition.validateJSON(input)
	if err != nil {
		return Failure[json.RawMessage](err)
	}

	return e.start(ctx, definition, input, newRunOptions(opts), func(ctx context.Context, wctx *Context) RawResult {
		return definition.executeJSON(ctx, wctx, input)
	})
}

type body func(ctx context.Context, wctx *Context) RawResult

func (e *Engine) start(ctx context.Context, definition Definition, input json.RawMessage, options runOptions, fn body) RawResult {
	execution, cached, err := e.admit(ctx, definition, input, options)
	if err != nil {
		e.logger.WarnContext(ctx, "Workflow run rejected",
			"workflow_name", definition.Name(),
			"idempotency_key", options.idempotencyKey,
			"error", err,
		)

		return Failure[json.RawMessage](err)
	}

	if cached != nil {
		e.logger.InfoContext(ctx, "Replaying cached workflow result",
			"workflow_name", definition.Name(),
			"execution_id", cached.ExecutionID,
		)

		return *cached
	}

	return e.drive(ctx, definition, execution, driveOptions{metadata: options.metadata}, fn)
}

// admit creates the execution record, or returns a cached result or a
// conflict when the idempotency key is already in use.
func (e *Engine) admit(ctx context.Context, definition Definition, input json.RawMessage, options runOptions) (*models.WorkflowExecution, *RawResult, error) {
	now := e.now()
	settings := definition.settings()

	maxRetries := e.config.DefaultMaxRetries
	if settings.maxRetries != nil {
		maxRetries = *settings.maxRetries
	}

	timeout := e.config.DefaultTimeout
	if settings.timeout > 0 {
		timeout = settings.timeout
	}

	if options.timeout > 0 {
		timeout = options.timeout
	}

	execution := &models.WorkflowExecution{
		ID:                uuid.New().String(),
		WorkflowName:      definition.Name(),
		ParentExecutionID: options.parentID,
		CorrelationID:     options.correlationID,
		IdempotencyKey:    options.idempotencyKey,
		Status:            models.ExecutionStatusRunning,
		InputData:         input,
		MaxRetries:        maxRetries,
		TimeoutSeconds:    int((timeout + time.Second - 1) / time.Second),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if execution.CorrelationID == "" {
		execution.CorrelationID = execution.ID
	}

	repo := e.persistence.ExecutionRepository()

	if options.idempotencyKey == "" {
		err := repo.Create(ctx, execution)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create execution: %w", err)
		}

		return execution, nil, nil
	}

	unlock, err := e.locker.Lock(ctx, "idempotency:"+definition.Name()+":"+options.idempotencyKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock idempotency key: %w", err)
	}
	defer unlock()

	existing, err := repo.FindByIdempotencyKey(ctx, definition.Name(), options.idempotencyKey)

	switch {
	case persistence.IsExecutionNotFound(err):
	case err != nil:
		return nil, nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	case existing.Status == models.ExecutionStatusCompleted && !existing.IsExpired(now):
		cached := RawResult{Output: existing.ResultPayload, Replayed: true}.withExecution(existing)

		return nil, &cached, nil
	case existing.Status == models.ExecutionStatusCompleted:
		err = e.softDelete(ctx, existing, now)
		if err != nil {
			return nil, nil, err
		}
	case !existing.Status.IsTerminal():
		return nil, nil, fmt.Errorf("%w: execution %s is %s", ErrIdempotencyConflict, existing.ID, existing.Status)
	default:
		execution.RetryCount = existing.RetryCount + 1
		if execution.RetryCount > execution.MaxRetries {
			return nil, nil, fmt.Errorf("%w: %d of %d retries used by execution %s",
				ErrRetriesExhausted, existing.RetryCount, execution.MaxRetries, existing.ID)
		}

		err = e.softDelete(ctx, existing, now)
		if err != nil {
			return nil, nil, err
		}
	}

	err = repo.Create(ctx, execution)
	if persistence.IsDuplicateIdempotencyKey(err) {
		return nil, nil, fmt.Errorf("%w: %v", ErrIdempotencyConflict, err)
	}

	if err != nil {
		return nil, nil, fmt.Errorf("failed to create execution: %w", err)
	}

	return execution, nil, nil
}

func (e *Engine) softDelete(ctx context.Context, execution *models.WorkflowExecution, now time.Time) error {
	execution.DeletedAt = &now
	execution.UpdatedAt = now

	err := e.persistence.ExecutionRepository().Update(ctx, execution)
	if persistence.IsVersionConflict(err) {
		return fmt.Errorf("%w: execution %s changed concurrently", ErrIdempotencyConflict, execution.ID)
	}

	if err != nil {
		return fmt.Errorf("failed to retire execution %s: %w", execution.ID, err)
	}

	return nil
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
