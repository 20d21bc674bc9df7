package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/dukex/orderflow/pkg/eventbus"
	"github.com/dukex/orderflow/pkg/models"
)

// Context is the per-execution scratch space shared by the steps of one run,
// plus the identity of that run. It is owned by a single goroutine.
type Context struct {
	ExecutionID       string
	WorkflowName      string
	CorrelationID     string
	IdempotencyKey    string
	ParentExecutionID string

	metadata  map[string]any
	publisher eventbus.EventPublisher

	// run is nil when a workflow is executed outside an engine.
	run       *run
	nextIndex int
	completed []compensation
}

type compensation struct {
	step  string
	index int
	call  func(ctx context.Context, wctx *Context) error
}

// NewContext creates a detached context, for running a workflow without an engine.
func NewContext(workflowName string) *Context {
	return &Context{
		WorkflowName: workflowName,
		metadata:     make(map[string]any),
	}
}

func newExecutionContext(execution *models.WorkflowExecution, publisher eventbus.EventPublisher) *Context {
	return &Context{
		ExecutionID:       execution.ID,
		WorkflowName:      execution.WorkflowName,
		CorrelationID:     execution.CorrelationID,
		IdempotencyKey:    execution.IdempotencyKey,
		ParentExecutionID: execution.ParentExecutionID,
		metadata:          make(map[string]any),
		publisher:         publisher,
	}
}

func (c *Context) AddMetadata(key string, value any) {
	c.metadata[key] = value
}

// Metadata returns the value stored under key or nil. Values restored from a
// snapshot come back as json.RawMessage; use a Key to read them typed.
func (c *Context) Metadata(key string) any {
	return c.metadata[key]
}

// Publish sends a domain event keyed by the correlation id. Without a publisher it is a no-op.
func (c *Context) Publish(ctx context.Context, event eventbus.Event) error {
	if c.publisher == nil {
		return nil
	}

	key := c.CorrelationID
	if key == "" {
		key = c.ExecutionID
	}

	return c.publisher.Publish(ctx, key, event)
}

func (c *Context) snapshot() (json.RawMessage, error) {
	if len(c.metadata) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(c.metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot workflow context: %w", err)
	}

	return data, nil
}

func (c *Context) restore(data json.RawMessage) error {
	if len(data) == 0 {
		return nil
	}

	var values map[string]json.RawMessage

	err := json.Unmarshal(data, &values)
	if err != nil {
		return fmt.Errorf("failed to restore workflow context: %w", err)
	}

	for key, value := range values {
		c.metadata[key] = value
	}

	return nil
}

func (c *Context) pushCompensation(entry compensation) {
	c.completed = append(c.completed, entry)
}

// rollback runs the recorded compensations newest first, then the workflow hook.
// Every call is attempted regardless of earlier failures.
func (c *Context) rollback(ctx context.Context, hook CompensateHook) (int, error) {
	ctx = context.WithoutCancel(ctx)

	var (
		attempted int
		failures  []*StepError
	)

	for i := len(c.completed) - 1; i >= 0; i-- {
		entry := c.completed[i]
		attempted++

		err := c.compensate(ctx, entry)
		if err != nil {
			failures = append(failures, &StepError{Step: entry.step, Index: entry.index, Err: err})
		}
	}

	c.completed = nil

	if hook != nil {
		attempted++

		entry := compensation{step: c.WorkflowName, index: -1, call: func(ctx context.Context, wctx *Context) error {
			return hook(ctx, wctx)
		}}

		err := c.compensate(ctx, entry)
		if err != nil {
			failures = append(failures, &StepError{Step: entry.step, Index: entry.index, Err: err})
		}
	}

	if len(failures) > 0 {
		return attempted, &CompensationError{Failures: failures}
	}

	return attempted, nil
}

func (c *Context) compensate(ctx context.Context, entry compensation) error {
	if c.run != nil {
		return c.run.compensate(ctx, c, entry)
	}

	return safeCall(func() error { return entry.call(ctx, c) })
}

// safeCall turns a panic in fn into a PanicError.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()

	return fn()
}

// Key is a typed handle on a metadata entry.
type Key[T any] struct {
	name string
}

func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

func (k Key[T]) Name() string {
	return k.name
}

func (k Key[T]) Set(c *Context, value T) {
	c.AddMetadata(k.name, value)
}

// Get returns the value and whether it was present with the expected type.
func (k Key[T]) Get(c *Context) (T, bool) {
	var zero T

	value, ok := c.metadata[k.name]
	if !ok {
		return zero, false
	}

	if typed, ok := value.(T); ok {
		return typed, true
	}

	raw, ok := value.(json.RawMessage)
	if !ok {
		return zero, false
	}

	var decoded T

	err := json.Unmarshal(raw, &decoded)
	if err != nil {
		return zero, false
	}

	c.metadata[k.name] = decoded

	return decoded, true
}
