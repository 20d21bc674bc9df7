package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/orderflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

type ExecuteFunc[I, O any] func(ctx context.Context, wctx *Context, input I) (O, error)

// CompensateHook runs after per-step compensation for rollback that is not tied to one step.
type CompensateHook func(ctx context.Context, wctx *Context) error

type settings struct {
	compensate  CompensateHook
	maxRetries  *int
	timeout     time.Duration
	steps       int
	description string

	schema    *gojsonschema.Schema
	schemaErr error
}

type Option func(*settings)

func WithCompensate(hook CompensateHook) Option {
	return func(s *settings) { s.compensate = hook }
}

// WithMaxRetries bounds how many times a failed run may be retried under the same idempotency key.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = &n }
}

func WithTimeout(timeout time.Duration) Option {
	return func(s *settings) { s.timeout = timeout }
}

// WithStepCount declares how many steps a run issues, recorded as total_steps on step events.
func WithStepCount(n int) Option {
	return func(s *settings) { s.steps = n }
}

func WithDescription(description string) Option {
	return func(s *settings) { s.description = description }
}

// WithInputSchema checks run input against a JSON Schema before the run is
// admitted. A schema that does not compile makes Register fail.
func WithInputSchema(schema string) Option {
	return func(s *settings) {
		s.schema, s.schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	}
}

// Validator is implemented by inputs that can check themselves. The engine
// calls it before a run is admitted.
type Validator interface {
	Validate() error
}

// Definition is a workflow that can be registered with an Engine.
type Definition interface {
	Name() string
	Description() string

	settings() settings
	validateJSON(input json.RawMessage) error
	executeJSON(ctx context.Context, wctx *Context, input json.RawMessage) RawResult
}

// Workflow is a named orchestration of steps. The body calls RunStep for
// each step in order; any error or panic it returns becomes a failed Result
// after the completed steps are compensated.
type Workflow[I, O any] struct {
	name    string
	execute ExecuteFunc[I, O]
	options settings
}

func New[I, O any](name string, execute ExecuteFunc[I, O], opts ...Option) *Workflow[I, O] {
	w := &Workflow[I, O]{name: name, execute: execute}

	for _, opt := range opts {
		opt(&w.options)
	}

	return w
}

func (w *Workflow[I, O]) Name() string {
	return w.name
}

func (w *Workflow[I, O]) Description() string {
	return w.options.description
}

func (w *Workflow[I, O]) settings() settings {
	return w.options
}

// Execute runs the body and normalizes its outcome. Without an engine, pass a
// Context from NewContext; nothing is persisted in that case.
func (w *Workflow[I, O]) Execute(ctx context.Context, wctx *Context, input I) Result[O] {
	var output O

	err := safeCall(func() error {
		var err error

		output, err = w.execute(ctx, wctx, input)

		return err
	})
	if err == nil {
		return Success(output)
	}

	result := Failure[O](err)

	if errors.Is(err, ErrExecutionPaused) {
		result.Status = models.ExecutionStatusPaused

		return result
	}

	return rollbackFailure[O](ctx, wctx, w.options.compensate, err)
}

// rollbackFailure compensates everything completed so far and reports err.
// COMPENSATED is only claimed when something was compensated and nothing failed.
func rollbackFailure[O any](ctx context.Context, wctx *Context, hook CompensateHook, err error) Result[O] {
	result := Failure[O](err)

	attempted, compensationErr := wctx.rollback(ctx, hook)

	switch {
	case compensationErr != nil:
		result.Err = errors.Join(err, compensationErr)
	case attempted > 0:
		result.Compensated = true
		result.Status = models.ExecutionStatusCompensated
	}

	return result
}

// validateJSON rejects input that breaks the schema, does not decode into I,
// or fails its own Validate.
func (w *Workflow[I, O]) validateJSON(input json.RawMessage) error {
	if w.options.schema != nil {
		result, err := w.options.schema.Validate(gojsonschema.NewBytesLoader(input))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}

		if !result.Valid() {
			problems := make([]string, 0, len(result.Errors()))
			for _, desc := range result.Errors() {
				problems = append(problems, desc.String())
			}

			return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
		}
	}

	var typed I

	err := json.Unmarshal(input, &typed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if v, ok := any(typed).(Validator); ok {
		err = v.Validate()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	return nil
}

func (w *Workflow[I, O]) executeJSON(ctx context.Context, wctx *Context, input json.RawMessage) RawResult {
	var typed I

	err := json.Unmarshal(input, &typed)
	if err != nil {
		return Failure[json.RawMessage](fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}

	_, raw := w.executeEncoded(ctx, wctx, typed)

	return raw
}

// executeEncoded runs Execute and also returns the output encoded for the execution record.
func (w *Workflow[I, O]) executeEncoded(ctx context.Context, wctx *Context, input I) (Result[O], RawResult) {
	result := w.Execute(ctx, wctx, input)

	raw := encodeResult(result)
	if result.IsSuccess() && raw.IsFailure() {
		raw = rollbackFailure[json.RawMessage](ctx, wctx, w.options.compensate, raw.Err)
		result = Result[O]{Err: raw.Err, Status: raw.Status, Compensated: raw.Compensated}
	}

	return result, raw
}

func encodeResult[O any](result Result[O]) RawResult {
	raw := RawResult{
		Err:         result.Err,
		Status:      result.Status,
		Compensated: result.Compensated,
	}

	if result.IsFailure() {
		return raw
	}

	output, err := json.Marshal(result.Output)
	if err != nil {
		return Failure[json.RawMessage](fmt.Errorf("failed to encode workflow output: %w", err))
	}

	raw.Output = output

	return raw
}
