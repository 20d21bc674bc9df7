package workflow

import (
	"context"
	"encoding/json"
	"fmt"
)

// StepResponse carries a step's output and, optionally, the value its
// compensation should receive instead of the step input.
type StepResponse[O, C any] struct {
	Output O

	compensationInput C
	overridden        bool
}

func Respond[O, C any](output O) StepResponse[O, C] {
	return StepResponse[O, C]{Output: output}
}

func RespondWithCompensation[O, C any](output O, compensationInput C) StepResponse[O, C] {
	return StepResponse[O, C]{Output: output, compensationInput: compensationInput, overridden: true}
}

func (r StepResponse[O, C]) CompensationInput() (C, bool) {
	return r.compensationInput, r.overridden
}

func (r StepResponse[O, C]) compensationInputFor(input any) C {
	if r.overridden {
		return r.compensationInput
	}

	if c, ok := input.(C); ok {
		return c
	}

	var zero C

	return zero
}

type StepFunc[I, O, C any] func(ctx context.Context, wctx *Context, input I) (StepResponse[O, C], error)

type CompensateFunc[C any] func(ctx context.Context, wctx *Context, input C) error

// Step is a named unit of work with an optional compensation. C is the type
// the compensation receives; it defaults to the step input when the response
// does not override it.
type Step[I, O, C any] struct {
	name       string
	execute    StepFunc[I, O, C]
	compensate CompensateFunc[C]
}

func NewStep[I, O, C any](name string, execute StepFunc[I, O, C]) *Step[I, O, C] {
	return &Step[I, O, C]{name: name, execute: execute}
}

// SimpleStep builds a step whose compensation receives the step input.
func SimpleStep[I, O any](name string, execute func(ctx context.Context, wctx *Context, input I) (O, error)) *Step[I, O, I] {
	return NewStep[I, O, I](name, func(ctx context.Context, wctx *Context, input I) (StepResponse[O, I], error) {
		output, err := execute(ctx, wctx, input)
		if err != nil {
			return StepResponse[O, I]{}, err
		}

		return Respond[O, I](output), nil
	})
}

// WithCompensation returns a copy of the step with compensate attached.
func (s *Step[I, O, C]) WithCompensation(compensate CompensateFunc[C]) *Step[I, O, C] {
	clone := *s
	clone.compensate = compensate

	return &clone
}

func (s *Step[I, O, C]) Name() string {
	return s.name
}

func (s *Step[I, O, C]) HasCompensation() bool {
	return s.compensate != nil
}

// RunStep executes step inside the workflow run owning wctx. Under an engine
// the step is recorded, checked against cancellation, pause and timeout, and
// replayed from history on resume. Completed steps with a compensation are
// remembered for rollback.
func RunStep[I, O, C any](ctx context.Context, wctx *Context, step *Step[I, O, C], input I) (O, error) {
	var zero O

	index := wctx.nextIndex
	wctx.nextIndex++

	var attempt *stepAttempt

	if wctx.run != nil {
		var err error

		attempt, err = wctx.run.beginStep(ctx, wctx, index, step.name, input)
		if err != nil {
			return zero, err
		}

		if attempt.replayed() {
			return replayStep(wctx, step, index, attempt)
		}

		ctx = attempt.ctx
	}

	response, err := invokeStep(ctx, wctx, step, input)
	if err != nil {
		stepErr := &StepError{Step: step.name, Index: index, Err: err}

		if attempt != nil {
			wctx.run.failStep(ctx, wctx, attempt, stepErr)
		}

		return zero, stepErr
	}

	compensationInput := response.compensationInputFor(input)
	step.remember(wctx, index, compensationInput)

	if attempt != nil {
		err = wctx.run.completeStep(ctx, wctx, attempt, response.Output, compensationInput, step.compensate != nil)
		if err != nil {
			return zero, &StepError{Step: step.name, Index: index, Err: err}
		}
	}

	return response.Output, nil
}

func (s *Step[I, O, C]) remember(wctx *Context, index int, input C) {
	if s.compensate == nil {
		return
	}

	compensate := s.compensate

	wctx.pushCompensation(compensation{
		step:  s.name,
		index: index,
		call: func(ctx context.Context, wctx *Context) error {
			return compensate(ctx, wctx, input)
		},
	})
}

func invokeStep[I, O, C any](ctx context.Context, wctx *Context, step *Step[I, O, C], input I) (StepResponse[O, C], error) {
	var response StepResponse[O, C]

	err := safeCall(func() error {
		var err error

		response, err = step.execute(ctx, wctx, input)

		return err
	})

	return response, err
}

// replayStep restores a completed step from its event instead of running it.
func replayStep[I, O, C any](wctx *Context, step *Step[I, O, C], index int, attempt *stepAttempt) (O, error) {
	var output O

	if len(attempt.event.OutputData) > 0 {
		err := json.Unmarshal(attempt.event.OutputData, &output)
		if err != nil {
			return output, &StepError{Step: step.name, Index: index, Err: fmt.Errorf("failed to decode recorded output: %w", err)}
		}
	}

	if step.compensate != nil {
		var input C

		if len(attempt.event.CompensationData) > 0 {
			err := json.Unmarshal(attempt.event.CompensationData, &input)
			if err != nil {
				return output, &StepError{Step: step.name, Index: index, Err: fmt.Errorf("failed to decode recorded compensation input: %w", err)}
			}
		}

		step.remember(wctx, index, input)
	}

	return output, nil
}
