package workflow_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dukex/orderflow/pkg/events"
	"github.com/dukex/orderflow/pkg/mocks"
	"github.com/dukex/orderflow/pkg/models"
	"github.com/dukex/orderflow/pkg/otelhelper"
	"github.com/dukex/orderflow/pkg/persistence"
	"github.com/dukex/orderflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestPause_StopsBeforeNextStep(t *testing.T) {
	store := newStore(t)
	engine := newEngine(t, store)
	rec := &recorder{}

	require.NoError(t, engine.Register(orderWorkflow("order", rec, hooks{
		"reserve": func(ctx context.Context, wctx *workflow.Context) {
			assert.True(t, engine.IsActive(wctx.ExecutionID))
			require.NoError(t, engine.Pause(ctx, wctx.ExecutionID))
		},
	})))

	result := workflow.Run[orderInput, orderOutput](t.Context(), engine, "order", orderInput{OrderID: "o1"})

	require.ErrorIs(t, result.Err, workflow.ErrExecutionPaused)
	assert.Equal(t, models.ExecutionStatusPaused, result.Status)
	assert.False(t, result.Compensated)
	assert.Equal(t, []string{"execute:reserve"}, rec.list())
	assert.False(t, engine.IsActive(result.ExecutionID))

	execution, err := store.ExecutionRepository().GetByID(t.Context(), result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, execution.Status)
	assert.Empty(t, execution.ErrorMessage)
	assert.Nil(t, execution.CompletedAt)

	// pausing twice is harmless
	require.NoError(t, engine.Pause(t.Context(), result.ExecutionID))
}

func TestResume_ReplaysCompletedSteps(t *testing.T) {
	store := newStore(t)
	engine := newEngine(t, store)
	rec := &recorder{}
	paused := false

	require.NoError(t, engine.Register(orderWorkflow("order", rec, hooks{
		"reserve": func(ctx context.Context, wctx *workflow.Context) {
			if !paused {
				paused = true
				require.NoError(t, engine.Pause(ctx, wctx.ExecutionID))
			}
		},
	})))

	first := workflow.Run[orderInput, orderOutput](t.Context(), engine, "order", orderInput{OrderID: "o1"})
	require.ErrorIs(t, first.Err, workflow.ErrExecutionPaused)

	resumed, err := engine.Resume(t.Context(), first.ExecutionID)
	require.NoError(t, err)
	require.NoError(t, resumed.Err)

	assert.Equal(t, first.ExecutionID, resumed.ExecutionID)
	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.JSONEq(t, `{
		"order_id": "o1",
		"reservation_id": "reserve-o1",
		"payment_id": "charge-o1",
		"confirmation": "confirm-o1"
	}`, string(resumed.Output))
	assert.Equal(t, []string{"execute:reserve", "execute:charge", "execute:confirm"}, rec.list())

	stepEvents, err := store.StepEventRepository().ListByExecution(t.Context(), first.ExecutionID)
	require.NoError(t, err)
	assert.Len(t, stepEvents, 3)

	_, err = engine.Resume(t.Context(), first.ExecutionID)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestResume_FailureCompensatesReplayedSteps(t *testing.T) {
	engine := newEngine(t, newStore(t))
	rec := &recorder{}

	require.NoError(t, engine.Register(orderWorkflow("order", rec, hooks{
		"reserve": func(ctx context.Context, wctx *workflow.Context) {
			require.NoError(t, engine.Pause(ctx, wctx.ExecutionID))
		},
	})))

	first := workflow.Run[orderInput, orderOutput](t.Context(), engine, "order", orderInput{OrderID: "o1", FailAt: "charge"})
	require.ErrorIs(t, first.Err, workflow.ErrExecutionPaused)

	resumed, err := engine.Resume(t.Context(), first.ExecutionID)
	require.NoError(t, err)

	require.True(t, resumed.IsFailure())
	assert.Equal(t, models.ExecutionStatusCompensated, resumed.Status)
	assert.Equal(t, []string{"execute:reserve", "execute:charge", "compensate:reserve"}, rec.list())
}

func TestResume_WhileStillRunningLocally(t *testing.T) {
	engine := newEngine(t, newStore(t))
	rec := &recorder{}

	require.NoError(t, engine.Register(orderWorkflow("order", rec, hooks{
		"reserve": func(ctx context.Context, wctx *workflow.Context) {
			require.NoError(t, engine.Pause(ctx, wctx.ExecutionID))

			result, err := engine.Resume(ctx, wctx.ExecutionID)
			require.NoError(t, err)
			assert.Equal(t, models.ExecutionStatusRunning, result.Status)

			_, err = engine.Resume(ctx, wctx.ExecutionID)
			require.ErrorIs(t, err, workflow.ErrInvalidTransition)
		},
	})))

	result := workflow.Run[orderInput, orderOutput](t.Context(), engine, "order", orderInput{OrderID: "o1"})

	require.NoError(t, result.Err)
	assert.Equal(t, 3, len(rec.list()))
}

func TestResume_NonDeterministicReplay(t *testing.T) {
	store := newStore(t)
	engine := newEngine(t, store)
	rec := &recorder{}

	require.NoError(t, engine.Register(orderWorkflow("order", rec, hooks{
		"reserve": func(ctx context.Context, wctx *workflow.Context) {
			require.NoError(t, engine.Pause(ctx, wctx.ExecutionID))
		},
	})))

	first := workflow.Run[orderInput, orderOutput](t.Context(), engine, "order", orderInput{OrderID: "o1"})
	require.ErrorIs(t, first.Err, workflow.ErrExecutionPaused)

	// A different engine whose "order" starts with another step.
	other := newEngine(t, store)
	audit := orderStep("audit", rec, nil)
	require.NoError(t, other.Register(workflow.New("order", func(ctx context.Context, wctx *workflow.Context, in orderInput) (orderOutput, error) {
		_, err := workflow.RunStep(ctx, wctx, audit, in)

		return orderOutput{}, err
	})))

	resumed, err := other.Resume(t.Context(), first.ExecutionID)
	require.NoError(t, err)
	require.ErrorIs(t, resumed.Err, workflow.ErrNonDeterministic)
	assert.Equal(t, models.ExecutionStatusFailed, resumed.Status)
	assert.Zero(t, rec.count("execute:audit"))
}

func TestCancel_RunningExecution(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	store := newStore(t)
	engine := newEngine(t, store, workflow.WithPublisher(bus))
	rec := &recorder{}

	require.NoError(t, engine.Register(orderWorkflow("order", rec, hooks{
		"charge": func(ctx context.Context, wctx *workflow.Context) {
			require.NoError(t, engine.Cancel(ctx, wctx.ExecutionID))
		},
	})))

	result := workflow.Run[orderInput, orderOutput](t.Context(), engine, "order", orderInput{OrderID: "o1"})

	require.ErrorIs(t, result.Err, workflow.ErrExecutionCancelled)
	assert.Equal(t, models.ExecutionStatusCancelled, result.Status)
	assert.True(t, result.Compensated)
	assert.Equal(t, []string{
		"execute:reserve",
		"execute:charge",
		"compensate:charge",
		"compensate:reserve",
	}, rec.list())

	execution, err := store.ExecutionRepository().GetByID(t.Context(), result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Equal(t, "error", execution.ErrorType)

	types := bus.PublishedTypes()
	assert.Equal(t, events.ExecutionCancelledEvent, types[len(types)-1])

	err = engine.Cancel(t.Context(), result.ExecutionID)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestCancel_AfterLastStepRollsBack(t *testing.T) {
	engine := newEngine(t, newStore(t))
	rec := &recorder{}

	require.NoError(t, engine.Register(orderWorkflow("order", rec, hooks{
		"confirm": func(ctx context.Context, wctx *workflow.Context) {
			require.NoError(t, engine.Cancel(ctx, wctx.ExecutionID))
		},
	})))

	result := workflow.Run[orderInput, orderOutput](t.Context(), engine, "order", orderInput{OrderID: "o1"})

	require.ErrorIs(t, result.Err, workflow.ErrExecutionCancelled)
	assert.Equal(t, models.ExecutionStatusCancelled, result.Status)
	assert.Equal(t, 1, rec.count("compensate:confirm"))
	assert.Equal(t, 1, rec.count("compensate:reserve"))
}

func TestCancel_PausedExecution(t *testing.T) {
	store := newStore(t)
	engine := newEngine(t, store)
	rec := &recorder{}

	require.NoError(t, engine.Register(orderWorkflow("order", rec, hooks{
		"charge": func(ctx context.Context, wctx *workflow.Context) {
			require.NoError(t, engine.Pause(ctx, wctx.ExecutionID))
		},
	})))

	first := workflow.Run[orderInput, orderOutput](t.Context(), engine, "order", orderInput{OrderID: "o1"})
	require.ErrorIs(t, first.Err, workflow.ErrExecutionPaused)

	require.NoError(t, engine.Cancel(t.Context(), first.ExecutionID))

	assert.Equal(t, []string{
		"execute:reserve",
		"execute:charge",
		"compensate:charge",
		"compensate:reserve",
	}, rec.list())

	execution, err := store.ExecutionRepository().GetByID(t.Context(), first.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.NotNil(t, execution.CompletedAt)
}

func TestCancel_UnknownExecution(t *testing.T) {
	engine := newEngine(t, newStore(t))

	err := engine.Cancel(t.Context(), "missing")
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestRun_ContextCancelled(t *testing.T) {
	engine := newEngine(t, newStore(t))
	rec := &recorder{}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, engine.Register(orderWorkflow("order", rec, hooks{
		"reserve": func(context.Context, *workflow.Context) { cancel() },
	})))

	result := workflow.Run[orderInput, orderOutput](ctx, engine, "order", orderInput{OrderID: "o1"})

	require.ErrorIs(t, result.Err, workflow.ErrExecutionCancelled)
	require.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, models.ExecutionStatusCancelled, result.Status)
	assert.Equal(t, []string{"execute:reserve", "compensate:reserve"}, rec.list())
}

func TestRun_Timeout(t *testing.T) {
	clock := newFakeClock()
	store := newStore(t)
	engine := newEngine(t, store, workflow.WithClock(clock.Now))
	rec := &recorder{}

	require.NoError(t, engine.Register(orderWorkflow("order", rec, hooks{
		"reserve": func(context.Context, *workflow.Context) { clock.Advance(11 * time.Second) },
	}, workflow.WithTimeout(time.Minute))))

	result := workflow.Run[orderInput, orderOutput](t.Context(), engine, "order", orderInput{OrderID: "o1"},
		workflow.WithRunTimeout(10*time.Second))

	require.ErrorIs(t, result.Err, workflow.ErrExecutionTimeout)
	assert.Equal(t, models.ExecutionStatusTimeout, result.Status)
	assert.Equal(t, []string{"execute:reserve", "compensate:reserve"}, rec.list())

	execution, err := store.ExecutionRepository().GetByID(t.Context(), result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusTimeout, execution.Status)
	assert.Equal(t, 10, execution.TimeoutSeconds)
}

func TestRun_DefaultTimeoutFromConfig(t *testing.T) {
	clock := newFakeClock()
	config := testConfig()
	config.DefaultTimeout = 5 * time.Second

	engine := newEngine(t, newStore(t), workflow.WithConfig(config), workflow.WithClock(clock.Now))
	rec := &recorder{}

	require.NoError(t, engine.Register(orderWorkflow("order", rec, hooks{
		"charge": func(context.Context, *workflow.Context) { clock.Advance(5 * time.Second) },
	})))

	result := workflow.Run[orderInput, orderOutput](t.Context(), engine, "order", orderInput{OrderID: "o1"})

	require.ErrorIs(t, result.Err, workflow.ErrExecutionTimeout)
	assert.Zero(t, rec.count("execute:confirm"))
	assert.Equal(t, 1, rec.count("compensate:charge"))
}

func TestRemotePause_OwnerStopsAtNextStep(t *testing.T) {
	store := newStore(t)
	owner := newEngine(t, store)
	operator := newEngine(t, store)
	rec := &recorder{}

	require.NoError(t, owner.Register(orderWorkflow("order", rec, hooks{
		"reserve": func(ctx context.Context, wctx *workflow.Context) {
			assert.False(t, operator.IsActive(wctx.ExecutionID))
			require.NoError(t, operator.Pause(ctx, wctx.ExecutionID))
		},
	})))

	result := workflow.Run[orderInput, orderOutput](t.Context(), owner, "order", orderInput{OrderID: "o1"})

	require.ErrorIs(t, result.Err, workflow.ErrExecutionPaused)
	assert.Equal(t, []string{"execute:reserve"}, rec.list())

	execution, err := store.ExecutionRepository().GetByID(t.Context(), result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, execution.Status)
	assert.JSONEq(t, `{"reservation_id":"reserve-o1"}`, string(execution.ContextData))
}

func TestRemoteCancel_OwnerCompensates(t *testing.T) {
	store := newStore(t)
	owner := newEngine(t, store)
	operator := newEngine(t, store)
	rec := &recorder{}

	require.NoError(t, owner.Register(orderWorkflow("order", rec, hooks{
		"charge": func(ctx context.Context, wctx *workflow.Context) {
			require.NoError(t, operator.Cancel(ctx, wctx.ExecutionID))
		},
	})))

	result := workflow.Run[orderInput, orderOutput](t.Context(), owner, "order", orderInput{OrderID: "o1"})

	require.ErrorIs(t, result.Err, workflow.ErrExecutionCancelled)
	assert.Equal(t, models.ExecutionStatusCancelled, result.Status)
	assert.Zero(t, rec.count("execute:confirm"))
	assert.Equal(t, 1, rec.count("compensate:reserve"))

	execution, err := store.ExecutionRepository().GetByID(t.Context(), result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
}

func TestRemoteResume_ReplaysOnAnotherEngine(t *testing.T) {
	store := newStore(t)
	first := newEngine(t, store)
	second := newEngine(t, store)
	rec := &recorder{}
	paused := false

	pauseOnce := hooks{
		"charge": func(ctx context.Context, wctx *workflow.Context) {
			if !paused {
				paused = true
				require.NoError(t, first.Pause(ctx, wctx.ExecutionID))
			}
		},
	}

	require.NoError(t, first.Register(orderWorkflow("order", rec, pauseOnce)))
	require.NoError(t, second.Register(orderWorkflow("order", rec, pauseOnce)))

	started := workflow.Run[orderInput, orderOutput](t.Context(), first, "order", orderInput{OrderID: "o1"})
	require.ErrorIs(t, started.Err, workflow.ErrExecutionPaused)

	resumed, err := second.Resume(t.Context(), started.ExecutionID)
	require.NoError(t, err)
	require.NoError(t, resumed.Err)

	assert.Equal(t, []string{"execute:reserve", "execute:charge", "execute:confirm"}, rec.list())
}

func TestRemoteCancel_AfterLastStepRollsBackSuccess(t *testing.T) {
	eachStore(t, func(t *testing.T, store persistence.Persistence) {
		owner := newEngine(t, store)
		operator := newEngine(t, store)
		rec := &recorder{}
		cancelled := false

		require.NoError(t, owner.Register(twoStepWorkflow("order", rec, func(ctx context.Context, wctx *workflow.Context, err error) {
			if err == nil && !cancelled {
				cancelled = true
				require.NoError(t, operator.Cancel(ctx, wctx.ExecutionID))
			}
		})))

		first := workflow.Run[orderInput, orderOutput](t.Context(), owner, "order", orderInput{OrderID: "o1"},
			workflow.WithIdempotencyKey("order-o1"))

		require.ErrorIs(t, first.Err, workflow.ErrExecutionCancelled)
		assert.False(t, first.IsSuccess())
		assert.Equal(t, models.ExecutionStatusCancelled, first.Status)
		assert.True(t, first.Compensated)
		assert.Empty(t, first.ResultID)
		assert.Equal(t, []string{
			"execute:reserve",
			"execute:charge",
			"compensate:charge",
			"compensate:reserve",
		}, rec.list())

		execution, err := store.ExecutionRepository().GetByID(t.Context(), first.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
		assert.Empty(t, execution.ResultID)
		assert.Empty(t, execution.ResultPayload)
		assert.NotNil(t, execution.CompletedAt)

		// The retry charges again, but only after the first charge was refunded.
		retried := workflow.Run[orderInput, orderOutput](t.Context(), owner, "order", orderInput{OrderID: "o1"},
			workflow.WithIdempotencyKey("order-o1"))

		require.NoError(t, retried.Err)
		assert.False(t, retried.Replayed)
		assert.NotEqual(t, first.ExecutionID, retried.ExecutionID)
		assert.Equal(t, 2, rec.count("execute:charge"))
		assert.Equal(t, 1, rec.count("compensate:charge"))
	})
}

func TestRemotePause_DuringFailedFinishKeepsOutcome(t *testing.T) {
	eachStore(t, func(t *testing.T, store persistence.Persistence) {
		owner := newEngine(t, store)
		operator := newEngine(t, store)
		rec := &recorder{}

		require.NoError(t, owner.Register(twoStepWorkflow("order", rec, func(ctx context.Context, wctx *workflow.Context, err error) {
			if err != nil {
				require.NoError(t, operator.Pause(ctx, wctx.ExecutionID))
			}
		})))

		result := workflow.Run[orderInput, orderOutput](t.Context(), owner, "order", orderInput{OrderID: "o1", FailAt: "charge"})

		require.True(t, result.IsFailure())
		assert.NotErrorIs(t, result.Err, workflow.ErrExecutionPaused)
		assert.Equal(t, models.ExecutionStatusCompensated, result.Status)
		assert.Equal(t, []string{"execute:reserve", "execute:charge", "compensate:reserve"}, rec.list())

		execution, err := store.ExecutionRepository().GetByID(t.Context(), result.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusCompensated, execution.Status)

		_, err = operator.Resume(t.Context(), result.ExecutionID)
		require.ErrorIs(t, err, workflow.ErrInvalidTransition)
		assert.Equal(t, 1, rec.count("compensate:reserve"))
	})
}

func TestRemotePause_AfterLastStepStillCompletes(t *testing.T) {
	eachStore(t, func(t *testing.T, store persistence.Persistence) {
		owner := newEngine(t, store)
		operator := newEngine(t, store)
		rec := &recorder{}

		require.NoError(t, owner.Register(twoStepWorkflow("order", rec, func(ctx context.Context, wctx *workflow.Context, err error) {
			require.NoError(t, err)
			require.NoError(t, operator.Pause(ctx, wctx.ExecutionID))
		})))

		result := workflow.Run[orderInput, orderOutput](t.Context(), owner, "order", orderInput{OrderID: "o1"})

		require.NoError(t, result.Err)
		assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
		assert.Zero(t, rec.count("compensate:reserve"))

		execution, err := store.ExecutionRepository().GetByID(t.Context(), result.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
		assert.NotEmpty(t, execution.ResultID)
	})
}

func TestResume_TimeoutCoversPausedTime(t *testing.T) {
	clock := newFakeClock()
	store := newStore(t)
	engine := newEngine(t, store, workflow.WithClock(clock.Now))
	rec := &recorder{}
	paused := false

	require.NoError(t, engine.Register(orderWorkflow("order", rec, hooks{
		"reserve": func(ctx context.Context, wctx *workflow.Context) {
			if !paused {
				paused = true
				require.NoError(t, engine.Pause(ctx, wctx.ExecutionID))
			}
		},
	})))

	first := workflow.Run[orderInput, orderOutput](t.Context(), engine, "order", orderInput{OrderID: "o1"},
		workflow.WithRunTimeout(10*time.Second))
	require.ErrorIs(t, first.Err, workflow.ErrExecutionPaused)

	clock.Advance(11 * time.Second)

	resumed, err := engine.Resume(t.Context(), first.ExecutionID)
	require.NoError(t, err)

	require.ErrorIs(t, resumed.Err, workflow.ErrExecutionTimeout)
	assert.Equal(t, models.ExecutionStatusTimeout, resumed.Status)
	assert.Equal(t, []string{"execute:reserve", "compensate:reserve"}, rec.list())
}

func TestExpire_PausedExecutionCompensates(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	store := newStore(t)
	engine := newEngine(t, store, workflow.WithPublisher(bus))
	rec := &recorder{}

	require.NoError(t, engine.Register(orderWorkflow("order", rec, hooks{
		"charge": func(ctx context.Context, wctx *workflow.Context) {
			require.NoError(t, engine.Pause(ctx, wctx.ExecutionID))
		},
	})))

	first := workflow.Run[orderInput, orderOutput](t.Context(), engine, "order", orderInput{OrderID: "o1"})
	require.ErrorIs(t, first.Err, workflow.ErrExecutionPaused)

	require.NoError(t, engine.Expire(t.Context(), first.ExecutionID))

	assert.Equal(t, []string{
		"execute:reserve",
		"execute:charge",
		"compensate:charge",
		"compensate:reserve",
	}, rec.list())

	execution, err := store.ExecutionRepository().GetByID(t.Context(), first.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusTimeout, execution.Status)
	assert.NotNil(t, execution.CompletedAt)

	types := bus.PublishedTypes()
	assert.Equal(t, events.ExecutionTimeoutEvent, types[len(types)-1])

	err = engine.Expire(t.Context(), first.ExecutionID)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestResume_MarksReplayedStepSpans(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)).Tracer("orderflow/test")

	engine := newEngine(t, newStore(t), workflow.WithTracer(tracer))
	rec := &recorder{}
	paused := false

	require.NoError(t, engine.Register(orderWorkflow("order", rec, hooks{
		"reserve": func(ctx context.Context, wctx *workflow.Context) {
			if !paused {
				paused = true
				require.NoError(t, engine.Pause(ctx, wctx.ExecutionID))
			}
		},
	})))

	first := workflow.Run[orderInput, orderOutput](t.Context(), engine, "order", orderInput{OrderID: "o1"})
	require.ErrorIs(t, first.Err, workflow.ErrExecutionPaused)

	resumed, err := engine.Resume(t.Context(), first.ExecutionID)
	require.NoError(t, err)
	require.NoError(t, resumed.Err)

	var steps []string

	for _, span := range spans.Ended() {
		if span.Name() != "workflow.step" {
			continue
		}

		var (
			name     string
			replayed bool
		)

		for _, kv := range span.Attributes() {
			switch kv.Key {
			case otelhelper.StepNameKey:
				name = kv.Value.AsString()
			case otelhelper.ReplayedKey:
				replayed = kv.Value.AsBool()
			}
		}

		steps = append(steps, fmt.Sprintf("%s:%t", name, replayed))
	}

	assert.Equal(t, []string{"reserve:false", "reserve:true", "charge:false", "confirm:false"}, steps)
}
