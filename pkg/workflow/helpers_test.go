package workflow_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/orderflow/pkg/persistence"
	"github.com/dukex/orderflow/pkg/persistence/file"
	"github.com/dukex/orderflow/pkg/persistence/memory"
	"github.com/dukex/orderflow/pkg/persistence/postgresql"
	"github.com/dukex/orderflow/pkg/workflow"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

func (r *recorder) count(call string) int {
	n := 0

	for _, c := range r.list() {
		if c == call {
			n++
		}
	}

	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func testConfig() workflow.Config {
	config := workflow.DefaultConfig()
	config.CompensationBackoff = time.Millisecond

	return config
}

func newStore(t *testing.T) persistence.Persistence {
	t.Helper()

	store, err := memory.NewPersistence()
	require.NoError(t, err)

	return store
}

var postgresContainer *postgres.PostgresContainer

func newPostgresStore(t *testing.T) persistence.Persistence {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	t.Cleanup(cancel)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("orderflow_test"),
			postgres.WithUsername("orderflow"),
			postgres.WithPassword("orderflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropTables(ctx, t, databaseURL)

	store, err := postgresql.NewPersistence(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close(ctx))
		dropTables(ctx, t, databaseURL)
	})

	return store
}

func dropTables(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer db.Close()

	for _, table := range []string{"workflow_step_events", "workflow_executions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}
}

// eachStore runs test against every persistence backend.
func eachStore(t *testing.T, test func(t *testing.T, store persistence.Persistence)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) { test(t, newStore(t)) })
	t.Run("file", func(t *testing.T) { test(t, file.NewPersistence(t.TempDir())) })
	t.Run("postgres", func(t *testing.T) { test(t, newPostgresStore(t)) })
}

func newEngine(t *testing.T, store persistence.Persistence, opts ...workflow.EngineOption) *workflow.Engine {
	t.Helper()

	defaults := []workflow.EngineOption{
		workflow.WithConfig(testConfig()),
		workflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}

	engine, err := workflow.NewEngine(store, append(defaults, opts...)...)
	require.NoError(t, err)

	return engine
}

type orderInput struct {
	OrderID          string `json:"order_id"`
	FailAt           string `json:"fail_at,omitempty"`
	PanicAt          string `json:"panic_at,omitempty"`
	FailCompensation string `json:"fail_compensation,omitempty"`
}

type orderOutput struct {
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id"`
	PaymentID     string `json:"payment_id"`
	Confirmation  string `json:"confirmation"`
}

var reservationKey = workflow.NewKey[string]("reservation_id")

// hooks lets a test run code inside a step body.
type hooks map[string]func(ctx context.Context, wctx *workflow.Context)

func orderStep(name string, rec *recorder, h hooks) *workflow.Step[orderInput, string, orderInput] {
	return workflow.SimpleStep(name, func(ctx context.Context, wctx *workflow.Context, in orderInput) (string, error) {
		rec.add("execute:" + name)

		if hook, ok := h[name]; ok {
			hook(ctx, wctx)
		}

		if in.PanicAt == name {
			panic(name + " exploded")
		}

		if in.FailAt == name {
			return "", fmt.Errorf("%s failed", name)
		}

		return name + "-" + in.OrderID, nil
	}).WithCompensation(func(_ context.Context, _ *workflow.Context, in orderInput) error {
		rec.add("compensate:" + name)

		if in.FailCompensation == name {
			return errors.New(name + " compensation broke")
		}

		return nil
	})
}

// orderWorkflow is reserve -> charge -> confirm.
func orderWorkflow(name string, rec *recorder, h hooks, opts ...workflow.Option) *workflow.Workflow[orderInput, orderOutput] {
	reserve := orderStep("reserve", rec, h)
	charge := orderStep("charge", rec, h)
	confirm := orderStep("confirm", rec, h)

	opts = append([]workflow.Option{workflow.WithStepCount(3)}, opts...)

	return workflow.New(name, func(ctx context.Context, wctx *workflow.Context, in orderInput) (orderOutput, error) {
		reservation, err := workflow.RunStep(ctx, wctx, reserve, in)
		if err != nil {
			return orderOutput{}, err
		}

		reservationKey.Set(wctx, reservation)

		payment, err := workflow.RunStep(ctx, wctx, charge, in)
		if err != nil {
			return orderOutput{}, err
		}

		confirmation, err := workflow.RunStep(ctx, wctx, confirm, in)
		if err != nil {
			return orderOutput{}, err
		}

		return orderOutput{
			OrderID:       in.OrderID,
			ReservationID: reservation,
			PaymentID:     payment,
			Confirmation:  confirmation,
		}, nil
	}, opts...)
}

// twoStepWorkflow is reserve -> charge; after sees the outcome of both steps
// before the body returns.
func twoStepWorkflow(name string, rec *recorder, after func(ctx context.Context, wctx *workflow.Context, err error)) *workflow.Workflow[orderInput, orderOutput] {
	reserve := orderStep("reserve", rec, nil)
	charge := orderStep("charge", rec, nil)

	return workflow.New(name, func(ctx context.Context, wctx *workflow.Context, in orderInput) (orderOutput, error) {
		reservation, err := workflow.RunStep(ctx, wctx, reserve, in)
		if err != nil {
			return orderOutput{}, err
		}

		payment, err := workflow.RunStep(ctx, wctx, charge, in)

		after(ctx, wctx, err)

		if err != nil {
			return orderOutput{}, err
		}

		return orderOutput{OrderID: in.OrderID, ReservationID: reservation, PaymentID: payment}, nil
	}, workflow.WithStepCount(2))
}
