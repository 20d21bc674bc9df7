// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/orderflow/internal/checkout"
	"github.com/dukex/orderflow/pkg/eventbus"
	"github.com/dukex/orderflow/pkg/lock"
	"github.com/dukex/orderflow/pkg/otelhelper"
	"github.com/dukex/orderflow/pkg/persistence"
	"github.com/dukex/orderflow/pkg/workflow"
)

// NewLocker returns a Redis locker when redisURL is set, otherwise an
// in-process one. The returned close func is never nil.
func NewLocker(ctx context.Context, redisURL string, logger *slog.Logger) (lock.Locker, func() error, error) {
	if redisURL == "" {
		return lock.NewMemoryLocker(), func() error { return nil }, nil
	}

	locker, err := lock.NewRedisLockerFromURL(ctx, redisURL, logger)
	if err != nil {
		return nil, nil, err
	}

	return locker, locker.Close, nil
}

type EngineConfig struct {
	Workflow workflow.Config
	Tracing  bool
}

// NewEngine builds the engine with every collaborator wired and the
// checkout workflows registered.
func NewEngine(
	ctx context.Context,
	logger *slog.Logger,
	store persistence.Persistence,
	bus eventbus.EventBus,
	locker lock.Locker,
	config EngineConfig,
) (*workflow.Engine, error) {
	opts := []workflow.EngineOption{
		workflow.WithConfig(config.Workflow),
		workflow.WithLogger(logger),
	}

	if bus != nil {
		opts = append(opts, workflow.WithPublisher(bus))
	}

	if locker != nil {
		opts = append(opts, workflow.WithLocker(locker))
	}

	if config.Tracing {
		tracer, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		opts = append(opts, workflow.WithTracer(tracer))
	}

	engine, err := workflow.NewEngine(store, opts...)
	if err != nil {
		return nil, err
	}

	err = checkout.Register(engine, checkout.NewSampleServices(), bus)
	if err != nil {
		return nil, fmt.Errorf("failed to register workflows: %w", err)
	}

	return engine, nil
}
