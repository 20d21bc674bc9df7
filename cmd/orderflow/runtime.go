package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/orderflow/pkg/cmd"
	"github.com/dukex/orderflow/pkg/eventbus"
	"github.com/dukex/orderflow/pkg/persistence"
	"github.com/dukex/orderflow/pkg/services"
	"github.com/dukex/orderflow/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

func runtimeFlags() []cli.Flag {
	defaults := workflow.DefaultConfig()

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Persistence URL (postgres://, file://, memory://)",
			Value:   "file://./data",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers, used with --event-bus kafka",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the idempotency lock; empty uses an in-process lock",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.DurationFlag{
			Name:    "default-timeout",
			Usage:   "Timeout for workflows without their own; 0 is unbounded",
			Value:   defaults.DefaultTimeout,
			Sources: cli.EnvVars("DEFAULT_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "max-retries",
			Usage:   "Retry budget per idempotency key for workflows without their own",
			Value:   defaults.DefaultMaxRetries,
			Sources: cli.EnvVars("MAX_RETRIES"),
		},
		&cli.DurationFlag{
			Name:    "result-ttl",
			Usage:   "How long completed results are replayed; 0 keeps them forever",
			Value:   defaults.ResultTTL,
			Sources: cli.EnvVars("RESULT_TTL"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// runtime holds the collaborators every command shares.
type runtime struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	engine      *workflow.Engine
	service     *services.Execution

	closers []func(ctx context.Context) error
}

func newRuntime(ctx context.Context, command *cli.Command, logger *slog.Logger) (_ *runtime, err error) {
	rt := &runtime{logger: logger}

	defer func() {
		if err != nil {
			rt.Close(ctx)
		}
	}()

	rt.persistence, err = cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize persistence: %w", err)
	}

	rt.closers = append(rt.closers, rt.persistence.Close)

	rt.eventBus, err = cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}

	rt.closers = append(rt.closers, func(context.Context) error { return rt.eventBus.Close() })

	locker, closeLocker, err := cmd.NewLocker(ctx, command.String("redis-url"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize locker: %w", err)
	}

	rt.closers = append(rt.closers, func(context.Context) error { return closeLocker() })

	config := workflow.DefaultConfig()
	config.DefaultTimeout = command.Duration("default-timeout")
	config.DefaultMaxRetries = command.Int("max-retries")
	config.ResultTTL = command.Duration("result-ttl")

	rt.engine, err = cmd.NewEngine(ctx, logger, rt.persistence, rt.eventBus, locker, cmd.EngineConfig{
		Workflow: config,
		Tracing:  command.Bool("tracing"),
	})
	if err != nil {
		return nil, err
	}

	rt.service = services.NewExecution(rt.engine, rt.persistence)

	return rt, nil
}

// Close releases everything in reverse order of creation.
func (rt *runtime) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	for i := len(rt.closers) - 1; i >= 0; i-- {
		err := rt.closers[i](ctx)
		if err != nil {
			rt.logger.ErrorContext(ctx, "Failed to close resource", "error", err)
		}
	}
}
