package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dukex/orderflow/internal/checkout"
	"github.com/dukex/orderflow/pkg/log"
	"github.com/dukex/orderflow/pkg/reconcile"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func reconcileFlags() []cli.Flag {
	defaults := reconcile.DefaultConfig()

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "reconcile-schedule",
			Usage:   "Cron schedule of the reconciliation sweep",
			Value:   defaults.Schedule,
			Sources: cli.EnvVars("RECONCILE_SCHEDULE"),
		},
		&cli.DurationFlag{
			Name:    "stale-after",
			Usage:   "Time out running executions without a timeout after this long without progress",
			Value:   defaults.StaleAfter,
			Sources: cli.EnvVars("STALE_AFTER"),
		},
		&cli.DurationFlag{
			Name:    "retention",
			Usage:   "How long failed and cancelled executions are kept",
			Value:   defaults.Retention,
			Sources: cli.EnvVars("RETENTION"),
		},
	}
}

func reconcileConfig(command *cli.Command) reconcile.Config {
	config := reconcile.DefaultConfig()
	config.Schedule = command.String("reconcile-schedule")
	config.StaleAfter = command.Duration("stale-after")
	config.Retention = command.Duration("retention")

	return config
}

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the API server and the reconciler",
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		}, reconcileFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Orderflow API")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, command, logger)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			err = rt.eventBus.Handle(checkout.OrderCompletedEvent, func(ctx context.Context, event any) error {
				completed, ok := event.(*checkout.OrderCompleted)
				if !ok {
					return fmt.Errorf("unexpected event %T", event)
				}

				logger.InfoContext(ctx, "Order completed",
					"order_id", completed.OrderID,
					"execution_id", completed.ExecutionID,
					"total_cents", completed.TotalCents,
				)

				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to handle order events: %w", err)
			}

			err = rt.eventBus.Subscribe(ctx)
			if err != nil {
				return fmt.Errorf("failed to subscribe to events: %w", err)
			}

			reconciler, err := reconcile.New(rt.persistence, rt.engine, reconcileConfig(command), logger, reconcile.WithPublisher(rt.eventBus))
			if err != nil {
				return err
			}

			err = reconciler.Start(ctx)
			if err != nil {
				return err
			}

			api := NewAPI(logger, rt.service)
			app := api.App()
			served := make(chan error, 1)

			go func() {
				served <- api.Listen(app, command.Int("port"))
			}()

			select {
			case err = <-served:
			case <-ctx.Done():
				logger.Info("Shutting down")

				err = app.ShutdownWithContext(context.WithoutCancel(ctx))
			}

			return errors.Join(err, reconciler.Stop(context.WithoutCancel(ctx)))
		},
	}
}
