package main

import (
	"context"

	"github.com/dukex/orderflow/pkg/log"
	"github.com/dukex/orderflow/pkg/reconcile"
	cli "github.com/urfave/cli/v3"
)

func ReconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Run one reconciliation sweep and print what it did",
		Flags: reconcileFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("reconciler")

			rt, err := newRuntime(ctx, command, logger)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			reconciler, err := reconcile.New(rt.persistence, rt.engine, reconcileConfig(command), logger, reconcile.WithPublisher(rt.eventBus))
			if err != nil {
				return err
			}

			report, err := reconciler.Sweep(ctx)
			if err != nil {
				return err
			}

			return printJSON(command.Root().Writer, report)
		},
	}
}
