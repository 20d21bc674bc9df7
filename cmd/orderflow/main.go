// Command orderflow serves the saga engine over HTTP and drives it from the shell.
package main

import (
	"context"
	"os"

	"github.com/dukex/orderflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "orderflow",
		Usage:                 "Run and operate saga workflows",
		EnableShellCompletion: true,
		Flags:                 runtimeFlags(),
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			ServeCommand(),
			RunCommand(),
			ExecutionsCommand(),
			ReconcileCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("cli").Error("Command failed", "error", err)
		os.Exit(1)
	}
}
