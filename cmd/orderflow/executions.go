package main

import (
	"context"
	"errors"

	"github.com/dukex/orderflow/pkg/log"
	"github.com/dukex/orderflow/pkg/services"
	"github.com/dukex/orderflow/pkg/web"
	cli "github.com/urfave/cli/v3"
)

func ExecutionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "executions",
		Aliases: []string{"x"},
		Usage:   "Inspect and signal executions",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List executions, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workflow", Usage: "Filter by workflow name"},
					&cli.StringFlag{Name: "status", Usage: "Filter by status"},
					&cli.StringFlag{Name: "correlation-id", Usage: "Filter by correlation id"},
					&cli.StringFlag{Name: "parent", Usage: "Filter by parent execution id"},
					&cli.BoolFlag{Name: "include-deleted", Usage: "Include cleaned up executions"},
					&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum number of executions"},
				},
				Action: withService(func(ctx context.Context, command *cli.Command, service *services.Execution) error {
					executions, err := service.List(ctx, services.ListExecutionsRequest{
						WorkflowName:      command.String("workflow"),
						Status:            command.String("status"),
						CorrelationID:     command.String("correlation-id"),
						ParentExecutionID: command.String("parent"),
						IncludeDeleted:    command.Bool("include-deleted"),
						Limit:             command.Int("limit"),
					})
					if err != nil {
						return err
					}

					return printJSON(command.Root().Writer, web.TransformExecutionsResponse(executions))
				}),
			},
			{
				Name:      "get",
				Usage:     "Show one execution",
				ArgsUsage: "<execution-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "steps", Usage: "Show the step history instead"},
				},
				Action: withService(func(ctx context.Context, command *cli.Command, service *services.Execution) error {
					id, err := executionID(command)
					if err != nil {
						return err
					}

					if command.Bool("steps") {
						steps, err := service.Steps(ctx, id)
						if err != nil {
							return err
						}

						return printJSON(command.Root().Writer, steps)
					}

					execution, err := service.Get(ctx, id)
					if err != nil {
						return err
					}

					return printJSON(command.Root().Writer, web.TransformExecutionResponse(execution))
				}),
			},
			{
				Name:      "pause",
				Usage:     "Pause an execution before its next step",
				ArgsUsage: "<execution-id>",
				Action: withService(func(ctx context.Context, command *cli.Command, service *services.Execution) error {
					id, err := executionID(command)
					if err != nil {
						return err
					}

					return service.Pause(ctx, id)
				}),
			},
			{
				Name:      "resume",
				Usage:     "Resume a paused execution and wait for it",
				ArgsUsage: "<execution-id>",
				Action: withService(func(ctx context.Context, command *cli.Command, service *services.Execution) error {
					id, err := executionID(command)
					if err != nil {
						return err
					}

					response, err := service.Resume(ctx, id)
					if err != nil {
						return err
					}

					return printJSON(command.Root().Writer, response)
				}),
			},
			{
				Name:      "cancel",
				Usage:     "Cancel an execution and compensate its completed steps",
				ArgsUsage: "<execution-id>",
				Action: withService(func(ctx context.Context, command *cli.Command, service *services.Execution) error {
					id, err := executionID(command)
					if err != nil {
						return err
					}

					return service.Cancel(ctx, id)
				}),
			},
		},
	}
}

func executionID(command *cli.Command) (string, error) {
	if command.NArg() < 1 {
		return "", errors.New("execution id is required")
	}

	return command.Args().First(), nil
}

type serviceAction func(ctx context.Context, command *cli.Command, service *services.Execution) error

func withService(action serviceAction) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		rt, err := newRuntime(ctx, command, log.WithModule("cli"))
		if err != nil {
			return err
		}
		defer rt.Close(ctx)

		return action(ctx, command, rt.service)
	}
}
