package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/orderflow/pkg/log"
	"github.com/dukex/orderflow/pkg/services"
	cli "github.com/urfave/cli/v3"
)

var errWorkflowFailed = errors.New("workflow did not complete")

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Run a workflow and print its outcome",
		ArgsUsage: "<workflow> [json-input]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "input-file",
				Aliases: []string{"f"},
				Usage:   "Read the JSON input from a file, - for stdin",
			},
			&cli.StringFlag{
				Name:  "idempotency-key",
				Usage: "Deduplicate runs sharing this key",
			},
			&cli.StringFlag{
				Name:  "correlation-id",
				Usage: "Correlation id for the execution and its events",
			},
			&cli.IntFlag{
				Name:  "timeout-seconds",
				Usage: "Timeout for this run; 0 uses the workflow default",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("cli")

			if command.NArg() < 1 {
				return errors.New("workflow name is required")
			}

			input, err := readInput(command)
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, command, logger)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			response, err := rt.service.Run(ctx, services.RunRequest{
				Workflow:       command.Args().First(),
				Input:          input,
				IdempotencyKey: command.String("idempotency-key"),
				CorrelationID:  command.String("correlation-id"),
				TimeoutSeconds: command.Int("timeout-seconds"),
			})
			if err != nil {
				return err
			}

			err = printJSON(command.Root().Writer, response)
			if err != nil {
				return err
			}

			if !response.Succeeded() {
				return fmt.Errorf("%w: %s", errWorkflowFailed, response.Status)
			}

			return nil
		},
	}
}

func readInput(command *cli.Command) (json.RawMessage, error) {
	path := command.String("input-file")

	switch {
	case path == "-":
		data, err := io.ReadAll(command.Root().Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}

		return data, nil
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}

		return data, nil
	case command.NArg() > 1:
		return json.RawMessage(command.Args().Get(1)), nil
	default:
		return json.RawMessage("{}"), nil
	}
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}
