package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/remedy"
)

func fixCommand() *cli.Command {
	return &cli.Command{
		Name:      "fix",
		Usage:     "Run one remediation session for an operator-described problem",
		ArgsUsage: "<problem description>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "namespace",
				Usage: "Namespace of the affected workload",
			},
			&cli.StringFlag{
				Name:  "pod",
				Usage: "Name of the affected pod",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			description := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if description == "" && cmd.String("pod") == "" {
				return goerr.New("describe the problem, or name a pod with --pod")
			}

			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}

			incident := remedy.Incident{
				Description: description,
				Namespace:   cmd.String("namespace"),
				Pod:         cmd.String("pod"),
			}

			outcome, err := rt.engine.Run(ctx, incident, rt.budget)
			if err != nil {
				return err
			}

			status := "UNRESOLVED"
			if outcome.Resolved {
				status = "RESOLVED"
			}
			fmt.Printf("\n%s (%s after %d iterations)\n%s\n",
				status, outcome.Reason, outcome.Iterations, outcome.Summary)

			if !outcome.Resolved {
				os.Exit(1)
			}
			return nil
		},
	}
}
