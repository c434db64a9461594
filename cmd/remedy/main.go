package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "remedy",
		Usage: "LLM-guided Kubernetes diagnosis and remediation agent",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			monitorCommand(),
			fixCommand(),
			toolsCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Value:   "config.yaml",
			Sources: cli.EnvVars("REMEDY_CONFIG"),
			Usage:   "Path to the configuration file",
		},
		&cli.BoolFlag{
			Name:    "dry-run",
			Sources: cli.EnvVars("REMEDY_DRY_RUN"),
			Usage:   "Simulate mutating actions instead of executing them",
		},
		&cli.BoolFlag{
			Name:    "auto",
			Sources: cli.EnvVars("REMEDY_AUTO"),
			Usage:   "Execute mutating actions without confirmation",
		},
		&cli.IntFlag{
			Name:    "max-iterations",
			Sources: cli.EnvVars("REMEDY_MAX_ITERATIONS"),
			Usage:   "Iteration budget per run (overrides config)",
		},
		&cli.StringFlag{
			Name:    "provider",
			Sources: cli.EnvVars("REMEDY_PROVIDER"),
			Usage:   "Model backend: openai, claude, gemini or ollama (overrides config)",
		},
		&cli.StringFlag{
			Name:    "model",
			Sources: cli.EnvVars("REMEDY_MODEL"),
			Usage:   "Model name (overrides config)",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Sources: cli.EnvVars("REMEDY_LOG_LEVEL"),
			Usage:   "Log level: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Sources: cli.EnvVars("REMEDY_LOG_FORMAT"),
			Usage:   "Log format: text or json",
		},
	}
}
