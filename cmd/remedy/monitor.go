package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/remedy/monitor"
)

func monitorCommand() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Watch the cluster and remediate unhealthy workloads",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "once",
				Sources: cli.EnvVars("REMEDY_ONCE"),
				Usage:   "Run a single sweep and exit",
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Sources: cli.EnvVars("REMEDY_METRICS_ADDR"),
				Usage:   "Listen address for the Prometheus metrics endpoint (e.g. :9090)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}

			metricsAddr := cmd.String("metrics-addr")
			if metricsAddr == "" {
				metricsAddr = rt.cfg.Monitor.MetricsAddr
			}

			mon, err := monitor.New(rt.kube, rt.engine,
				monitor.WithNamespaces(rt.cfg.Kubernetes.NamespaceList()),
				monitor.WithInterval(rt.cfg.Agent.PollInterval.Std()),
				monitor.WithParallelism(rt.cfg.Monitor.Parallelism),
				monitor.WithBudget(rt.budget),
				monitor.WithBadStates(rt.cfg.Monitor.BadStates),
				monitor.WithMetricsAddr(metricsAddr),
				monitor.WithLogger(rt.logger),
			)
			if err != nil {
				return err
			}

			if cmd.Bool("once") {
				return mon.Sweep(ctx)
			}
			return mon.Run(ctx)
		},
	}
}
