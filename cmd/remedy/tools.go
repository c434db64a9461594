package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/remedy"
	"github.com/m-mizutani/remedy/helm"
	"github.com/m-mizutani/remedy/kube"
	"github.com/m-mizutani/remedy/loki"
	"github.com/m-mizutani/remedy/prom"
	"github.com/m-mizutani/remedy/tools"
)

func toolsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tools",
		Usage: "List the tool catalog",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			// Listing needs specs only, so the catalog is built over
			// unconnected backends instead of the full setup path.
			catalog := tools.Catalog(tools.Backends{
				Kube: &kube.Client{},
				Helm: &helm.Client{},
				Loki: &loki.Client{},
				Prom: &prom.Client{},
			})

			registry, err := remedy.NewRegistry(catalog...)
			if err != nil {
				return err
			}

			for _, spec := range registry.List() {
				params := make([]string, 0, len(spec.Parameters))
				for name := range spec.Parameters {
					params = append(params, name)
				}
				sort.Strings(params)

				fmt.Printf("%-24s [%s]\n", spec.Name, spec.Class())
				fmt.Printf("  %s\n", spec.Description)
				if len(params) > 0 {
					fmt.Printf("  parameters: %s\n", strings.Join(params, ", "))
				}
			}
			return nil
		},
	}
}
