package tools

import (
	"context"

	"github.com/m-mizutani/remedy"
	"github.com/m-mizutani/remedy/loki"
)

const (
	defaultQueryLimit  = 100
	defaultQuerySince  = "1h"
	defaultSearchSince = "24h"
)

// LokiTools returns the catalog entries backed by the Loki client.
func LokiTools(client *loki.Client) []remedy.Tool {
	return []remedy.Tool{
		&queryLokiTool{client: client},
		&searchErrorsTool{client: client},
	}
}

type queryLokiTool struct {
	client *loki.Client
}

func (t *queryLokiTool) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "query_loki",
		Description: "Query historical logs in Loki. Useful for context on past errors and logs across containers. Use this when you need logs older than one hour or want to search historical error patterns.",
		Capability:  remedy.CapabilityObserve,
		Parameters: map[string]*remedy.Parameter{
			"namespace": {
				Type:        remedy.TypeString,
				Description: "Namespace of the pod",
			},
			"pod": {
				Type:        remedy.TypeString,
				Description: "Pod name (optional)",
			},
			"query": {
				Type:        remedy.TypeString,
				Description: `Additional LogQL line filter, e.g. '|= "error"'`,
			},
			"limit": {
				Type:        remedy.TypeInteger,
				Description: "Maximum number of lines to return",
				Default:     defaultQueryLimit,
			},
			"since": {
				Type:        remedy.TypeString,
				Description: "Time window to search (1h, 30m, 1d, 7d)",
				Default:     defaultQuerySince,
			},
		},
		Required: []string{"namespace"},
	}
}

func (t *queryLokiTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	since, err := parseWindow(strArgOr(args, "since", defaultQuerySince))
	if err != nil {
		return nil, err
	}

	sel := loki.Selector{
		Namespace: strArg(args, "namespace"),
		Pod:       strArg(args, "pod"),
		Filter:    strArg(args, "query"),
	}
	entries, err := t.client.QueryLogs(ctx, sel, since, intArgOr(args, "limit", defaultQueryLimit))
	if err != nil {
		return nil, err
	}
	return map[string]any{"logs": loki.Render(entries), "count": len(entries)}, nil
}

type searchErrorsTool struct {
	client *loki.Client
}

func (t *searchErrorsTool) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "search_errors_in_loki",
		Description: "Search for error patterns in historical Loki logs. Useful to diagnose recurring problems or find the root cause of past failures.",
		Capability:  remedy.CapabilityObserve,
		Parameters: map[string]*remedy.Parameter{
			"namespace": {
				Type:        remedy.TypeString,
				Description: "Namespace to search",
			},
			"pod": {
				Type:        remedy.TypeString,
				Description: "Pod name (optional)",
			},
			"since": {
				Type:        remedy.TypeString,
				Description: "How far back to search (e.g. 24h, 7d)",
				Default:     defaultSearchSince,
			},
		},
		Required: []string{"namespace"},
	}
}

func (t *searchErrorsTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	since, err := parseWindow(strArgOr(args, "since", defaultSearchSince))
	if err != nil {
		return nil, err
	}

	entries, err := t.client.SearchErrors(ctx,
		strArg(args, "namespace"), strArg(args, "pod"), since, defaultQueryLimit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"logs": loki.Render(entries), "count": len(entries)}, nil
}
