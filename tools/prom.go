package tools

import (
	"context"

	"github.com/m-mizutani/remedy"
	"github.com/m-mizutani/remedy/prom"
)

const (
	defaultTimeRange = "5m"
	defaultThreshold = 0.8
)

// PromTools returns the catalog entries backed by the Prometheus client.
func PromTools(client *prom.Client) []remedy.Tool {
	return []remedy.Tool{
		&queryPromTool{client: client},
		&podMetricsTool{client: client},
		&highResourcePodsTool{client: client},
		&podHealthTool{client: client},
	}
}

type queryPromTool struct {
	client *prom.Client
}

func (t *queryPromTool) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "query_prometheus",
		Description: "Run a PromQL query against Prometheus. Useful for CPU, memory and restart metrics. Use this when you need resource usage of a pod or want to detect anomalies.",
		Capability:  remedy.CapabilityObserve,
		Parameters: map[string]*remedy.Parameter{
			"query": {
				Type:        remedy.TypeString,
				Description: "PromQL query, e.g. 'rate(container_cpu_usage_seconds_total[5m])'",
			},
			"time_range": {
				Type:        remedy.TypeString,
				Description: "Time window (e.g. 5m, 1h)",
				Default:     defaultTimeRange,
			},
		},
		Required: []string{"query"},
	}
}

func (t *queryPromTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	window, err := parseWindow(strArgOr(args, "time_range", defaultTimeRange))
	if err != nil {
		return nil, err
	}

	out, err := t.client.Query(ctx, strArg(args, "query"), window)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": out}, nil
}

type podMetricsTool struct {
	client *prom.Client
}

func (t *podMetricsTool) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "get_pod_metrics",
		Description: "Get CPU, memory and restart metrics of a specific pod. Useful to diagnose resource problems.",
		Capability:  remedy.CapabilityObserve,
		Parameters: map[string]*remedy.Parameter{
			"namespace": {
				Type:        remedy.TypeString,
				Description: "Namespace of the pod",
			},
			"pod": {
				Type:        remedy.TypeString,
				Description: "Pod name",
			},
		},
		Required: []string{"namespace", "pod"},
	}
}

func (t *podMetricsTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	out, err := t.client.PodMetrics(ctx, strArg(args, "namespace"), strArg(args, "pod"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"metrics": out}, nil
}

type highResourcePodsTool struct {
	client *prom.Client
}

func (t *highResourcePodsTool) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "get_high_resource_pods",
		Description: "Detect pods with high CPU or memory utilization relative to their limits. Useful to find pods that may be causing performance problems.",
		Capability:  remedy.CapabilityObserve,
		Parameters: map[string]*remedy.Parameter{
			"namespace": {
				Type:        remedy.TypeString,
				Description: "Namespace to inspect (optional, empty means all)",
			},
			"threshold": {
				Type:        remedy.TypeNumber,
				Description: "Utilization threshold between 0.0 and 1.0",
				Default:     defaultThreshold,
			},
		},
	}
}

func (t *highResourcePodsTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	out, err := t.client.HighResourcePods(ctx,
		strArg(args, "namespace"), floatArgOr(args, "threshold", defaultThreshold))
	if err != nil {
		return nil, err
	}
	return map[string]any{"pods": out}, nil
}

type podHealthTool struct {
	client *prom.Client
}

func (t *podHealthTool) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "analyze_pod_health",
		Description: "Full health analysis of a pod based on Prometheus metrics: high resource utilization, frequent restarts, containers not ready, and OOMKill risk.",
		Capability:  remedy.CapabilityObserve,
		Parameters: map[string]*remedy.Parameter{
			"namespace": {
				Type:        remedy.TypeString,
				Description: "Namespace of the pod",
			},
			"pod": {
				Type:        remedy.TypeString,
				Description: "Pod name",
			},
		},
		Required: []string{"namespace", "pod"},
	}
}

func (t *podHealthTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	out, err := t.client.AnalyzePodHealth(ctx, strArg(args, "namespace"), strArg(args, "pod"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"analysis": out}, nil
}
