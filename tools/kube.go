package tools

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/remedy"
	"github.com/m-mizutani/remedy/kube"
)

const defaultLogTail = 50

// KubeTools returns the catalog entries backed by the Kubernetes client:
// the pod-level observation tools and the cluster-mutating actions.
func KubeTools(client *kube.Client) []remedy.Tool {
	return []remedy.Tool{
		&podLogsTool{client: client},
		&describePodTool{client: client},
		&eventsTool{client: client},
		&rbacTool{client: client},
		&applyTool{client: client},
		&rolloutRestartTool{client: client},
		&deletePodTool{client: client},
		&patchResourceTool{client: client},
	}
}

type podLogsTool struct {
	client *kube.Client
}

func (t *podLogsTool) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "get_pod_logs",
		Description: "Get the logs of a container. Use this when you need to see what error a pod is producing.",
		Capability:  remedy.CapabilityObserve,
		Parameters: map[string]*remedy.Parameter{
			"namespace": {Type: remedy.TypeString},
			"pod":       {Type: remedy.TypeString},
			"container": {Type: remedy.TypeString},
			"previous": {
				Type:        remedy.TypeBoolean,
				Description: "true to read the logs of the previous crashed instance",
				Default:     true,
			},
			"tail": {
				Type:        remedy.TypeInteger,
				Description: "Maximum number of trailing lines to return",
				Default:     defaultLogTail,
			},
		},
		Required: []string{"namespace", "pod", "container"},
	}
}

func (t *podLogsTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	logs, err := t.client.PodLogs(ctx,
		strArg(args, "namespace"), strArg(args, "pod"), strArg(args, "container"),
		boolArgOr(args, "previous", true), int64(intArgOr(args, "tail", defaultLogTail)))
	if err != nil {
		return nil, err
	}
	if logs == "" {
		logs = "(no log output)"
	}
	return map[string]any{"logs": logs}, nil
}

type describePodTool struct {
	client *kube.Client
}

func (t *describePodTool) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "describe_pod",
		Description: "Describe a pod: owner, container states, restarts, resources and conditions. Useful for initial diagnosis.",
		Capability:  remedy.CapabilityObserve,
		Parameters: map[string]*remedy.Parameter{
			"namespace": {Type: remedy.TypeString},
			"pod":       {Type: remedy.TypeString},
		},
		Required: []string{"namespace", "pod"},
	}
}

func (t *describePodTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	desc, err := t.client.DescribePod(ctx, strArg(args, "namespace"), strArg(args, "pod"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"description": desc}, nil
}

type eventsTool struct {
	client *kube.Client
}

func (t *eventsTool) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "get_events",
		Description: "Get the Kubernetes events of a namespace, optionally narrowed to a single resource.",
		Capability:  remedy.CapabilityObserve,
		Parameters: map[string]*remedy.Parameter{
			"namespace": {Type: remedy.TypeString},
			"resource": {
				Type:        remedy.TypeString,
				Description: "Pod or deployment name to filter by (optional)",
			},
		},
		Required: []string{"namespace"},
	}
}

func (t *eventsTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	events, err := t.client.Events(ctx, strArg(args, "namespace"), strArg(args, "resource"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"events": events}, nil
}

type rbacTool struct {
	client *kube.Client
}

func (t *rbacTool) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "check_rbac",
		Description: "Inspect the RBAC permissions of a ServiceAccount. Use this when you suspect 403/Forbidden errors.",
		Capability:  remedy.CapabilityObserve,
		Parameters: map[string]*remedy.Parameter{
			"namespace":      {Type: remedy.TypeString},
			"serviceaccount": {Type: remedy.TypeString},
		},
		Required: []string{"namespace", "serviceaccount"},
	}
}

func (t *rbacTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	report, err := t.client.CheckRBAC(ctx, strArg(args, "namespace"), strArg(args, "serviceaccount"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"rbac": report}, nil
}

type applyTool struct {
	client *kube.Client
}

func (t *applyTool) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "kubectl_apply",
		Description: "Apply a YAML manifest to the cluster. Use this to create or modify any resource: bare pods, Deployments, RBAC, ConfigMaps. For a bare pod that was OOMKilled, produce the full manifest with higher memory limits; the existing pod must be deleted first.",
		Capability:  remedy.CapabilityAct,
		Parameters: map[string]*remedy.Parameter{
			"manifest_yaml": {
				Type:        remedy.TypeString,
				Description: "Complete YAML manifest as a string",
			},
		},
		Required: []string{"manifest_yaml"},
	}
}

func (t *applyTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	out, err := t.client.Apply(ctx, strArg(args, "manifest_yaml"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": out}, nil
}

type rolloutRestartTool struct {
	client *kube.Client
}

func (t *rolloutRestartTool) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "rollout_restart",
		Description: "Gracefully restart a deployment, daemonset or statefulset.",
		Capability:  remedy.CapabilityAct,
		Parameters: map[string]*remedy.Parameter{
			"namespace": {Type: remedy.TypeString},
			"resource": {
				Type:        remedy.TypeString,
				Description: "Kind and name, e.g. deployment/prometheus-grafana",
			},
		},
		Required: []string{"namespace", "resource"},
	}
}

func (t *rolloutRestartTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	out, err := t.client.RolloutRestart(ctx, strArg(args, "namespace"), strArg(args, "resource"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": out}, nil
}

type deletePodTool struct {
	client *kube.Client
}

func (t *deletePodTool) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "delete_pod",
		Description: "Delete a pod. Needed before kubectl_apply when recreating a bare pod with different configuration, such as new memory limits. For Deployments prefer rollout_restart.",
		Capability:  remedy.CapabilityAct,
		Parameters: map[string]*remedy.Parameter{
			"namespace": {Type: remedy.TypeString},
			"pod": {
				Type:        remedy.TypeString,
				Description: "Name of the pod to delete",
			},
		},
		Required: []string{"namespace", "pod"},
	}
}

func (t *deletePodTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	out, err := t.client.DeletePod(ctx, strArg(args, "namespace"), strArg(args, "pod"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": out}, nil
}

type patchResourceTool struct {
	client *kube.Client
}

func (t *patchResourceTool) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "patch_resource",
		Description: "Apply a merge patch to a Kubernetes resource (Deployment, StatefulSet, ...). Useful to change resource limits, replicas or images without rewriting the whole manifest.",
		Capability:  remedy.CapabilityAct,
		Parameters: map[string]*remedy.Parameter{
			"namespace": {Type: remedy.TypeString},
			"resource": {
				Type:        remedy.TypeString,
				Description: "Kind and name, e.g. deployment/my-app or statefulset/my-db",
			},
			"patch": {
				Type:        remedy.TypeObject,
				Description: `JSON merge patch, e.g. {"spec":{"template":{"spec":{"containers":[{"name":"app","resources":{"limits":{"memory":"512Mi"}}}]}}}}`,
				Properties:  map[string]*remedy.Parameter{},
			},
		},
		Required: []string{"namespace", "resource", "patch"},
	}
}

func (t *patchResourceTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	patch, err := json.Marshal(objArg(args, "patch"))
	if err != nil {
		return nil, goerr.Wrap(err, "patch is not JSON-encodable")
	}

	out, err := t.client.PatchResource(ctx, strArg(args, "namespace"), strArg(args, "resource"), string(patch))
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": out}, nil
}
