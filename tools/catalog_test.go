package tools_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/m-mizutani/remedy"
	"github.com/m-mizutani/remedy/helm"
	"github.com/m-mizutani/remedy/kube"
	"github.com/m-mizutani/remedy/loki"
	"github.com/m-mizutani/remedy/prom"
	"github.com/m-mizutani/remedy/tools"
)

func podFixture(namespace, name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{Name: "app"}},
		},
	}
}

func fullBackends() tools.Backends {
	return tools.Backends{
		Kube: &kube.Client{},
		Helm: &helm.Client{},
		Loki: &loki.Client{},
		Prom: &prom.Client{},
	}
}

func TestCatalogComposition(t *testing.T) {
	catalog := tools.Catalog(fullBackends())

	names := map[string]remedy.Capability{}
	for _, tool := range catalog {
		spec := tool.Spec()
		names[spec.Name] = spec.Class()
	}

	observe := []string{
		"get_pod_logs", "describe_pod", "get_events", "check_rbac",
		"query_loki", "search_errors_in_loki",
		"query_prometheus", "get_pod_metrics", "get_high_resource_pods", "analyze_pod_health",
	}
	act := []string{
		"kubectl_apply", "rollout_restart", "delete_pod", "patch_resource", "helm_upgrade",
	}

	gt.Equal(t, len(catalog), len(observe)+len(act))
	for _, name := range observe {
		gt.Equal(t, names[name], remedy.CapabilityObserve)
	}
	for _, name := range act {
		gt.Equal(t, names[name], remedy.CapabilityAct)
	}
}

func TestCatalogDropsNilBackends(t *testing.T) {
	catalog := tools.Catalog(tools.Backends{Kube: &kube.Client{}})

	for _, tool := range catalog {
		name := tool.Spec().Name
		gt.NotEqual(t, name, "helm_upgrade")
		gt.NotEqual(t, name, "query_loki")
		gt.NotEqual(t, name, "query_prometheus")
	}
	gt.Equal(t, len(catalog), 8)
}

func TestCatalogRegisters(t *testing.T) {
	// Every spec must survive registry construction: unique names, valid
	// schemas, compilable parameters.
	registry, err := remedy.NewRegistry(tools.Catalog(fullBackends())...)
	gt.NoError(t, err)
	gt.Equal(t, registry.Len(), 15)
}

func TestPodLogsTool(t *testing.T) {
	client := kube.NewFromClientset(fake.NewSimpleClientset(podFixture("default", "web-1")))

	var logsTool remedy.Tool
	for _, tool := range tools.KubeTools(client) {
		if tool.Spec().Name == "get_pod_logs" {
			logsTool = tool
		}
	}
	gt.NotNil(t, logsTool)

	out, err := logsTool.Run(context.Background(), map[string]any{
		"namespace": "default",
		"pod":       "web-1",
		"container": "app",
	})
	gt.NoError(t, err)
	gt.NotNil(t, out["logs"])
}

func TestEventsToolEmptyNamespace(t *testing.T) {
	client := kube.NewFromClientset(fake.NewSimpleClientset())

	var evTool remedy.Tool
	for _, tool := range tools.KubeTools(client) {
		if tool.Spec().Name == "get_events" {
			evTool = tool
		}
	}
	gt.NotNil(t, evTool)

	out, err := evTool.Run(context.Background(), map[string]any{"namespace": "default"})
	gt.NoError(t, err)
	gt.Equal(t, out["events"], "No events found.")
}
