package kube

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	authv1 "k8s.io/api/authorization/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// PodLogs retrieves container logs. With previous set, logs of the last
// terminated instance are fetched, which is usually where the crash
// evidence lives.
func (c *Client) PodLogs(ctx context.Context, namespace, pod, container string, previous bool, tailLines int64) (string, error) {
	opts := &corev1.PodLogOptions{
		Container: container,
		Previous:  previous,
	}
	if tailLines > 0 {
		opts.TailLines = &tailLines
	}

	stream, err := c.clientset.CoreV1().Pods(namespace).GetLogs(pod, opts).Stream(ctx)
	if err != nil {
		return "", wrapAPIError(err, "failed to stream pod logs",
			podValues(namespace, pod)...)
	}
	defer stream.Close()

	raw, err := io.ReadAll(stream)
	if err != nil {
		return "", wrapAPIError(err, "failed to read pod logs", podValues(namespace, pod)...)
	}
	return string(raw), nil
}

// DescribePod renders the pod state the way a diagnosing engineer reads
// it: phase, owner, per-container state, resources and conditions. The
// owner line matters most; it tells the model whether this is a bare pod
// or a managed workload, which decides the remediation strategy.
func (c *Client) DescribePod(ctx context.Context, namespace, pod string) (string, error) {
	p, err := c.clientset.CoreV1().Pods(namespace).Get(ctx, pod, metav1.GetOptions{})
	if err != nil {
		return "", wrapAPIError(err, "failed to get pod", podValues(namespace, pod)...)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s\nNamespace: %s\nNode: %s\nPhase: %s\n",
		p.Name, p.Namespace, p.Spec.NodeName, p.Status.Phase)
	if p.Status.Reason != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", p.Status.Reason)
	}
	fmt.Fprintf(&sb, "ServiceAccount: %s\n", p.Spec.ServiceAccountName)

	if len(p.OwnerReferences) > 0 {
		owners := make([]string, 0, len(p.OwnerReferences))
		for _, ref := range p.OwnerReferences {
			owners = append(owners, fmt.Sprintf("%s/%s", ref.Kind, ref.Name))
		}
		fmt.Fprintf(&sb, "Controlled By: %s\n", strings.Join(owners, ", "))
	} else {
		sb.WriteString("Controlled By: (none, bare pod)\n")
	}

	sb.WriteString("Containers:\n")
	for _, container := range p.Spec.Containers {
		fmt.Fprintf(&sb, "  %s:\n    Image: %s\n", container.Name, container.Image)
		if limits := container.Resources.Limits; len(limits) > 0 {
			fmt.Fprintf(&sb, "    Limits: cpu=%s memory=%s\n",
				limits.Cpu().String(), limits.Memory().String())
		}
		if requests := container.Resources.Requests; len(requests) > 0 {
			fmt.Fprintf(&sb, "    Requests: cpu=%s memory=%s\n",
				requests.Cpu().String(), requests.Memory().String())
		}
		for _, status := range p.Status.ContainerStatuses {
			if status.Name != container.Name {
				continue
			}
			fmt.Fprintf(&sb, "    Ready: %t\n    Restart Count: %d\n", status.Ready, status.RestartCount)
			fmt.Fprintf(&sb, "    State: %s\n", containerState(status.State))
			if status.LastTerminationState.Terminated != nil {
				fmt.Fprintf(&sb, "    Last State: %s\n", containerState(status.LastTerminationState))
			}
		}
	}

	if len(p.Status.Conditions) > 0 {
		sb.WriteString("Conditions:\n")
		for _, cond := range p.Status.Conditions {
			fmt.Fprintf(&sb, "  %s=%s", cond.Type, cond.Status)
			if cond.Reason != "" {
				fmt.Fprintf(&sb, " (%s)", cond.Reason)
			}
			sb.WriteString("\n")
		}
	}

	return sb.String(), nil
}

func containerState(state corev1.ContainerState) string {
	switch {
	case state.Running != nil:
		return fmt.Sprintf("Running (started %s)", state.Running.StartedAt.Format("2006-01-02T15:04:05Z"))
	case state.Waiting != nil:
		msg := state.Waiting.Reason
		if state.Waiting.Message != "" {
			msg += ": " + state.Waiting.Message
		}
		return "Waiting " + msg
	case state.Terminated != nil:
		return fmt.Sprintf("Terminated %s (exit code %d)", state.Terminated.Reason, state.Terminated.ExitCode)
	default:
		return "Unknown"
	}
}

// Events lists namespace events, newest last, optionally narrowed to one
// involved object.
func (c *Client) Events(ctx context.Context, namespace, involved string) (string, error) {
	opts := metav1.ListOptions{}
	if involved != "" {
		opts.FieldSelector = "involvedObject.name=" + involved
	}

	list, err := c.clientset.CoreV1().Events(namespace).List(ctx, opts)
	if err != nil {
		return "", wrapAPIError(err, "failed to list events", goerr.V("namespace", namespace))
	}

	events := list.Items
	sort.Slice(events, func(i, j int) bool {
		return events[i].LastTimestamp.Before(&events[j].LastTimestamp)
	})

	if len(events) == 0 {
		return "No events found.", nil
	}

	var sb strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&sb, "%s %s %s/%s: %s (%s)\n",
			ev.LastTimestamp.Format("15:04:05"), ev.Type,
			ev.InvolvedObject.Kind, ev.InvolvedObject.Name,
			ev.Message, ev.Reason)
	}
	return sb.String(), nil
}

// probeAttributes are the access checks run for a service account during
// RBAC inspection, covering what a workload typically needs to diagnose
// 403 failures.
var probeAttributes = []authv1.ResourceAttributes{
	{Verb: "get", Resource: "pods"},
	{Verb: "list", Resource: "pods"},
	{Verb: "get", Resource: "configmaps"},
	{Verb: "list", Resource: "events"},
}

// CheckRBAC reports the bindings granting a service account permissions,
// plus the outcome of a few representative access review probes.
func (c *Client) CheckRBAC(ctx context.Context, namespace, serviceAccount string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "RBAC for ServiceAccount %s/%s\n", namespace, serviceAccount)

	crbs, err := c.clientset.RbacV1().ClusterRoleBindings().List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", wrapAPIError(err, "failed to list cluster role bindings")
	}

	var clusterBindings []string
	for _, binding := range crbs.Items {
		for _, subject := range binding.Subjects {
			if subject.Kind == "ServiceAccount" && subject.Name == serviceAccount && subject.Namespace == namespace {
				clusterBindings = append(clusterBindings, fmt.Sprintf("%s -> %s/%s", binding.Name, binding.RoleRef.Kind, binding.RoleRef.Name))
			}
		}
	}

	rbs, err := c.clientset.RbacV1().RoleBindings(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", wrapAPIError(err, "failed to list role bindings", goerr.V("namespace", namespace))
	}

	var roleBindings []string
	for _, binding := range rbs.Items {
		for _, subject := range binding.Subjects {
			if subject.Kind == "ServiceAccount" && subject.Name == serviceAccount &&
				(subject.Namespace == "" || subject.Namespace == namespace) {
				roleBindings = append(roleBindings, fmt.Sprintf("%s -> %s/%s", binding.Name, binding.RoleRef.Kind, binding.RoleRef.Name))
			}
		}
	}

	if len(clusterBindings) == 0 && len(roleBindings) == 0 {
		sb.WriteString("No bindings reference this service account.\n")
	}
	for _, b := range clusterBindings {
		fmt.Fprintf(&sb, "ClusterRoleBinding: %s\n", b)
	}
	for _, b := range roleBindings {
		fmt.Fprintf(&sb, "RoleBinding: %s\n", b)
	}

	user := fmt.Sprintf("system:serviceaccount:%s:%s", namespace, serviceAccount)
	for _, attr := range probeAttributes {
		attr.Namespace = namespace
		sar := &authv1.SubjectAccessReview{
			Spec: authv1.SubjectAccessReviewSpec{
				User:               user,
				ResourceAttributes: &attr,
			},
		}
		resp, err := c.clientset.AuthorizationV1().SubjectAccessReviews().Create(ctx, sar, metav1.CreateOptions{})
		if err != nil {
			fmt.Fprintf(&sb, "probe %s %s: review failed (%v)\n", attr.Verb, attr.Resource, err)
			continue
		}
		fmt.Fprintf(&sb, "probe %s %s: allowed=%t\n", attr.Verb, attr.Resource, resp.Status.Allowed)
	}

	return sb.String(), nil
}

func podValues(namespace, pod string) []goerr.Option {
	return []goerr.Option{goerr.V("namespace", namespace), goerr.V("pod", pod)}
}
