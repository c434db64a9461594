package kube

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// defaultBadStates are the container waiting/terminated reasons treated
// as incidents worth diagnosing.
var defaultBadStates = map[string]bool{
	"CrashLoopBackOff":           true,
	"OOMKilled":                  true,
	"ImagePullBackOff":           true,
	"ErrImagePull":               true,
	"Error":                      true,
	"CreateContainerConfigError": true,
	"RunContainerError":          true,
}

// PodIssue describes one unhealthy pod observed in the cluster.
type PodIssue struct {
	Namespace string
	Pod       string
	Container string
	Reason    string
	Message   string
	Restarts  int32
}

// Key identifies the issue for deduplication: same pod failing for the
// same reason counts as one recurring incident.
func (x PodIssue) Key() string {
	return fmt.Sprintf("%s/%s/%s", x.Namespace, x.Pod, x.Reason)
}

// Describe renders the issue as the problem statement handed to the
// diagnosis engine.
func (x PodIssue) Describe() string {
	desc := fmt.Sprintf("Pod %s/%s is unhealthy: container %q is in state %s",
		x.Namespace, x.Pod, x.Container, x.Reason)
	if x.Message != "" {
		desc += " (" + x.Message + ")"
	}
	if x.Restarts > 0 {
		desc += fmt.Sprintf(", restarted %d times", x.Restarts)
	}
	return desc
}

// BadStateSet builds a state set from configured reason names. Used to
// override the default set.
func BadStateSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// UnhealthyPods scans a namespace for pods whose containers sit in a bad
// waiting or terminated state, plus pods stuck in the Failed phase. A nil
// state set means the default one.
func (c *Client) UnhealthyPods(ctx context.Context, namespace string, states map[string]bool) ([]PodIssue, error) {
	if states == nil {
		states = defaultBadStates
	}

	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, wrapAPIError(err, "failed to list pods", goerr.V("namespace", namespace))
	}

	var issues []PodIssue
	for _, pod := range pods.Items {
		issues = append(issues, podIssues(&pod, states)...)
	}
	return issues, nil
}

func podIssues(pod *corev1.Pod, states map[string]bool) []PodIssue {
	var issues []PodIssue
	statuses := append([]corev1.ContainerStatus{}, pod.Status.ContainerStatuses...)
	statuses = append(statuses, pod.Status.InitContainerStatuses...)

	for _, status := range statuses {
		if w := status.State.Waiting; w != nil && states[w.Reason] {
			issues = append(issues, PodIssue{
				Namespace: pod.Namespace,
				Pod:       pod.Name,
				Container: status.Name,
				Reason:    w.Reason,
				Message:   w.Message,
				Restarts:  status.RestartCount,
			})
			continue
		}
		if t := status.State.Terminated; t != nil && states[t.Reason] {
			issues = append(issues, PodIssue{
				Namespace: pod.Namespace,
				Pod:       pod.Name,
				Container: status.Name,
				Reason:    t.Reason,
				Message:   t.Message,
				Restarts:  status.RestartCount,
			})
		}
	}

	if len(issues) == 0 && pod.Status.Phase == corev1.PodFailed {
		issues = append(issues, PodIssue{
			Namespace: pod.Namespace,
			Pod:       pod.Name,
			Reason:    firstNonEmpty(pod.Status.Reason, "Failed"),
			Message:   pod.Status.Message,
		})
	}
	return issues
}

// Namespaces lists all namespace names, used to expand the "*" wildcard
// in the monitor configuration.
func (c *Client) Namespaces(ctx context.Context) ([]string, error) {
	list, err := c.clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, wrapAPIError(err, "failed to list namespaces")
	}

	names := make([]string, 0, len(list.Items))
	for _, ns := range list.Items {
		names = append(names, ns.Name)
	}
	return names, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
