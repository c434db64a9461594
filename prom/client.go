package prom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/remedy"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// promAPI is the slice of the Prometheus v1 API the agent uses
// (unexported for encapsulation and test injection).
type promAPI interface {
	Query(ctx context.Context, query string, ts time.Time, opts ...v1.Option) (model.Value, v1.Warnings, error)
	QueryRange(ctx context.Context, query string, r v1.Range, opts ...v1.Option) (model.Value, v1.Warnings, error)
}

// Client runs PromQL queries against a Prometheus server.
type Client struct {
	api promAPI
	now func() time.Time
}

func New(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, goerr.New("prometheus base URL is required")
	}
	apiClient, err := api.NewClient(api.Config{Address: baseURL})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create prometheus client", goerr.V("url", baseURL))
	}
	return &Client{
		api: v1.NewAPI(apiClient),
		now: time.Now,
	}, nil
}

// Query runs an arbitrary PromQL query as a range query over the trailing
// window and renders the result.
func (c *Client) Query(ctx context.Context, query string, window time.Duration) (string, error) {
	end := c.now()
	r := v1.Range{
		Start: end.Add(-window),
		End:   end,
		Step:  step(window),
	}

	value, warnings, err := c.api.QueryRange(ctx, query, r)
	if err != nil {
		return "", wrapPromError(err, "prometheus range query failed", query)
	}
	return render(value, warnings), nil
}

// instant runs a PromQL instant query at now.
func (c *Client) instant(ctx context.Context, query string) (model.Value, error) {
	value, _, err := c.api.Query(ctx, query, c.now())
	if err != nil {
		return nil, wrapPromError(err, "prometheus query failed", query)
	}
	return value, nil
}

// PodMetrics reports current CPU and memory usage for one pod.
func (c *Client) PodMetrics(ctx context.Context, namespace, pod string) (string, error) {
	cpuQ := fmt.Sprintf(
		`sum by (container) (rate(container_cpu_usage_seconds_total{namespace=%q, pod=%q, container!=""}[5m]))`,
		namespace, pod)
	memQ := fmt.Sprintf(
		`sum by (container) (container_memory_working_set_bytes{namespace=%q, pod=%q, container!=""})`,
		namespace, pod)

	cpu, err := c.instant(ctx, cpuQ)
	if err != nil {
		return "", err
	}
	mem, err := c.instant(ctx, memQ)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Metrics for pod %s/%s:\n", namespace, pod)
	n := writeVector(&sb, "CPU (cores)", cpu, func(v model.SampleValue) string {
		return fmt.Sprintf("%.3f", float64(v))
	})
	n += writeVector(&sb, "Memory", mem, func(v model.SampleValue) string {
		return formatBytes(float64(v))
	})
	if n == 0 {
		sb.WriteString("  no samples found\n")
	}
	return sb.String(), nil
}

// HighResourcePods lists pods whose CPU or memory usage exceeds the given
// fraction of their resource limits. An empty namespace means the whole
// cluster.
func (c *Client) HighResourcePods(ctx context.Context, namespace string, threshold float64) (string, error) {
	nsMatcher := ""
	if namespace != "" {
		nsMatcher = fmt.Sprintf("namespace=%q, ", namespace)
	}

	cpuQ := fmt.Sprintf(
		`sum by (namespace, pod) (rate(container_cpu_usage_seconds_total{%scontainer!=""}[5m]))`+
			` / sum by (namespace, pod) (kube_pod_container_resource_limits{%sresource="cpu"}) > %g`,
		nsMatcher, nsMatcher, threshold)
	memQ := fmt.Sprintf(
		`sum by (namespace, pod) (container_memory_working_set_bytes{%scontainer!=""})`+
			` / sum by (namespace, pod) (kube_pod_container_resource_limits{%sresource="memory"}) > %g`,
		nsMatcher, nsMatcher, threshold)

	cpu, err := c.instant(ctx, cpuQ)
	if err != nil {
		return "", err
	}
	mem, err := c.instant(ctx, memQ)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Pods above %.0f%% of resource limits:\n", threshold*100)
	found := false
	for _, sample := range asVector(cpu) {
		found = true
		fmt.Fprintf(&sb, "  %s/%s cpu at %.0f%% of limit\n",
			sample.Metric["namespace"], sample.Metric["pod"], float64(sample.Value)*100)
	}
	for _, sample := range asVector(mem) {
		found = true
		fmt.Fprintf(&sb, "  %s/%s memory at %.0f%% of limit\n",
			sample.Metric["namespace"], sample.Metric["pod"], float64(sample.Value)*100)
	}
	if !found {
		sb.WriteString("  none\n")
	}
	return sb.String(), nil
}

// AnalyzePodHealth combines restart counts with resource usage into one
// health report for a pod.
func (c *Client) AnalyzePodHealth(ctx context.Context, namespace, pod string) (string, error) {
	restartQ := fmt.Sprintf(
		`sum by (container) (kube_pod_container_status_restarts_total{namespace=%q, pod=%q})`,
		namespace, pod)
	restartRateQ := fmt.Sprintf(
		`sum(increase(kube_pod_container_status_restarts_total{namespace=%q, pod=%q}[1h]))`,
		namespace, pod)

	restarts, err := c.instant(ctx, restartQ)
	if err != nil {
		return "", err
	}
	restartRate, err := c.instant(ctx, restartRateQ)
	if err != nil {
		return "", err
	}
	metrics, err := c.PodMetrics(ctx, namespace, pod)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Health analysis for pod %s/%s:\n", namespace, pod)
	writeVector(&sb, "Total restarts", restarts, func(v model.SampleValue) string {
		return fmt.Sprintf("%.0f", float64(v))
	})
	if samples := asVector(restartRate); len(samples) > 0 {
		fmt.Fprintf(&sb, "Restarts in last hour: %.0f\n", float64(samples[0].Value))
	}
	sb.WriteString(metrics)
	return sb.String(), nil
}

func step(window time.Duration) time.Duration {
	s := window / 60
	if s < 15*time.Second {
		return 15 * time.Second
	}
	return s
}

func asVector(value model.Value) model.Vector {
	if vec, ok := value.(model.Vector); ok {
		return vec
	}
	return nil
}

func writeVector(sb *strings.Builder, label string, value model.Value, format func(model.SampleValue) string) int {
	samples := asVector(value)
	for _, sample := range samples {
		name := string(sample.Metric["container"])
		if name == "" {
			name = sample.Metric.String()
		}
		fmt.Fprintf(sb, "%s [%s]: %s\n", label, name, format(sample.Value))
	}
	return len(samples)
}

func render(value model.Value, warnings v1.Warnings) string {
	var sb strings.Builder
	for _, w := range warnings {
		fmt.Fprintf(&sb, "warning: %s\n", w)
	}

	switch v := value.(type) {
	case model.Matrix:
		if len(v) == 0 {
			sb.WriteString("no series found\n")
			break
		}
		for _, series := range v {
			fmt.Fprintf(&sb, "%s:\n", series.Metric)
			for _, pair := range tailSamples(series.Values, 10) {
				fmt.Fprintf(&sb, "  %s %v\n", pair.Timestamp.Time().UTC().Format(time.RFC3339), pair.Value)
			}
		}
	case model.Vector:
		if len(v) == 0 {
			sb.WriteString("no samples found\n")
			break
		}
		for _, sample := range v {
			fmt.Fprintf(&sb, "%s = %v\n", sample.Metric, sample.Value)
		}
	case *model.Scalar:
		fmt.Fprintf(&sb, "%v\n", v.Value)
	default:
		fmt.Fprintf(&sb, "%v\n", value)
	}
	return sb.String()
}

// tailSamples keeps only the most recent n samples of a series so a long
// range query does not flood the model context.
func tailSamples(values []model.SamplePair, n int) []model.SamplePair {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func formatBytes(v float64) string {
	const unit = 1024.0
	switch {
	case v >= unit*unit*unit:
		return fmt.Sprintf("%.2fGi", v/(unit*unit*unit))
	case v >= unit*unit:
		return fmt.Sprintf("%.2fMi", v/(unit*unit))
	case v >= unit:
		return fmt.Sprintf("%.2fKi", v/unit)
	default:
		return fmt.Sprintf("%.0fB", v)
	}
}

func wrapPromError(err error, msg, query string) error {
	opts := []goerr.Option{goerr.V("query", query)}
	var apiErr *v1.Error
	switch {
	case errors.As(err, &apiErr) && (apiErr.Type == v1.ErrTimeout || apiErr.Type == v1.ErrCanceled):
		opts = append(opts, goerr.Tag(remedy.TagTimeout))
	case errors.Is(err, context.DeadlineExceeded):
		opts = append(opts, goerr.Tag(remedy.TagTimeout))
	default:
		opts = append(opts, goerr.Tag(remedy.TagTransient))
	}
	return goerr.Wrap(err, msg, opts...)
}
