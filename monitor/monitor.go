// Package monitor polls the cluster for unhealthy workloads and fires a
// remediation run per detected incident.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/remedy"
	"github.com/m-mizutani/remedy/kube"
)

const (
	// DefaultInterval between cluster sweeps.
	DefaultInterval = 30 * time.Second

	// DefaultParallelism bounds concurrent remediation runs.
	DefaultParallelism = 3

	// refireEvery re-triggers a run for a persisting incident on every
	// n-th consecutive sighting after the first, so a stuck problem gets
	// another attempt without firing on every sweep.
	refireEvery = 5
)

// Engine is the remediation entry point the monitor drives. *remedy.Engine
// satisfies it; tests substitute a stub.
type Engine interface {
	Run(ctx context.Context, incident remedy.Incident, budget remedy.RunBudget) (*remedy.RunOutcome, error)
}

// Monitor owns the detection loop: sweep, dedup, dispatch.
type Monitor struct {
	kube   *kube.Client
	engine Engine

	namespaces  []string
	interval    time.Duration
	parallelism int
	budget      remedy.RunBudget
	badStates   map[string]bool
	metricsAddr string
	logger      *slog.Logger

	metrics *metrics

	// sightings counts consecutive sweeps an incident key has been seen.
	// Only Run/Sweep touch it, and a sweep never runs concurrently with
	// itself, so no lock is needed.
	sightings map[string]int
}

// Option configures the monitor.
type Option func(*Monitor)

// WithNamespaces sets the watched namespaces. "*" expands to all
// namespaces at sweep time.
func WithNamespaces(namespaces []string) Option {
	return func(m *Monitor) {
		m.namespaces = namespaces
	}
}

// WithInterval sets the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithParallelism bounds how many remediation runs execute concurrently.
func WithParallelism(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.parallelism = n
		}
	}
}

// WithBudget sets the run budget handed to every fired run.
func WithBudget(budget remedy.RunBudget) Option {
	return func(m *Monitor) {
		m.budget = budget
	}
}

// WithBadStates overrides the container states treated as incidents.
func WithBadStates(names []string) Option {
	return func(m *Monitor) {
		if len(names) > 0 {
			m.badStates = kube.BadStateSet(names)
		}
	}
}

// WithMetricsAddr enables the Prometheus endpoint on the given address.
func WithMetricsAddr(addr string) Option {
	return func(m *Monitor) {
		m.metricsAddr = addr
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// New builds a monitor over the cluster client and remediation engine.
func New(kubeClient *kube.Client, engine Engine, opts ...Option) (*Monitor, error) {
	if kubeClient == nil {
		return nil, goerr.New("kubernetes client is required")
	}
	if engine == nil {
		return nil, goerr.New("remediation engine is required")
	}

	m := &Monitor{
		kube:        kubeClient,
		engine:      engine,
		namespaces:  []string{"default"},
		interval:    DefaultInterval,
		parallelism: DefaultParallelism,
		logger:      slog.New(slog.DiscardHandler),
		metrics:     newMetrics(),
		sightings:   map[string]int{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run sweeps the cluster until the context is cancelled. One sweep runs
// at a time; a long remediation delays the next sweep rather than
// overlapping it.
func (m *Monitor) Run(ctx context.Context) error {
	if m.metricsAddr != "" {
		go m.metrics.serve(ctx, m.metricsAddr, m.logger)
	}

	m.logger.Info("monitor started",
		"namespaces", m.namespaces,
		"interval", m.interval,
		"parallelism", m.parallelism,
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if err := m.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Error("sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep performs one detection cycle: list unhealthy pods across the
// watched namespaces, dedup, and fire a bounded-parallel remediation run
// per new or persisting incident.
func (m *Monitor) Sweep(ctx context.Context) error {
	namespaces, err := m.resolveNamespaces(ctx)
	if err != nil {
		return err
	}

	var issues []kube.PodIssue
	for _, ns := range namespaces {
		found, err := m.kube.UnhealthyPods(ctx, ns, m.badStates)
		if err != nil {
			return err
		}
		issues = append(issues, found...)
	}

	if len(issues) == 0 {
		m.logger.Info("cluster healthy", "namespaces", namespaces)
		clear(m.sightings)
		return nil
	}

	fired := m.dedup(issues)
	if len(fired) == 0 {
		return nil
	}

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(m.parallelism)
	for _, issue := range fired {
		grp.Go(func() error {
			m.remediate(grpCtx, issue)
			return nil
		})
	}
	return grp.Wait()
}

// dedup updates the sighting counts and returns the issues worth a run:
// first sighting, then every refireEvery-th while the incident persists.
// Keys absent from this sweep are dropped so a reappearing incident
// counts as new.
func (m *Monitor) dedup(issues []kube.PodIssue) []kube.PodIssue {
	current := make(map[string]int, len(issues))
	var fired []kube.PodIssue

	for _, issue := range issues {
		key := issue.Key()
		if _, dup := current[key]; dup {
			continue
		}
		m.metrics.incidentsDetected.Inc()

		count := m.sightings[key] + 1
		current[key] = count

		if count == 1 || count%refireEvery == 0 {
			fired = append(fired, issue)
		} else {
			m.logger.Warn("incident persists",
				"incident", key, "state", issue.Reason, "sightings", count)
		}
	}

	m.sightings = current
	return fired
}

func (m *Monitor) remediate(ctx context.Context, issue kube.PodIssue) {
	incident := remedy.Incident{
		Description:  issue.Describe(),
		Namespace:    issue.Namespace,
		Pod:          issue.Pod,
		Container:    issue.Container,
		Reason:       issue.Reason,
		RestartCount: int(issue.Restarts),
	}

	m.logger.Warn("incident detected",
		"pod", fmt.Sprintf("%s/%s", issue.Namespace, issue.Pod),
		"container", issue.Container,
		"state", issue.Reason,
		"restarts", issue.Restarts,
	)
	m.metrics.runsStarted.Inc()

	outcome, err := m.engine.Run(ctx, incident, m.budget)
	if outcome != nil {
		m.metrics.observeOutcome(outcome)
	}
	if err != nil {
		m.logger.Error("remediation run aborted", "incident", issue.Key(), "error", err)
		return
	}

	m.logger.Info("remediation run finished",
		"incident", issue.Key(),
		"resolved", outcome.Resolved,
		"reason", outcome.Reason,
		"iterations", outcome.Iterations,
		"summary", outcome.Summary,
	)
}

func (m *Monitor) resolveNamespaces(ctx context.Context) ([]string, error) {
	for _, ns := range m.namespaces {
		if ns == "*" {
			return m.kube.Namespaces(ctx)
		}
	}
	return m.namespaces, nil
}
