package monitor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m-mizutani/remedy"
)

// metrics are the monitor's own Prometheus instruments, registered on a
// private registry so tests and embedded use never collide with the
// default one.
type metrics struct {
	registry *prometheus.Registry

	incidentsDetected prometheus.Counter
	runsStarted       prometheus.Counter
	runsFinished      *prometheus.CounterVec
	runIterations     prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		incidentsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remedy_incidents_detected_total",
			Help: "Unhealthy workload sightings, before deduplication.",
		}),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remedy_runs_started_total",
			Help: "Remediation runs started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_runs_finished_total",
			Help: "Remediation runs finished, by resolution and termination reason.",
		}, []string{"resolved", "reason"}),
		runIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "remedy_run_iterations",
			Help:    "Iterations consumed per remediation run.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
	}

	m.registry.MustRegister(
		m.incidentsDetected,
		m.runsStarted,
		m.runsFinished,
		m.runIterations,
	)
	return m
}

func (m *metrics) observeOutcome(outcome *remedy.RunOutcome) {
	m.runsFinished.WithLabelValues(
		strconv.FormatBool(outcome.Resolved),
		string(outcome.Reason),
	).Inc()
	m.runIterations.Observe(float64(outcome.Iterations))
}

// serve exposes the metrics endpoint until the context ends. Errors other
// than a clean shutdown are logged, not returned; losing the metrics
// listener must not stop remediation.
func (m *metrics) serve(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics listener failed", "error", err)
	}
}
