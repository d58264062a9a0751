package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	wrapperRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botops",
			Subsystem: "wrapper",
			Name:      "runs_total",
			Help:      "Wrapper invocations by outcome.",
		}, []string{"name", "outcome"},
	)
	resolveFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botops",
			Subsystem: "wrapper",
			Name:      "resolve_failures_total",
			Help:      "Failed supervisor name lookups by reason (not_found, unreachable).",
		}, []string{"reason"},
	)
	stopCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botops",
			Subsystem: "wrapper",
			Name:      "stop_calls_total",
			Help:      "Supervisor stop calls by result.",
		}, []string{"name", "result"},
	)
	childDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botops",
			Subsystem: "wrapper",
			Name:      "child_duration_seconds",
			Help:      "Wall time of the wrapped child command.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 4 * 3600, 12 * 3600, 24 * 3600},
		}, []string{"name"},
	)
	lastExitCode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botops",
			Subsystem: "wrapper",
			Name:      "last_exit_code",
			Help:      "Exit code of the most recent child run.",
		}, []string{"name"},
	)
	deploySyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botops",
			Subsystem: "deploy",
			Name:      "syncs_total",
			Help:      "Artifact syncs by group and result.",
		}, []string{"group", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{wrapperRuns, resolveFailures, stopCalls, childDuration, lastExitCode, deploySyncs}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// WriteTextfile dumps the gatherer in the node_exporter textfile format.
// The write is atomic (temp file + rename).
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, g)
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncRun(name, outcome string) {
	if regOK.Load() {
		wrapperRuns.WithLabelValues(name, outcome).Inc()
	}
}

func IncResolveFailure(reason string) {
	if regOK.Load() {
		resolveFailures.WithLabelValues(reason).Inc()
	}
}

func IncStopCall(name string, ok bool) {
	if regOK.Load() {
		result := "ok"
		if !ok {
			result = "error"
		}
		stopCalls.WithLabelValues(name, result).Inc()
	}
}

func ObserveChild(name string, seconds float64, exitCode int) {
	if regOK.Load() {
		childDuration.WithLabelValues(name).Observe(seconds)
		lastExitCode.WithLabelValues(name).Set(float64(exitCode))
	}
}

func IncDeploySync(group string, ok bool) {
	if regOK.Load() {
		result := "ok"
		if !ok {
			result = "error"
		}
		deploySyncs.WithLabelValues(group, result).Inc()
	}
}
