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

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "launches_total",
			Help:      "Number of backend spawns by launch mode.",
		}, []string{"mode"},
	)
	launchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "launch_failures_total",
			Help:      "Number of times the backend executable could not be started.",
		},
	)
	crashes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "crashes_total",
			Help:      "Number of unexpected backend exits.",
		},
	)
	readinessAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "readiness_attempts_total",
			Help:      "Readiness probes by outcome.",
		}, []string{"outcome"},
	)
	readinessDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "readiness_seconds",
			Help:      "Time from spawn until the backend answered its first probe.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16},
		},
	)
	outputLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "output_lines_total",
			Help:      "Captured non-empty output lines per stream.",
		}, []string{"stream"},
	)
	bootstraps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskhost",
			Subsystem: "runtime",
			Name:      "bootstraps_total",
			Help:      "Portable runtime preparations by result (copied, present, failed).",
		}, []string{"result"},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle state transitions.",
		}, []string{"from", "to"},
	)

	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "current_state",
			Help:      "Current lifecycle state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{launches, launchFailures, crashes, readinessAttempts, readinessDuration, outputLines, bootstraps, stateTransitions, currentStates}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(mode string) {
	if regOK.Load() {
		launches.WithLabelValues(mode).Inc()
	}
}
func IncLaunchFailure() {
	if regOK.Load() {
		launchFailures.Inc()
	}
}
func IncCrash() {
	if regOK.Load() {
		crashes.Inc()
	}
}
func IncReadinessAttempt(outcome string) {
	if regOK.Load() {
		readinessAttempts.WithLabelValues(outcome).Inc()
	}
}
func ObserveReadiness(seconds float64) {
	if regOK.Load() {
		readinessDuration.Observe(seconds)
	}
}
func IncOutputLine(stream string) {
	if regOK.Load() {
		outputLines.WithLabelValues(stream).Inc()
	}
}
func IncBootstrap(result string) {
	if regOK.Load() {
		bootstraps.WithLabelValues(result).Inc()
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

func SetCurrentState(state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(state).Set(value)
	}
}
