// Package metrics exposes the Prometheus collectors for the tuning
// service. Collectors are registered on the default registry and served
// by the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EvaluationsTotal counts objective evaluations across all runs.
	EvaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taiga_evaluations_total",
		Help: "Total number of objective evaluations performed.",
	})

	// IterationsTotal counts completed minimizer iterations.
	IterationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taiga_iterations_total",
		Help: "Total number of tuning iterations completed.",
	})

	// RunsActive tracks the number of tuning runs in flight.
	RunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taiga_runs_active",
		Help: "Number of tuning runs currently executing.",
	})

	// RunsTotal counts finished runs by outcome.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taiga_runs_total",
		Help: "Total number of tuning runs by outcome.",
	}, []string{"outcome"})
)
