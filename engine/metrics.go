package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardsync_mutations_total",
		Help: "Mutations by name and outcome (committed, rolled_back, timed_out, rejected)",
	}, []string{"mutation", "outcome"})

	mutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "boardsync_mutation_duration_seconds",
		Help:    "Time from optimistic apply until the remote store answered",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"mutation"})

	mutationsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boardsync_mutations_in_flight",
		Help: "Mutations awaiting the remote store",
	})
)
