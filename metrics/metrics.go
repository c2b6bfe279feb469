// Package metrics exposes the Prometheus collectors of the reconciliation
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_runs_total",
		Help: "Total number of reconciliation runs by final state",
	}, []string{"tenant", "mode", "state"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconciliation_run_duration_seconds",
		Help:    "Wall-clock duration of reconciliation runs",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"tenant", "mode"})

	DiscrepanciesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_discrepancies_total",
		Help: "Total number of classified drifts by kind",
	}, []string{"tenant", "kind"})

	WritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_writes_total",
		Help: "Total number of corrective actions by outcome",
	}, []string{"tenant", "action", "outcome"})

	ProviderPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_provider_pages_total",
		Help: "Total number of provider pages fetched",
	}, []string{"tenant", "provider"})

	LockRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_lock_rejections_total",
		Help: "Total number of runs rejected because another run held the tenant lock",
	}, []string{"tenant"})
)
