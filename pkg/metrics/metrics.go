package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resolutions counts permission set resolutions by entity type, action and
	// outcome (all|subset|empty|error).
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workbench_permission_resolutions_total",
			Help: "Total number of permission set resolutions",
		},
		[]string{"entity_type", "action", "outcome"},
	)

	// InstanceChecks counts single-object permission checks and their result
	// (allow|deny|error).
	InstanceChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workbench_permission_instance_checks_total",
			Help: "Total number of single-object permission checks",
		},
		[]string{"entity_type", "action", "result"},
	)

	// TreeRebuilds counts nested-set rebuilds of the project tree.
	TreeRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workbench_project_tree_rebuilds_total",
			Help: "Total number of project tree rebuilds",
		},
	)

	// TreeRebuildDuration measures how long a full tree rebuild takes.
	TreeRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workbench_project_tree_rebuild_seconds",
			Help:    "Project tree rebuild duration",
			Buckets: prometheus.DefBuckets,
		},
	)
)
