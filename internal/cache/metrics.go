package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wppcrm",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Conversation cache lookups by result (hit, miss, expired).",
		},
		[]string{"result"},
	)

	writesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wppcrm",
			Subsystem: "cache",
			Name:      "writes_total",
			Help:      "Conversation cache writes by outcome (full, degraded, skipped).",
		},
		[]string{"outcome"},
	)

	sweepDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wppcrm",
			Subsystem: "cache",
			Name:      "sweep_dropped_entries_total",
			Help:      "Entries dropped because the global budget was exceeded.",
		},
	)
)
