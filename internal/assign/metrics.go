package assign

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	assignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wppcrm",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Completed assign and unassign operations.",
		},
		[]string{"op"},
	)

	driftTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wppcrm",
			Subsystem: "ledger",
			Name:      "drift_corrections_total",
			Help:      "Employee counters corrected by reconciliation.",
		},
	)
)
