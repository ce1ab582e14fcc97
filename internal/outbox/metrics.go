package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wppcrm",
			Subsystem: "outbox",
			Name:      "sends_total",
			Help:      "Optimistic sends by final state.",
		},
		[]string{"state"},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wppcrm",
			Subsystem: "outbox",
			Name:      "send_duration_seconds",
			Help:      "Time from submit to confirmation or rollback.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	inFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wppcrm",
			Subsystem: "outbox",
			Name:      "in_flight",
			Help:      "Sends awaiting the server answer.",
		},
	)
)
