package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "booking_core"

var (
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "transitions_total",
			Help:      "Booking state transitions by source and target status",
		},
		[]string{"from", "to"},
	)

	HoldAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "holds",
			Name:      "acquisitions_total",
			Help:      "Slot hold acquisition attempts by result",
		},
		[]string{"result"},
	)

	HoldsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "holds",
			Name:      "expired_total",
			Help:      "Holds flipped to expired by the sweeper",
		},
	)

	FraudDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fraud",
			Name:      "decisions_total",
			Help:      "Fraud assessments by decision",
		},
		[]string{"decision"},
	)

	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Payment gateway calls by operation and outcome",
		},
		[]string{"op", "result"},
	)

	ReleaseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "release_failures_total",
			Help:      "Failed attempts to release escrowed funds",
		},
	)

	SLABreaches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "disputes",
			Name:      "sla_breaches_total",
			Help:      "Disputes detected past their resolution deadline",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "run_duration_seconds",
			Help:      "Time spent in one sweeper pass",
			Buckets:   prometheus.DefBuckets,
		},
	)

	HTTPRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
