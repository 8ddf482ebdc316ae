package smpp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submittedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smppgw",
			Name:      "outbound_sent_total",
			Help:      "Total messages accepted by the SMSC.",
		},
		[]string{"session", "priority"},
	)

	submitFailedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smppgw",
			Name:      "outbound_failed_total",
			Help:      "Total failed submission attempts.",
		},
		[]string{"session", "priority", "outcome"}, // outcome: "retryable", "permanent"
	)

	submitLatencyHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "smppgw",
			Name:      "submit_response_duration_seconds",
			Help:      "Duration of submit_sm round trips.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"session"},
	)

	sessionBoundGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "smppgw",
			Name:      "session_bound",
			Help:      "Whether a session is currently bound (1) or not (0).",
		},
		[]string{"session"},
	)

	retryQueueGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "smppgw",
			Name:      "retry_queue_depth",
			Help:      "RETRY messages pending per operator.",
		},
		[]string{"operator"},
	)

	retryProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smppgw",
			Name:      "retry_processed_total",
			Help:      "Retry scheduler outcomes.",
		},
		[]string{"operator", "outcome"}, // outcome: "requeued", "evicted_age", "evicted_attempts"
	)
)
