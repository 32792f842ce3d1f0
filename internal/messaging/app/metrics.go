package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchJobsReceivedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "nats_jobs_received_total",
			Help:      "Total dispatch jobs received from NATS.",
		},
		[]string{"subject"},
	)

	dispatchProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "jobs_processed_total",
			Help:      "Total dispatch jobs processed.",
		},
		[]string{"outcome"}, // e.g. "sent", "no_valid_recipients", "provider_rejected"
	)

	dispatchDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "job_processing_duration_seconds",
			Help:      "Duration of message dispatch processing.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider_kind"},
	)

	providerSendDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "provider_send_duration_seconds",
			Help:      "Duration of outbound provider calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider_kind"},
	)

	recipientsResolvedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "recipients_resolved_total",
			Help:      "Recipient specs by resolution outcome.",
		},
		[]string{"outcome"}, // "resolved" or the unresolved reason
	)

	stuckMessagesSweptCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "stuck_messages_swept_total",
			Help:      "Messages force-failed after being stuck in sending.",
		},
	)

	staleQueuedRequeuedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "stale_queued_requeued_total",
			Help:      "Dispatch jobs re-published for messages left in queued.",
		},
	)
)
