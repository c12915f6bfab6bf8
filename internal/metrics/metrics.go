package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total recipients that could not be sent",
		},
	)

	SMTPConnectFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smtp_connect_failures_total",
			Help: "Dispatch batches aborted because the SMTP session could not be opened",
		},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_batch_duration_seconds",
			Help:    "Wall time of a dispatch batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	WorkflowSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_steps_total",
			Help: "Workflow step requests by step and outcome",
		},
		[]string{"step", "outcome"},
	)
)

// StoredSessions exports the number of upload sessions held in memory,
// expired ones not yet swept included.
func StoredSessions(count func() int) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "upload_sessions_stored",
			Help: "Upload sessions held by the in-memory store",
		},
		func() float64 { return float64(count()) },
	)
}

// Init registers the collectors with reg.
func Init(reg prometheus.Registerer) {
	reg.MustRegister(EmailsSent)
	reg.MustRegister(EmailFailures)
	reg.MustRegister(SMTPConnectFailures)
	reg.MustRegister(BatchDuration)
	reg.MustRegister(WorkflowSteps)
}
