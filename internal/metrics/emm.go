// Package metrics exposes Prometheus counters and gauges for the EMM
// Attach core as package-level promauto vars.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AttachAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emm_attach_attempts_total",
			Help: "Total number of Attach attempts by result",
		},
		[]string{"result"},
	)

	AttachAborts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emm_attach_aborts_total",
			Help: "Total number of Attach procedures aborted after T3450 retry exhaustion",
		},
	)

	AttachRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emm_attach_rejects_total",
			Help: "Total number of Attach rejections (ATTACH REJECT sent, or internal reject at ATTACH COMPLETE), by EMM cause",
		},
		[]string{"cause"},
	)

	T3450Retransmissions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emm_t3450_retransmissions_total",
			Help: "Total number of ATTACH ACCEPT retransmissions on T3450 expiry",
		},
	)

	RegisteredInitiatedContexts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emm_registered_initiated_contexts",
			Help: "Number of EMM contexts currently in REGISTERED_INITIATED",
		},
	)
)

// RecordAttachAttempt records the terminal result of one Attach attempt
// ("accepted", "rejected", "aborted", "duplicate").
func RecordAttachAttempt(result string) {
	AttachAttempts.WithLabelValues(result).Inc()
}

// RecordReject records an ATTACH REJECT by its EMM cause string.
func RecordReject(cause string) {
	AttachRejects.WithLabelValues(cause).Inc()
}

// RecordAbort records a silent Attach abort.
func RecordAbort() {
	AttachAborts.Inc()
}

// RecordRetransmission records one T3450-driven ATTACH ACCEPT retransmit.
func RecordRetransmission() {
	T3450Retransmissions.Inc()
}

// SetRegisteredInitiated sets the live REGISTERED_INITIATED gauge.
func SetRegisteredInitiated(count int) {
	RegisteredInitiatedContexts.Set(float64(count))
}
