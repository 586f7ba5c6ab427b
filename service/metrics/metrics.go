package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct is
// passed to all components that need to record metrics. A nil *Metrics
// disables recording, so callers never need to guard.
type Metrics struct {
	// Solana RPC metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec

	// Submission engine metrics
	rebroadcastsTotal   *prometheus.CounterVec
	confirmationLatency *prometheus.HistogramVec

	// Transfer pipeline metrics
	transfersTotal     *prometheus.CounterVec
	ledgerWritesTotal  *prometheus.CounterVec
	batchDuration      *prometheus.HistogramVec
	resolutionRetries  *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"method"},
		),
		rebroadcastsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_rebroadcasts_total",
				Help: "Total number of raw transaction re-broadcasts",
			},
			[]string{"status"},
		),
		confirmationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_confirmation_latency_seconds",
				Help:    "Time from first submission to a definitive outcome",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
			},
			[]string{"outcome"},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_total",
				Help: "Total number of transfer attempts by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		ledgerWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "error_ledger_writes_total",
				Help: "Total number of records appended to the error ledger",
			},
			[]string{"ledger"},
		),
		batchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batch_duration_seconds",
				Help:    "Wall-clock duration of one chunk of concurrent transfers",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),
		resolutionRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_resolution_retries_total",
				Help: "Total number of destination account resolution retries",
			},
			[]string{"reason"},
		),
	}
}

// RecordRPCCall records a Solana RPC call with its duration in seconds.
func (m *Metrics) RecordRPCCall(method, status string, duration float64) {
	if m == nil {
		return
	}
	m.solanaRPCCallsTotal.WithLabelValues(method, status).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordRateLimitHit records a 429 from the RPC endpoint.
func (m *Metrics) RecordRateLimitHit(method string) {
	if m == nil {
		return
	}
	m.solanaRPCRateLimitHits.WithLabelValues(method).Inc()
}

// RecordRebroadcast records one re-submission of already-signed bytes.
func (m *Metrics) RecordRebroadcast(status string) {
	if m == nil {
		return
	}
	m.rebroadcastsTotal.WithLabelValues(status).Inc()
}

// RecordConfirmation records the latency of one submit-confirm cycle.
func (m *Metrics) RecordConfirmation(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.confirmationLatency.WithLabelValues(outcome).Observe(seconds)
}

// RecordTransfer records one transfer attempt outcome.
func (m *Metrics) RecordTransfer(kind, outcome string) {
	if m == nil {
		return
	}
	m.transfersTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordLedgerWrite records one error ledger append.
func (m *Metrics) RecordLedgerWrite(ledger string) {
	if m == nil {
		return
	}
	m.ledgerWritesTotal.WithLabelValues(ledger).Inc()
}

// RecordBatchDuration records the duration of one chunk in seconds.
func (m *Metrics) RecordBatchDuration(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordResolutionRetry records a destination account resolution retry.
func (m *Metrics) RecordResolutionRetry(reason string) {
	if m == nil {
		return
	}
	m.resolutionRetries.WithLabelValues(reason).Inc()
}
