package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records transfer and settlement activity.
type LedgerMetrics struct {
	transferAttempts   *prometheus.CounterVec
	transferRetries    prometheus.Counter
	settlementDuration *prometheus.HistogramVec
	settledBets        *prometheus.CounterVec
	payoutDecisions    *prometheus.CounterVec
	integrityFailures  prometheus.Counter
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	transferAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_attempts_total",
		Help: "Transfer attempts by final outcome.",
	}, []string{"outcome"})
	transferRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transfer_retries_total",
		Help: "Transfer attempts retried after a transient storage conflict.",
	})
	settlementDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_duration_seconds",
		Help:    "Duration of settlement runs per result in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"region"})
	settledBets := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settled_bets_total",
		Help: "Bets settled by outcome.",
	}, []string{"outcome"})
	payoutDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_decisions_total",
		Help: "Payout approval decisions by action.",
	}, []string{"action"})
	integrityFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_integrity_failures_total",
		Help: "Conservation or hash checks that failed.",
	})
	reg.MustRegister(transferAttempts, transferRetries, settlementDuration, settledBets, payoutDecisions, integrityFailures)
	return &LedgerMetrics{
		transferAttempts:   transferAttempts,
		transferRetries:    transferRetries,
		settlementDuration: settlementDuration,
		settledBets:        settledBets,
		payoutDecisions:    payoutDecisions,
		integrityFailures:  integrityFailures,
	}
}

// IncTransferAttempt increments the attempt counter for the given outcome.
func (m *LedgerMetrics) IncTransferAttempt(outcome string) {
	if m == nil || m.transferAttempts == nil {
		return
	}
	m.transferAttempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncTransferRetry counts a retried transfer attempt.
func (m *LedgerMetrics) IncTransferRetry() {
	if m == nil || m.transferRetries == nil {
		return
	}
	m.transferRetries.Inc()
}

// ObserveSettlement records the duration of a settlement run.
func (m *LedgerMetrics) ObserveSettlement(region string, duration time.Duration) {
	if m == nil || m.settlementDuration == nil {
		return
	}
	m.settlementDuration.WithLabelValues(normalizeLabel(region)).Observe(duration.Seconds())
}

// IncSettledBet counts a settled bet by outcome.
func (m *LedgerMetrics) IncSettledBet(outcome string) {
	if m == nil || m.settledBets == nil {
		return
	}
	m.settledBets.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncPayoutDecision counts an approval workflow action.
func (m *LedgerMetrics) IncPayoutDecision(action string) {
	if m == nil || m.payoutDecisions == nil {
		return
	}
	m.payoutDecisions.WithLabelValues(normalizeLabel(action)).Inc()
}

// IncIntegrityFailure counts a failed conservation or hash check.
func (m *LedgerMetrics) IncIntegrityFailure() {
	if m == nil || m.integrityFailures == nil {
		return
	}
	m.integrityFailures.Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
