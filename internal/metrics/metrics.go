package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BalanceAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_balance_adjustments_total",
		Help: "Balance mutations applied to the user ledger, by reason.",
	}, []string{"reason"})

	StoreBusyRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_store_busy_retries_total",
		Help: "Transactions retried after lock contention.",
	})

	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verification_checks_total",
		Help: "Verification attempts by path and outcome.",
	}, []string{"path", "outcome"})

	VerificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "verification_check_duration_seconds",
		Help:    "Latency of automatic verification handshakes.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "withdrawal_requests_total",
		Help: "Withdrawal request transitions by status.",
	}, []string{"status"})

	ResaleSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resale_submissions_total",
		Help: "Resale submissions by result.",
	}, []string{"result"})

	PaymentDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_dispatch_total",
		Help: "Payment gateway calls by result.",
	}, []string{"result"})
)
