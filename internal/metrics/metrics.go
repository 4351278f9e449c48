// Package metrics defines the Prometheus instrumentation for the custody
// pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Deposit pipeline
	ScanCycles        *prometheus.CounterVec
	ScanCursorHeight  *prometheus.GaugeVec
	DepositsDetected  *prometheus.CounterVec
	DepositsCompleted *prometheus.CounterVec
	DepositsFlagged   *prometheus.CounterVec

	// Withdrawal pipeline
	WithdrawalsBroadcast *prometheus.CounterVec
	WithdrawalsCompleted *prometheus.CounterVec
	WithdrawalsFailed    *prometheus.CounterVec

	// Payment reconciliation
	PaymentsPaid         *prometheus.CounterVec
	SubscriberReconnects *prometheus.CounterVec

	// Chain access
	RPCErrors *prometheus.CounterVec
}

// New registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ScanCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_scan_cycles_total",
			Help: "Deposit scan cycles per chain and result.",
		}, []string{"chain", "result"}),
		ScanCursorHeight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "custody_scan_cursor_height",
			Help: "Last block height covered by the deposit scanner.",
		}, []string{"chain"}),
		DepositsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_deposits_detected_total",
			Help: "Newly recorded deposits per chain.",
		}, []string{"chain"}),
		DepositsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_deposits_completed_total",
			Help: "Deposits credited after reaching their confirmation threshold.",
		}, []string{"chain"}),
		DepositsFlagged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_deposits_flagged_total",
			Help: "Deposits flagged for tier-cap review.",
		}, []string{"chain"}),
		WithdrawalsBroadcast: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_withdrawals_broadcast_total",
			Help: "Withdrawals broadcast per chain.",
		}, []string{"chain"}),
		WithdrawalsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_withdrawals_completed_total",
			Help: "Withdrawals confirmed on chain.",
		}, []string{"chain"}),
		WithdrawalsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_withdrawals_failed_total",
			Help: "Withdrawals that reached a terminal failure.",
		}, []string{"chain"}),
		PaymentsPaid: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_payments_paid_total",
			Help: "Payments settled, split by detection source.",
		}, []string{"chain", "source"}),
		SubscriberReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_subscriber_reconnects_total",
			Help: "Payment event subscription reconnect attempts.",
		}, []string{"chain"}),
		RPCErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_rpc_errors_total",
			Help: "Transient chain RPC failures.",
		}, []string{"chain"}),
	}
}

// NewUnregistered returns metrics bound to a throwaway registry, for tests.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
