// Package metrics exposes prometheus counters for the billing core. Counters
// register on the default registry and are served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "creditgrid"

var (
	// Holds counts successful monetary holds.
	Holds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "holds_total",
		Help:      "Successful monetary holds.",
	})

	// Confirms counts finalized transactions.
	Confirms = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "confirms_total",
		Help:      "Finalized (confirmed) transactions.",
	})

	// Refunds counts compensated transactions.
	Refunds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "refunds_total",
		Help:      "Refunded transactions.",
	})

	// SweepReclaimed counts stale transactions reclaimed by the sweeper.
	SweepReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "sweep_reclaimed_total",
		Help:      "Stale transactions reclaimed by the periodic sweep.",
	})

	// Forwards counts message hops by outcome.
	Forwards = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "forward",
		Name:      "hops_total",
		Help:      "Forwarded message hops by result.",
	}, []string{"result"})
)

// Forward result label values.
const (
	ResultOK                 = "ok"
	ResultInsufficientCredit = "insufficient_credit"
	ResultInvalidDestination = "invalid_destination"
	ResultTransportFailure   = "transport_failure"
	ResultError              = "error"
)
