package ledger

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for ledger operations.
type Metrics struct {
	operations *prometheus.CounterVec
	retries    prometheus.Counter
	conflicts  prometheus.Counter
	overdue    *prometheus.CounterVec
	overdueAmt *prometheus.CounterVec
}

// NewMetrics registers the ledger metrics against the provided registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations partitioned by operation and result.",
		}, []string{"op", "result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_guard_retries_total",
			Help: "Conditional write retries taken by the consistency guard.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_guard_conflicts_total",
			Help: "Mutations abandoned after exhausting guard retries.",
		}),
		overdue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_overdue_actions_total",
			Help: "Actions taken by the overdue batch by kind.",
		}, []string{"kind"}),
		overdueAmt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_overdue_amount_total",
			Help: "Interest and fees booked by the overdue batch, summed across currencies.",
		}, []string{"kind"}),
	}
	registerer.MustRegister(m.operations, m.retries, m.conflicts, m.overdue, m.overdueAmt)
	return m
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case IsRetryable(err):
		result = "conflict"
	case IsValidation(err), IsNotFound(err), errors.Is(err, ErrCreditLimitExceeded),
		errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrSpendingLimitExceeded):
		result = "rejected"
	default:
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) retried(attempts int) {
	if m == nil {
		return
	}
	m.retries.Add(float64(attempts))
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) overdueRun(r OverdueReport) {
	if m == nil {
		return
	}
	m.overdue.WithLabelValues("expired").Add(float64(r.HoldsExpired))
	m.overdue.WithLabelValues("marked").Add(float64(r.ChargesOverdue))
	m.overdue.WithLabelValues("interest").Add(float64(r.InterestRecords))
	m.overdue.WithLabelValues("fee").Add(float64(r.FeeRecords))
	m.overdue.WithLabelValues("review").Add(float64(r.ReviewSignals))
	interest, _ := r.InterestTotal.Float64()
	fees, _ := r.FeeTotal.Float64()
	m.overdueAmt.WithLabelValues("interest").Add(interest)
	m.overdueAmt.WithLabelValues("fee").Add(fees)
}
