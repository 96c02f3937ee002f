package authapi

import "github.com/prometheus/client_golang/prometheus"

// Metric names.
const (
	OperationsTotal  = "gatekeeper_auth_operations_total"
	AuditErrorsTotal = "gatekeeper_auth_audit_write_errors_total"
)

// Operation outcomes used as the "result" label.
const (
	resultSuccess      = "success"
	resultInvalid      = "invalid"
	resultUnauthorized = "unauthorized"
	resultConflict     = "conflict"
	resultError        = "error"
)

// Metrics counts auth operations by outcome.
type Metrics struct {
	ops         *prometheus.CounterVec
	auditErrors prometheus.Counter
}

// NewMetrics registers the auth collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: OperationsTotal,
			Help: "Auth operations by operation and result.",
		}, []string{"operation", "result"}),
		auditErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: AuditErrorsTotal,
			Help: "Audit records that could not be persisted.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.ops, m.auditErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(operation, result string) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) auditFailed() {
	if m == nil {
		return
	}
	m.auditErrors.Inc()
}
