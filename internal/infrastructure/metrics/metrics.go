package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder exports persistence layer operation metrics to Prometheus. It
// implements ports.OperationRecorder. Label cardinality is bounded: operation
// and result both come from small fixed sets.
type Recorder struct {
	operationsTotal  *prometheus.CounterVec
	operationSeconds *prometheus.HistogramVec
}

// NewRecorder creates a Recorder and registers its collectors.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idempotency_operations_total",
				Help: "The total number of idempotency persistence operations by outcome",
			},
			[]string{"operation", "result"},
		),
		operationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "idempotency_operation_duration_seconds",
				Help: "The idempotency persistence operation latencies in seconds",
			},
			[]string{"operation"},
		),
	}
	reg.MustRegister(r.operationsTotal, r.operationSeconds)
	return r
}

// ObserveOperation records one persistence operation outcome.
func (r *Recorder) ObserveOperation(operation, result string, elapsed time.Duration) {
	r.operationsTotal.WithLabelValues(operation, result).Inc()
	r.operationSeconds.WithLabelValues(operation).Observe(elapsed.Seconds())
}
