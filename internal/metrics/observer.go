// Package metrics exports retry lifecycle events as Prometheus metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vvka-141/crdb/pkg/crdb"
)

// PrometheusObserver implements crdb.Observer with Prometheus collectors.
type PrometheusObserver struct {
	attempts  prometheus.Counter
	conflicts *prometheus.CounterVec
	finished  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewPrometheusObserver creates the collectors under namespace and registers
// them with reg. A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &PrometheusObserver{
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "attempts_total",
			Help:      "Executions of units of work, including retries.",
		}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "conflicts_total",
			Help:      "Serialization conflicts, by the attempt they ended.",
		}, []string{"attempt"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "finished_total",
			Help:      "Retry invocations by terminal state.",
		}, []string{"state"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "duration_seconds",
			Help:      "Wall time of retry invocations, from begin to release.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"state"}),
	}

	for _, c := range []prometheus.Collector{o.attempts, o.conflicts, o.finished, o.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *PrometheusObserver) AttemptStarted(int) {
	o.attempts.Inc()
}

func (o *PrometheusObserver) ConflictDetected(attempt int) {
	o.conflicts.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

func (o *PrometheusObserver) TransactionFinished(state crdb.TxState, _ int, elapsed time.Duration) {
	o.finished.WithLabelValues(state.String()).Inc()
	o.duration.WithLabelValues(state.String()).Observe(elapsed.Seconds())
}

var _ crdb.Observer = (*PrometheusObserver)(nil)
