// Package metrics defines the instrumentation hook for store and executor
// operations. The default recorder drops everything; PrometheusRecorder
// exports counters and latency histograms.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder observes the outcome of one named operation. Implementations
// must be safe for concurrent use.
type Recorder interface {
	// RecordOperation records one completed operation with its duration and
	// whether it succeeded.
	RecordOperation(component, op string, dur time.Duration, success bool)
}

// NoOpRecorder discards all observations.
type NoOpRecorder struct{}

// RecordOperation implements Recorder.
func (NoOpRecorder) RecordOperation(string, string, time.Duration, bool) {}

// PrometheusRecorder exports operation counts and durations through a
// prometheus registry.
type PrometheusRecorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

// NewPrometheusRecorder builds a recorder and registers its collectors with
// reg. Pass prometheus.DefaultRegisterer to use the process-wide registry.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) (*PrometheusRecorder, error) {
	if namespace == "" {
		namespace = "soulmesh"
	}
	r := &PrometheusRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Completed operations by component, operation and result.",
		}, []string{"component", "op", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Operation latency by component and operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component", "op"}),
	}
	if err := reg.Register(r.operations); err != nil {
		return nil, err
	}
	if err := reg.Register(r.durations); err != nil {
		return nil, err
	}
	return r, nil
}

// RecordOperation implements Recorder.
func (r *PrometheusRecorder) RecordOperation(component, op string, dur time.Duration, success bool) {
	result := "ok"
	if !success {
		result = "error"
	}
	r.operations.WithLabelValues(component, op, result).Inc()
	r.durations.WithLabelValues(component, op).Observe(dur.Seconds())
}
