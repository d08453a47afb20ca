package prometheus

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-proc-scheduler/core"
)

// DefaultNamespace prefixes every collector when no namespace is given.
const DefaultNamespace = "procsched"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	dispatchesTotal        *prom.CounterVec
	preemptionsTotal       *prom.CounterVec
	taskExitsTotal         *prom.CounterVec
	inconsistenciesTotal   *prom.CounterVec
	registrySize           prom.Gauge
	controlRequestDuration *prom.HistogramVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	dispatchVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "dispatches_total",
		Help:      "Total number of times a task was continued as the head.",
	}, []string{"task"})
	preemptVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "preemptions_total",
		Help:      "Total number of quantum expiries that stopped the head.",
	}, []string{"task"})
	exitVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_exits_total",
		Help:      "Total number of observed task exits.",
	}, []string{"reason"})
	inconsistencyVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "registry_inconsistencies_total",
		Help:      "Total number of child events for untracked processes.",
	}, []string{"kind"})
	sizeGauge := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "registry_size",
		Help:      "Current number of tracked tasks.",
	})
	controlVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "control_request_duration_seconds",
		Help:      "Control request processing duration in seconds.",
		Buckets:   buckets,
	}, []string{"op", "status"})

	var err error
	if dispatchVec, err = registerCollector(reg, dispatchVec); err != nil {
		return nil, err
	}
	if preemptVec, err = registerCollector(reg, preemptVec); err != nil {
		return nil, err
	}
	if exitVec, err = registerCollector(reg, exitVec); err != nil {
		return nil, err
	}
	if inconsistencyVec, err = registerCollector(reg, inconsistencyVec); err != nil {
		return nil, err
	}
	if sizeGauge, err = registerCollector(reg, sizeGauge); err != nil {
		return nil, err
	}
	if controlVec, err = registerCollector(reg, controlVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		dispatchesTotal:        dispatchVec,
		preemptionsTotal:       preemptVec,
		taskExitsTotal:         exitVec,
		inconsistenciesTotal:   inconsistencyVec,
		registrySize:           sizeGauge,
		controlRequestDuration: controlVec,
	}, nil
}

// RecordDispatch records that a task became the running head.
func (m *MetricsExporter) RecordDispatch(taskName string) {
	if m == nil {
		return
	}
	m.dispatchesTotal.WithLabelValues(normalizeLabel(taskName, "unknown")).Inc()
}

// RecordPreemption records a stop signal sent on quantum expiry.
func (m *MetricsExporter) RecordPreemption(taskName string) {
	if m == nil {
		return
	}
	m.preemptionsTotal.WithLabelValues(normalizeLabel(taskName, "unknown")).Inc()
}

// RecordTaskExit records an observed exit.
func (m *MetricsExporter) RecordTaskExit(reason string) {
	if m == nil {
		return
	}
	m.taskExitsTotal.WithLabelValues(normalizeLabel(reason, "unknown")).Inc()
}

// RecordRegistrySize records the number of tracked tasks.
func (m *MetricsExporter) RecordRegistrySize(size int) {
	if m == nil {
		return
	}
	m.registrySize.Set(float64(size))
}

// RecordControlRequest records a processed control request.
func (m *MetricsExporter) RecordControlRequest(op string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.controlRequestDuration.WithLabelValues(normalizeLabel(op, "unknown"), normalizeLabel(status, "unknown")).Observe(duration.Seconds())
}

// RecordInconsistency records a child event for an untracked process.
func (m *MetricsExporter) RecordInconsistency(kind string) {
	if m == nil {
		return
	}
	m.inconsistenciesTotal.WithLabelValues(normalizeLabel(kind, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
