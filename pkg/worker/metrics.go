package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeWorkersGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_worker_active",
			Help: "Number of workers currently executing callback jobs",
		},
		[]string{"pool"},
	)

	queueLengthGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_worker_queue_length",
			Help: "Number of callback jobs waiting for a worker",
		},
		[]string{"pool"},
	)

	tasksCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_worker_tasks_total",
			Help: "Total number of callback jobs executed",
		},
		[]string{"pool", "status"},
	)

	taskDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_worker_task_duration_seconds",
			Help:    "Callback job duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"pool", "status"},
	)
)

type poolMetrics struct {
	activeWorkers prometheus.Gauge
	queueLength   prometheus.Gauge

	succeeded prometheus.Counter
	failed    prometheus.Counter

	durationSuccess prometheus.Observer
	durationFailure prometheus.Observer
}

func newPoolMetrics(poolName string) *poolMetrics {
	return &poolMetrics{
		activeWorkers:   activeWorkersGauge.WithLabelValues(poolName),
		queueLength:     queueLengthGauge.WithLabelValues(poolName),
		succeeded:       tasksCounter.WithLabelValues(poolName, "success"),
		failed:          tasksCounter.WithLabelValues(poolName, "failure"),
		durationSuccess: taskDurationHistogram.WithLabelValues(poolName, "success"),
		durationFailure: taskDurationHistogram.WithLabelValues(poolName, "failure"),
	}
}

func (m *poolMetrics) record(duration time.Duration, err error) {
	if err != nil {
		m.failed.Inc()
		m.durationFailure.Observe(duration.Seconds())
		return
	}
	m.succeeded.Inc()
	m.durationSuccess.Observe(duration.Seconds())
}

// ResetMetrics drops the series of a pool, typically between tests.
func ResetMetrics(poolName string) {
	activeWorkersGauge.DeleteLabelValues(poolName)
	queueLengthGauge.DeleteLabelValues(poolName)
	for _, status := range []string{"success", "failure"} {
		tasksCounter.DeleteLabelValues(poolName, status)
		taskDurationHistogram.DeleteLabelValues(poolName, status)
	}
}
