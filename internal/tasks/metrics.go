package tasks

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for task runs.
type Metrics struct {
	runDuration *prometheus.HistogramVec
	runOutcomes *prometheus.CounterVec
	polls       *prometheus.CounterVec
	runsActive  prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the instance registered with the global registry.
// The collectors are created once so that building several runners does not
// panic on duplicate registration.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs Metrics on reg, reusing collectors that are
// already registered and panicking on any other registration error.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "krishi",
				Subsystem: "tasks",
				Name:      "run_duration_seconds",
				Help:      "Wall time from submission to terminal status.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
			},
			[]string{"task", "outcome"},
		),
		runOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "krishi",
				Subsystem: "tasks",
				Name:      "runs_total",
				Help:      "Task runs by outcome kind.",
			},
			[]string{"task", "outcome"},
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "krishi",
				Subsystem: "tasks",
				Name:      "status_polls_total",
				Help:      "Status reports observed while polling.",
			},
			[]string{"task", "status"},
		),
		runsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "krishi",
				Subsystem: "tasks",
				Name:      "runs_active",
				Help:      "Task runs currently waiting on the service.",
			},
		),
	}

	if err := reg.Register(m.runDuration); err != nil {
		m.runDuration = existing(err).(*prometheus.HistogramVec)
	}
	if err := reg.Register(m.runOutcomes); err != nil {
		m.runOutcomes = existing(err).(*prometheus.CounterVec)
	}
	if err := reg.Register(m.polls); err != nil {
		m.polls = existing(err).(*prometheus.CounterVec)
	}
	if err := reg.Register(m.runsActive); err != nil {
		m.runsActive = existing(err).(prometheus.Gauge)
	}
	return m
}

func existing(err error) prometheus.Collector {
	if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
		return already.ExistingCollector
	}
	panic(err)
}

func (m *Metrics) observeRun(task, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(task, outcome).Observe(d.Seconds())
	m.runOutcomes.WithLabelValues(task, outcome).Inc()
}

func (m *Metrics) observePoll(task, status string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(task, status).Inc()
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

func (m *Metrics) runFinished() {
	if m == nil {
		return
	}
	m.runsActive.Dec()
}
