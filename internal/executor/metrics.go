package executor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aatumaykin/nexcron/internal/jobs"
)

// Metrics exposes pool state to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	running     prometheus.Gauge
	queued      prometheus.Gauge
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
}

// NewMetrics registers the executor collectors on reg (default registerer if nil).
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_running_jobs",
			Help:      "Number of callables executing right now",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_queued_jobs",
			Help:      "Number of submissions waiting for a worker",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_runs_total",
			Help:      "Completed runs by result",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "executor_run_duration_seconds",
			Help:      "Duration of job runs",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		}, []string{"result"}),
	}

	reg.MustRegister(m.running, m.queued, m.runsTotal, m.runDuration)
	return m
}

func resultLabel(o jobs.Outcome) string {
	if o.OK() {
		return string(jobs.OutcomeSuccess)
	}
	return string(o.Failure)
}

func (m *Metrics) recordRun(o jobs.Outcome) {
	if m == nil {
		return
	}
	label := resultLabel(o)
	m.runsTotal.WithLabelValues(label).Inc()
	if !o.StartedAt.IsZero() {
		m.runDuration.WithLabelValues(label).Observe(o.Duration.Seconds())
	}
}

func (m *Metrics) setRunning(n int) {
	if m == nil {
		return
	}
	m.running.Set(float64(n))
}

func (m *Metrics) setQueued(n int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(n))
}
