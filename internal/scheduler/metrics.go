package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aatumaykin/nexcron/internal/jobs"
)

var allStatuses = []jobs.Status{
	jobs.StatusScheduled,
	jobs.StatusPaused,
	jobs.StatusRunning,
	jobs.StatusDone,
	jobs.StatusFailedTerminal,
}

// Metrics exposes scheduler state. A nil *Metrics records nothing.
type Metrics struct {
	loopRunning prometheus.Gauge
	jobs        *prometheus.GaugeVec
	dispatched  prometheus.Counter
	lateness    prometheus.Histogram
	completions *prometheus.CounterVec
}

// NewMetrics registers the scheduler collectors on reg (default registerer if nil).
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		loopRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_loop_running",
			Help:      "1 while the control loop is active",
		}),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_jobs",
			Help:      "Registered jobs by status",
		}, []string{"status"}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_dispatches_total",
			Help:      "Trigger-driven dispatches",
		}),
		lateness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_dispatch_lateness_seconds",
			Help:      "Delay between a job's due time and its dispatch",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 60, 3600},
		}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_completions_total",
			Help:      "Completed runs by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.loopRunning, m.jobs, m.dispatched, m.lateness, m.completions)
	return m
}

func (m *Metrics) setLoopRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.loopRunning.Set(1)
	} else {
		m.loopRunning.Set(0)
	}
}

func (m *Metrics) setJobs(counts map[jobs.Status]int) {
	if m == nil {
		return
	}
	for _, st := range allStatuses {
		m.jobs.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

func (m *Metrics) recordDispatch(lateness time.Duration) {
	if m == nil {
		return
	}
	if lateness < 0 {
		lateness = 0
	}
	m.dispatched.Inc()
	m.lateness.Observe(lateness.Seconds())
}

func (m *Metrics) recordCompletion(o jobs.Outcome) {
	if m == nil {
		return
	}
	label := string(jobs.OutcomeSuccess)
	if !o.OK() {
		label = string(o.Failure)
	}
	m.completions.WithLabelValues(label).Inc()
}
