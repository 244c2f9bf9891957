package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/taskgate/internal/gate"
	"github.com/seantiz/taskgate/internal/model"
)

// Callback label values.
const (
	callbackTimeout   = "on_timeout"
	callbackCompleted = "on_completed"
)

// metrics holds one engine's collectors. They are always updated and only
// exported when a Registerer is supplied via WithMetrics.
type metrics struct {
	capacity       prometheus.Gauge
	inFlight       prometheus.GaugeFunc
	queued         prometheus.Gauge
	outcomes       *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	callbackPanics *prometheus.CounterVec
}

func newMetrics(g *gate.Gate) *metrics {
	m := &metrics{
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskgate_gate_capacity",
			Help: "Current maximum number of tasks allowed to run at once.",
		}),
		inFlight: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "taskgate_gate_in_flight",
			Help: "Number of slots currently held, across all gate generations.",
		}, func() float64 { return float64(g.InFlight()) }),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskgate_tasks_queued",
			Help: "Number of registered tasks that have not been started.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskgate_task_outcomes_total",
			Help: "Total number of task runs by terminal status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskgate_task_run_seconds",
			Help:    "Time a task run held a slot, in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		callbackPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskgate_callback_panics_total",
			Help: "Total number of recovered panics in task callbacks.",
		}, []string{"callback"}),
	}

	// Pre-initialize label combinations so they appear with value 0.
	for _, s := range model.TerminalStatuses {
		m.outcomes.WithLabelValues(s)
	}
	m.callbackPanics.WithLabelValues(callbackTimeout)
	m.callbackPanics.WithLabelValues(callbackCompleted)

	m.capacity.Set(float64(g.Capacity()))
	return m
}

func (m *metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.capacity, m.inFlight, m.queued, m.outcomes, m.runDuration, m.callbackPanics)
}

func (m *metrics) observe(status string, d time.Duration) {
	m.outcomes.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(d.Seconds())
}
