package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records engine and library activity for Prometheus. It
// implements canvas.Recorder.
type Metrics struct {
	commits         prometheus.Counter
	synthesis       *prometheus.CounterVec
	generation      *prometheus.HistogramVec
	persistFailures prometheus.Counter
	libraryQueue    prometheus.Gauge
}

// NewMetrics registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kno_canvas_commits_total",
			Help: "History entries pushed by canvas commits.",
		}),
		synthesis: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kno_canvas_synthesis_total",
			Help: "Finished synthesis operations by operator and outcome.",
		}, []string{"operator", "outcome"}),
		generation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kno_canvas_generation_seconds",
			Help:    "Time from operator launch to settled result.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"operator"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kno_canvas_persist_failures_total",
			Help: "Background store writes that failed.",
		}),
		libraryQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kno_library_queue_depth",
			Help: "Derived notes waiting to be written to the library.",
		}),
	}
	reg.MustRegister(m.commits, m.synthesis, m.generation, m.persistFailures, m.libraryQueue)
	return m
}

func (m *Metrics) CommitRecorded() {
	m.commits.Inc()
}

func (m *Metrics) SynthesisFinished(operator, outcome string, elapsed time.Duration) {
	m.synthesis.WithLabelValues(operator, outcome).Inc()
	m.generation.WithLabelValues(operator).Observe(elapsed.Seconds())
}

func (m *Metrics) PersistFailed() {
	m.persistFailures.Inc()
}

// LibraryQueueDepth reports how many library writes are queued.
func (m *Metrics) LibraryQueueDepth(n int) {
	m.libraryQueue.Set(float64(n))
}
