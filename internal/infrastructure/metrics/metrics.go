// Package metrics contains the Prometheus metrics of the rollout engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry holds the engine metrics together with the Go and process collectors.
	Registry = prometheus.NewRegistry()

	// TickTotal counts tenant control loop ticks by result
	TickTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolloutd_tick_total",
			Help: "Total number of tenant rollout ticks",
		},
		[]string{"result"},
	)

	// TickDuration is a histogram of tenant tick durations
	TickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rolloutd_tick_duration_seconds",
			Help:    "Duration of tenant rollout ticks in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"result"},
	)

	// RolloutTransitionsTotal counts rollout status changes by target status
	RolloutTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolloutd_rollout_transitions_total",
			Help: "Total number of rollout status transitions",
		},
		[]string{"status"},
	)

	// ActionStatusTotal counts device-reported statuses by outcome
	ActionStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolloutd_action_status_total",
			Help: "Total number of device-reported action statuses",
		},
		[]string{"status", "outcome"},
	)

	// InvalidationTotal counts distribution set invalidations by result
	InvalidationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolloutd_invalidation_total",
			Help: "Total number of distribution set invalidations",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		TickTotal,
		TickDuration,
		RolloutTransitionsTotal,
		ActionStatusTotal,
		InvalidationTotal,
	)
}

// Recorder exposes the metrics behind the application's recorder interface.
type Recorder struct{}

// NewRecorder creates a new Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// ObserveTick records one tenant tick.
func (Recorder) ObserveTick(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	TickTotal.WithLabelValues(result).Inc()
	TickDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RolloutTransition records a rollout entering status.
func (Recorder) RolloutTransition(status string) {
	RolloutTransitionsTotal.WithLabelValues(status).Inc()
}

// ActionStatusReported records a device status and what it did.
func (Recorder) ActionStatusReported(status, outcome string) {
	ActionStatusTotal.WithLabelValues(status, outcome).Inc()
}

// InvalidationFinished records an invalidation attempt.
func (Recorder) InvalidationFinished(result string) {
	InvalidationTotal.WithLabelValues(result).Inc()
}
