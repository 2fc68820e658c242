package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/ember/internal/model"
)

var (
	navigationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_navigations_total",
			Help: "Total number of navigations forwarded to Content, by kind.",
		},
		[]string{"kind"},
	)

	pendingEndpoints = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ember_pending_endpoints",
			Help: "Number of session endpoints the supervisor is waiting on.",
		},
	)

	shutdownStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ember_shutdown_step_seconds",
			Help:    "Duration of each step of the engine shutdown sequence, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	abandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_abandoned_endpoints_total",
			Help: "Total number of pending endpoints dropped because another client exited the engine.",
		},
	)

	rendererExitTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_renderer_exit_timeouts_total",
			Help: "Total number of shutdowns that gave up waiting for the renderer.",
		},
	)
)

func init() {
	prometheus.MustRegister(navigationsTotal)
	prometheus.MustRegister(pendingEndpoints)
	prometheus.MustRegister(shutdownStepDuration)
	prometheus.MustRegister(abandonedTotal)
	prometheus.MustRegister(rendererExitTimeouts)

	// Pre-initialize label combinations so they appear in /metrics from startup.
	navigationsTotal.WithLabelValues(model.KindParse)
	navigationsTotal.WithLabelValues(model.KindExecute)
	for _, step := range []string{StepContent, StepLayout, StepRenderer, StepImageCache, StepResourceLoader} {
		shutdownStepDuration.WithLabelValues(step)
	}
}
