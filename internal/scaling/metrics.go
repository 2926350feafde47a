package scaling

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kubex_hibernate_transitions_total",
		Help: "Scale transitions attempted, by action, trigger and result.",
	}, []string{"action", "trigger", "result"})

	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kubex_hibernate_tick_duration_seconds",
		Help:    "Duration of a reconciliation pass over all enabled schedules.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	schedulesByState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kubex_hibernate_schedules",
		Help: "Schedules seen by the last tick, by state.",
	}, []string{"state"})
)

func init() {
	metrics.Registry.MustRegister(transitionsTotal, tickDuration, schedulesByState)
}

func observeTransition(action Action, trigger Trigger, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	transitionsTotal.WithLabelValues(action.String(), string(trigger), result).Inc()
}
