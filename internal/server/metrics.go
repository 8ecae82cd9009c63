package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus instruments for the ask/tell surface.
type metrics struct {
	asks          prometheus.Counter
	tells         *prometheus.CounterVec
	trialDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		asks: factory.NewCounter(prometheus.CounterOpts{
			Name: "sweep_trials_asked_total",
			Help: "Number of trials handed out via ask.",
		}),
		tells: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sweep_trials_told_total",
			Help: "Number of trials finalized via tell, by outcome.",
		}, []string{"outcome"}),
		trialDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sweep_trial_duration_seconds",
			Help:    "Wall time between ask and tell per trial.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
	}
}
