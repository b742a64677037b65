package install

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Install results.
const (
	resultSkipped   = "skipped"
	resultInstalled = "installed"
	resultFailed    = "failed"
)

// Attempt outcomes.
const (
	attemptOK        = "ok"
	attemptRetryable = "retryable"
	attemptFatal     = "fatal"
)

type metrics struct {
	installs *prometheus.CounterVec
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    prometheus.Counter
}

// newMetrics builds the pipeline collectors. A nil registerer leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		installs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bundle_install_total",
			Help: "Install calls by result.",
		}, []string{"result"}),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bundle_install_attempts_total",
			Help: "Download attempts by outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bundle_install_duration_seconds",
			Help:    "Time spent in Install by result.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"result"}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "bundle_install_bytes_total",
			Help: "Bytes committed to storage by successful downloads.",
		}),
	}
}
