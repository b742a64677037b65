package lifetime

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Open and release results.
const (
	resultOK           = "ok"
	resultNotFound     = "not_found"
	resultCycle        = "cycle"
	resultNotInstalled = "not_installed"
	resultUntracked    = "untracked"
	resultError        = "error"
)

type metrics struct {
	open     prometheus.Gauge
	opens    *prometheus.CounterVec
	releases *prometheus.CounterVec
	closes   prometheus.Counter
}

// newMetrics builds the manager collectors. A nil registerer leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		open: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bundle_lifetime_open_bundles",
			Help: "Bundles currently held open.",
		}),
		opens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bundle_lifetime_opens_total",
			Help: "Open calls by result.",
		}, []string{"result"}),
		releases: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bundle_lifetime_releases_total",
			Help: "Release calls by result.",
		}, []string{"result"}),
		closes: factory.NewCounter(prometheus.CounterOpts{
			Name: "bundle_lifetime_backend_closes_total",
			Help: "Handles closed after their last reference was released.",
		}),
	}
}

func openResult(err error) string {
	switch {
	case err == nil:
		return resultOK
	case errors.Is(err, ErrCircularDependency):
		return resultCycle
	case errors.Is(err, ErrDependencyNotFound):
		return resultNotFound
	case errors.Is(err, ErrNotInstalled):
		return resultNotInstalled
	default:
		return resultError
	}
}
