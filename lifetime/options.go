package lifetime

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a logger for the manager.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithRegisterer registers the manager's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		m.registerer = reg
	}
}
