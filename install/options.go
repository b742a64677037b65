package install

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Defaults applied by New.
const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultConcurrency = 4
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxRetries sets how many times a retryable failure is retried.
// Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(p *Pipeline) {
		p.maxRetries = n
	}
}

// WithBackoffBase sets the base delay. Attempt n waits base*(n+1) before
// the next attempt.
func WithBackoffBase(d time.Duration) Option {
	return func(p *Pipeline) {
		p.backoffBase = d
	}
}

// WithConcurrency sets how many bundles InstallAll installs at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		p.concurrency = n
	}
}

// WithSleep replaces the backoff wait. It must return ctx.Err() when ctx
// ends first.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) {
		p.sleep = sleep
	}
}

// WithLogger sets a logger for the pipeline.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithRegisterer registers the pipeline's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pipeline) {
		p.registerer = reg
	}
}
