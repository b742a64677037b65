package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/progress"
	"github.com/meigma/bundle/storage"
	"github.com/meigma/bundle/transport"
)

// Pipeline installs bundles from a Fetcher into a Backend.
// It is safe for concurrent use.
type Pipeline struct {
	backend storage.Backend
	fetcher transport.Fetcher

	maxRetries  int
	backoffBase time.Duration
	concurrency int
	sleep       func(context.Context, time.Duration) error
	logger      *slog.Logger
	registerer  prometheus.Registerer

	metrics *metrics
	flights singleflight.Group
}

// New creates a Pipeline.
func New(backend storage.Backend, fetcher transport.Fetcher, opts ...Option) (*Pipeline, error) {
	if backend == nil {
		return nil, errors.New("install: backend is nil")
	}
	if fetcher == nil {
		return nil, errors.New("install: fetcher is nil")
	}
	p := &Pipeline{
		backend:     backend,
		fetcher:     fetcher,
		maxRetries:  DefaultMaxRetries,
		backoffBase: DefaultBackoffBase,
		concurrency: DefaultConcurrency,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxRetries < 0 {
		return nil, errors.New("install: max retries must be >= 0")
	}
	if p.backoffBase <= 0 {
		return nil, errors.New("install: backoff base must be > 0")
	}
	if p.concurrency <= 0 {
		p.concurrency = DefaultConcurrency
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	p.metrics = newMetrics(p.registerer)
	return p, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Pipeline) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Verify reports whether desc is installed and intact.
func (p *Pipeline) Verify(ctx context.Context, desc catalog.Descriptor, fn progress.Func) (bool, error) {
	exists, err := p.backend.Exists(ctx, desc)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	return p.backend.Verify(ctx, desc, fn)
}

// Install makes sure desc is installed and intact, downloading it when it
// is missing or corrupt. Progress is non-decreasing and ends at exactly 1.0
// on success.
//
// Concurrent calls for the same bundle name share one run; callers that
// join a run in progress receive only its final progress report.
func (p *Pipeline) Install(ctx context.Context, desc catalog.Descriptor, fn progress.Func) error {
	fn = progress.Monotonic(fn)
	// Generations that reuse a name with new content must not share a run.
	key := desc.Name + "@" + desc.ContentHash.String()
	_, err, shared := p.flights.Do(key, func() (any, error) {
		return nil, p.install(ctx, desc, fn)
	})
	if err != nil {
		return err
	}
	if shared {
		progress.Report(fn, 1)
	}
	return nil
}

func (p *Pipeline) install(ctx context.Context, desc catalog.Descriptor, fn progress.Func) error {
	start := time.Now()
	result := resultFailed
	defer func() {
		p.metrics.installs.WithLabelValues(result).Inc()
		p.metrics.duration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	if verr := desc.ContentHash.Validate(); verr != nil {
		return fmt.Errorf("%w: bundle %q: content hash: %v", ErrInvalidDescriptor, desc.Name, verr)
	}
	log := p.log().With("bundle", desc.Name)

	ok, err := p.intact(ctx, desc, progress.Span(fn, 0, 0.5))
	if err != nil {
		return err
	}
	if ok {
		result = resultSkipped
		log.Debug("bundle already installed")
		progress.Report(fn, 1)
		return nil
	}
	progress.Report(fn, 0.5)

	download := progress.Span(fn, 0.5, 1)
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		err := p.attempt(ctx, desc, download)
		if err == nil {
			p.metrics.attempts.WithLabelValues(attemptOK).Inc()
			lastErr = nil
			break
		}
		if !transport.IsRetryable(err) {
			p.metrics.attempts.WithLabelValues(attemptFatal).Inc()
			log.Warn("install failed", "attempt", attempt, "error", err)
			return err
		}
		p.metrics.attempts.WithLabelValues(attemptRetryable).Inc()
		lastErr = err
		if attempt == p.maxRetries {
			break
		}
		backoff := p.backoffBase * time.Duration(attempt+1)
		log.Info("retrying install", "attempt", attempt, "backoff", backoff, "error", err)
		if err := p.sleep(ctx, backoff); err != nil {
			return err
		}
	}
	if lastErr != nil {
		log.Warn("install retries exhausted", "attempts", p.maxRetries+1, "error", lastErr)
		return fmt.Errorf("%w: bundle %q after %d attempts: %w", ErrRetriesExhausted, desc.Name, p.maxRetries+1, lastErr)
	}

	result = resultInstalled
	progress.Report(fn, 1)
	log.Info("bundle installed", "elapsed", time.Since(start))
	return nil
}

// intact reports whether the installed copy of desc can be kept. A copy that
// cannot be read is treated like a corrupt one and reinstalled.
func (p *Pipeline) intact(ctx context.Context, desc catalog.Descriptor, fn progress.Func) (bool, error) {
	exists, err := p.backend.Exists(ctx, desc)
	if err != nil {
		return false, fmt.Errorf("install: stat %q: %w", desc.Name, err)
	}
	if !exists {
		return false, nil
	}
	ok, err := p.backend.Verify(ctx, desc, fn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		p.log().Warn("installed bundle unreadable, reinstalling", "bundle", desc.Name, "error", err)
		return false, nil
	}
	return ok, nil
}

// attempt performs one download into a fresh install stream.
func (p *Pipeline) attempt(ctx context.Context, desc catalog.Descriptor, fn progress.Func) error {
	w, err := p.backend.InstallStream(ctx, desc)
	if err != nil {
		return fmt.Errorf("install: open stream for %q: %w", desc.Name, err)
	}
	verifier := desc.ContentHash.Verifier()
	counter := &countingWriter{}
	if err := p.fetcher.Fetch(ctx, desc, io.MultiWriter(w, verifier, counter), fn); err != nil {
		_ = w.Discard() //nolint:errcheck // fetch error takes precedence
		return err
	}
	if !verifier.Verified() {
		_ = w.Discard() //nolint:errcheck // mismatch takes precedence
		return fmt.Errorf("%w: bundle %q: expected %s", ErrDigestMismatch, desc.Name, desc.ContentHash)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("install: commit %q: %w", desc.Name, err)
	}
	p.metrics.bytes.Add(float64(counter.n))
	return nil
}

// InstallAll installs every descriptor with bounded concurrency. Aggregate
// progress is weighted by SizeBytes. The first failure cancels the rest.
func (p *Pipeline) InstallAll(ctx context.Context, descs []catalog.Descriptor, fn progress.Func) error {
	fn = progress.Monotonic(fn)
	weights := make([]int64, len(descs))
	for i, d := range descs {
		weights[i] = d.SizeBytes
	}
	parts := progress.NewWeighted(fn, weights...)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, d := range descs {
		g.Go(func() error {
			return p.Install(gctx, d, parts.Part(i))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	progress.Report(fn, 1)
	return nil
}

type countingWriter struct{ n int64 }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
