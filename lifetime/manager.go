package lifetime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/storage"
)

// lifetimeContext is the reference-counted record of one open bundle.
type lifetimeContext struct {
	name   string
	handle storage.Handle
	refs   int
	// deps is the dependency list the bundle was opened with. Release
	// uses it so that a later catalog generation cannot unbalance the
	// references taken on open.
	deps []string
}

// Manager opens bundles with their dependencies and closes them when the
// last reference is released. It is safe for concurrent use.
type Manager struct {
	catalog catalog.Provider
	backend storage.Backend

	logger     *slog.Logger
	registerer prometheus.Registerer
	metrics    *metrics

	// sem is the critical section guarding contexts.
	sem      *semaphore.Weighted
	contexts map[string]*lifetimeContext
}

// New creates a Manager reading descriptors from p and handles from b.
// When p implements catalog.Snapshotter each Open call resolves every
// descriptor from a single snapshot.
func New(p catalog.Provider, b storage.Backend, opts ...Option) (*Manager, error) {
	if p == nil {
		return nil, errors.New("lifetime: catalog is nil")
	}
	if b == nil {
		return nil, errors.New("lifetime: backend is nil")
	}
	m := &Manager{
		catalog:  p,
		backend:  b,
		sem:      semaphore.NewWeighted(1),
		contexts: make(map[string]*lifetimeContext),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics = newMetrics(m.registerer)
	return m, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (m *Manager) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.logger
}

// lock enters the critical section.
func (m *Manager) lock(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

// mustLock enters the critical section without cancellation.
func (m *Manager) mustLock() {
	_ = m.sem.Acquire(context.Background(), 1) //nolint:errcheck // background context never cancels
}

func (m *Manager) unlock() {
	m.sem.Release(1)
}

// Open opens name and, first, each of its dependencies in declared order.
//
// Every successful Open must be matched by exactly one Release of the
// returned handle. Concurrent opens of the same name share one handle. On
// failure, references already taken on dependencies during this call are
// released before the error is returned.
func (m *Manager) Open(ctx context.Context, name string) (storage.Handle, error) {
	p := catalog.Snapshot(m.catalog)
	h, err := m.open(ctx, p, name, []string{name})
	m.metrics.opens.WithLabelValues(openResult(err)).Inc()
	if err != nil {
		return nil, err
	}
	return h, nil
}

// open implements Open. chain holds the names currently being opened on
// this call path, ending with name.
func (m *Manager) open(ctx context.Context, p catalog.Provider, name string, chain []string) (storage.Handle, error) {
	desc, ok := p.Descriptor(name)
	if !ok {
		return nil, catalog.NotFoundError(name)
	}

	opened := make([]storage.Handle, 0, len(desc.Dependencies))
	for _, dep := range desc.Dependencies {
		if slices.Contains(chain, dep) {
			err := &catalog.CircularDependencyError{Chain: append(slices.Clone(chain), dep)}
			return nil, m.unwind(opened, err)
		}
		h, err := m.open(ctx, p, dep, append(slices.Clone(chain), dep))
		if err != nil {
			return nil, m.unwind(opened, err)
		}
		opened = append(opened, h)
	}

	h, err := m.acquire(ctx, desc)
	if err != nil {
		return nil, m.unwind(opened, err)
	}
	return h, nil
}

// acquire takes a reference on desc inside the critical section, opening
// the backend handle if no context exists yet.
func (m *Manager) acquire(ctx context.Context, desc catalog.Descriptor) (storage.Handle, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	if lc, ok := m.contexts[desc.Name]; ok {
		lc.refs++
		if !slices.Equal(lc.deps, desc.Dependencies) {
			m.log().Warn("dependencies changed while bundle open; keeping original list",
				"bundle", desc.Name, "open_with", lc.deps, "catalog", desc.Dependencies)
		}
		return lc.handle, nil
	}

	exists, err := m.backend.Exists(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("lifetime: exists %q: %w", desc.Name, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrNotInstalled, desc.Name)
	}
	h, err := m.backend.Open(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("lifetime: open %q: %w", desc.Name, err)
	}
	m.contexts[desc.Name] = &lifetimeContext{
		name:   desc.Name,
		handle: h,
		refs:   1,
		deps:   slices.Clone(desc.Dependencies),
	}
	m.metrics.open.Inc()
	m.log().Debug("bundle opened", "bundle", desc.Name)
	return h, nil
}

// unwind releases dependency handles taken during a failed open, most
// recent first, and returns cause combined with any release failures.
func (m *Manager) unwind(opened []storage.Handle, cause error) error {
	if len(opened) == 0 {
		return cause
	}
	m.mustLock()
	defer m.unlock()
	err := cause
	for i := len(opened) - 1; i >= 0; i-- {
		err = multierr.Append(err, m.releaseLocked(opened[i]))
	}
	return err
}

// Release drops one reference on h. When the count reaches zero the handle
// is closed and the context removed; the references h's bundle holds on
// its dependencies are then released in turn. Releasing a handle the
// manager does not track is a no-op.
func (m *Manager) Release(h storage.Handle) error {
	if h == nil {
		return nil
	}
	m.mustLock()
	defer m.unlock()
	if m.find(h) == nil {
		m.metrics.releases.WithLabelValues(resultUntracked).Inc()
		return nil
	}
	err := m.releaseLocked(h)
	if err != nil {
		m.metrics.releases.WithLabelValues(resultError).Inc()
		return err
	}
	m.metrics.releases.WithLabelValues(resultOK).Inc()
	return nil
}

// find returns the context whose handle is h. The caller must hold the
// critical section.
func (m *Manager) find(h storage.Handle) *lifetimeContext {
	if lc, ok := m.contexts[h.Name()]; ok && lc.handle == h {
		return lc
	}
	for _, lc := range m.contexts {
		if lc.handle == h {
			return lc
		}
	}
	return nil
}

// releaseLocked drops one reference on h and, recursively, one reference
// on each dependency it was opened with. The bundle's own handle is closed
// before its dependencies are released. The caller must hold the critical
// section.
func (m *Manager) releaseLocked(h storage.Handle) error {
	lc := m.find(h)
	if lc == nil {
		return nil
	}
	if lc.refs <= 0 {
		return fmt.Errorf("%w: %q", ErrDoubleRelease, lc.name)
	}
	lc.refs--

	var errs error
	if lc.refs == 0 {
		delete(m.contexts, lc.name)
		m.metrics.open.Dec()
		m.metrics.closes.Inc()
		if err := m.backend.Close(lc.handle); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("lifetime: close %q: %w", lc.name, err))
		}
		m.log().Debug("bundle closed", "bundle", lc.name)
	}
	for _, dep := range lc.deps {
		dc, ok := m.contexts[dep]
		if !ok {
			continue
		}
		errs = multierr.Append(errs, m.releaseLocked(dc.handle))
	}
	return errs
}

// Len returns the number of open bundles.
func (m *Manager) Len() int {
	m.mustLock()
	defer m.unlock()
	return len(m.contexts)
}

// RefCount returns the reference count for name and whether it is open.
func (m *Manager) RefCount(name string) (int, bool) {
	m.mustLock()
	defer m.unlock()
	lc, ok := m.contexts[name]
	if !ok {
		return 0, false
	}
	return lc.refs, true
}

// Names returns the names of open bundles in sorted order.
func (m *Manager) Names() []string {
	m.mustLock()
	defer m.unlock()
	names := make([]string, 0, len(m.contexts))
	for name := range m.contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
