package bundle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/install"
	"github.com/meigma/bundle/lifetime"
	"github.com/meigma/bundle/progress"
	"github.com/meigma/bundle/storage"
	"github.com/meigma/bundle/transport"
)

// Client installs and opens bundles described by a catalog.
// It is safe for concurrent use.
type Client struct {
	store    *catalog.Store
	backend  storage.Backend
	pipeline *install.Pipeline
	manager  *lifetime.Manager

	initial      *catalog.Manifest
	source       CatalogSource
	logger       *slog.Logger
	registerer   prometheus.Registerer
	installOpts  []install.Option
	lifetimeOpts []lifetime.Option
}

// BundleStatus is the installed and open state of one catalog entry.
type BundleStatus struct {
	catalog.Descriptor

	// Group is the content group the bundle belongs to.
	Group string

	// Installed reports whether the backend holds the bundle.
	Installed bool

	// Refs is the number of open references; zero when closed.
	Refs int
}

// NewClient creates a client installing into backend from fetcher.
func NewClient(backend storage.Backend, fetcher transport.Fetcher, opts ...Option) (*Client, error) {
	c, err := newClient(opts)
	if err != nil {
		return nil, err
	}
	if err := c.wire(backend, fetcher); err != nil {
		return nil, err
	}
	return c, nil
}

func newClient(opts []Option) (*Client, error) {
	c := &Client{}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) wire(backend storage.Backend, fetcher transport.Fetcher) error {
	if backend == nil {
		return errors.New("bundle: backend is nil")
	}
	c.backend = backend
	c.store = catalog.NewStore(c.initial)

	pipeline, err := install.New(backend, fetcher, append([]install.Option{
		install.WithLogger(c.logger),
		install.WithRegisterer(c.registerer),
	}, c.installOpts...)...)
	if err != nil {
		return err
	}
	c.pipeline = pipeline

	manager, err := lifetime.New(c.store, backend, append([]lifetime.Option{
		lifetime.WithLogger(c.logger),
		lifetime.WithRegisterer(c.registerer),
	}, c.lifetimeOpts...)...)
	if err != nil {
		return err
	}
	c.manager = manager
	return nil
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Catalog returns the current catalog generation, or nil if none is loaded.
func (c *Client) Catalog() *catalog.Manifest {
	return c.store.Current()
}

// SetCatalog installs m if it is newer than the current generation and
// reports whether it did. An older or equal generation is not an error.
func (c *Client) SetCatalog(m *catalog.Manifest) (bool, error) {
	updated, err := c.store.Update(m)
	if errors.Is(err, catalog.ErrStaleManifest) {
		c.log().Debug("catalog not newer; keeping current", "last_update", m.LastUpdate)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c.log().Info("catalog updated", "last_update", m.LastUpdate, "bundles", len(m.All()))
	return updated, nil
}

// UpdateCatalog loads the catalog from the configured source and installs
// it if newer. Bundles already open keep the dependency lists they were
// opened with.
func (c *Client) UpdateCatalog(ctx context.Context) (bool, error) {
	if c.source == nil {
		return false, ErrNoCatalogSource
	}
	m, err := c.source.LoadCatalog(ctx)
	if err != nil {
		return false, fmt.Errorf("bundle: load catalog: %w", err)
	}
	return c.SetCatalog(m)
}

// descriptor resolves name in the current generation.
func (c *Client) descriptor(name string) (catalog.Descriptor, error) {
	desc, ok := c.store.Descriptor(name)
	if !ok {
		return catalog.Descriptor{}, catalog.NotFoundError(name)
	}
	return desc, nil
}

// Install installs name and every bundle it depends on. Bundles that
// already verify are not downloaded again. Progress covers the whole
// closure, weighted by size.
func (c *Client) Install(ctx context.Context, name string, fn progress.Func) error {
	closure, err := catalog.Closure(c.store.Snapshot(), name)
	if err != nil {
		return err
	}
	c.log().Debug("installing closure", "bundle", name, "bundles", len(closure))
	return c.pipeline.InstallAll(ctx, closure, fn)
}

// InstallAll installs every bundle in the current catalog.
func (c *Client) InstallAll(ctx context.Context, fn progress.Func) error {
	return c.pipeline.InstallAll(ctx, c.store.Snapshot().All(), fn)
}

// Verify reports whether name is installed with the expected content.
func (c *Client) Verify(ctx context.Context, name string, fn progress.Func) (bool, error) {
	desc, err := c.descriptor(name)
	if err != nil {
		return false, err
	}
	return c.pipeline.Verify(ctx, desc, fn)
}

// Open opens name and its dependencies. The bundles must already be
// installed. Pair every Open with a Release of the returned handle.
func (c *Client) Open(ctx context.Context, name string) (storage.Handle, error) {
	return c.manager.Open(ctx, name)
}

// Release drops one reference taken by Open.
func (c *Client) Release(h storage.Handle) error {
	return c.manager.Release(h)
}

// Acquire installs name's dependency closure and returns a lease on it.
// Install progress is reported through fn.
func (c *Client) Acquire(ctx context.Context, name string, fn progress.Func) (*lifetime.Lease, error) {
	if err := c.Install(ctx, name, fn); err != nil {
		return nil, err
	}
	return c.manager.Acquire(ctx, name)
}

// OpenBundles returns the names of bundles currently open.
func (c *Client) OpenBundles() []string {
	return c.manager.Names()
}

// Status reports the installed and open state of every catalog entry in
// group order.
func (c *Client) Status(ctx context.Context) ([]BundleStatus, error) {
	m := c.store.Current()
	if m == nil {
		return nil, nil
	}
	var out []BundleStatus
	for _, g := range m.Groups {
		for _, d := range g.Bundles {
			installed, err := c.backend.Exists(ctx, d)
			if err != nil {
				return nil, fmt.Errorf("bundle: status %q: %w", d.Name, err)
			}
			refs, _ := c.manager.RefCount(d.Name)
			out = append(out, BundleStatus{Descriptor: d, Group: g.Name, Installed: installed, Refs: refs})
		}
	}
	return out, nil
}

type usageReporter interface {
	Usage() (int64, error)
}

// Usage returns the bytes held by the storage backend.
func (c *Client) Usage() (int64, error) {
	u, ok := c.backend.(usageReporter)
	if !ok {
		return 0, ErrUsageUnsupported
	}
	return u.Usage()
}

// RemoveAll deletes every installed bundle. It refuses with ErrInUse while
// any bundle is open; an Open racing with RemoveAll may still fail with
// ErrNotInstalled.
func (c *Client) RemoveAll(ctx context.Context, fn progress.Func) error {
	if n := c.manager.Len(); n > 0 {
		return fmt.Errorf("%w: %d open", ErrInUse, n)
	}
	return c.backend.RemoveAll(ctx, fn)
}
