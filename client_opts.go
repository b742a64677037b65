package bundle

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/install"
	"github.com/meigma/bundle/lifetime"
)

// Option configures a Client.
type Option func(*Client) error

// WithCatalog sets the initial catalog generation.
func WithCatalog(m *catalog.Manifest) Option {
	return func(c *Client) error {
		if m == nil {
			return errors.New("bundle: catalog is nil")
		}
		if err := m.Validate(); err != nil {
			return err
		}
		c.initial = m
		return nil
	}
}

// WithCatalogSource sets where UpdateCatalog loads new generations from.
func WithCatalogSource(src CatalogSource) Option {
	return func(c *Client) error {
		c.source = src
		return nil
	}
}

// WithLogger sets a logger for the client and the components it builds.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithRegisterer registers install and lifetime metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) error {
		c.registerer = reg
		return nil
	}
}

// WithInstallOptions passes options through to the install pipeline. They
// are applied after the client's logger and registerer.
func WithInstallOptions(opts ...install.Option) Option {
	return func(c *Client) error {
		c.installOpts = append(c.installOpts, opts...)
		return nil
	}
}

// WithLifetimeOptions passes options through to the lifetime manager. They
// are applied after the client's logger and registerer.
func WithLifetimeOptions(opts ...lifetime.Option) Option {
	return func(c *Client) error {
		c.lifetimeOpts = append(c.lifetimeOpts, opts...)
		return nil
	}
}
