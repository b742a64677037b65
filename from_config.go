package bundle

import (
	nethttp "net/http" //nolint:revive // aliased to avoid clashing with the http transport package

	"github.com/meigma/bundle/config"
	"github.com/meigma/bundle/install"
	"github.com/meigma/bundle/storage/disk"
	"github.com/meigma/bundle/transport"
	"github.com/meigma/bundle/transport/http"
	"github.com/meigma/bundle/transport/oci"
)

// NewClientFromConfig builds a client on the OS filesystem with the
// transport named by cfg.Transport.Kind. The catalog source is
// cfg.Catalog.Path when set, otherwise the registry reference for the oci
// transport. opts are applied before the configuration, except that
// install options given through WithInstallOptions take precedence.
//
// The catalog is not loaded; call UpdateCatalog.
func NewClientFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := newClient(opts)
	if err != nil {
		return nil, err
	}

	backend, err := disk.NewOS(cfg.Storage.Dir,
		disk.WithShardPrefixLen(cfg.Storage.ShardPrefixLen),
		disk.WithLogger(c.logger),
	)
	if err != nil {
		return nil, err
	}

	var fetcher transport.Fetcher
	switch cfg.Transport.Kind {
	case config.TransportOCI:
		f, err := newOCIFetcher(cfg, c)
		if err != nil {
			return nil, err
		}
		if c.source == nil && cfg.Catalog.Path == "" {
			c.source = RegistryCatalog(f, cfg.Catalog.Reference)
		}
		fetcher = f
	default:
		f, err := newHTTPFetcher(cfg, c)
		if err != nil {
			return nil, err
		}
		fetcher = f
	}
	if c.source == nil && cfg.Catalog.Path != "" {
		c.source = FileCatalog(cfg.Catalog.Path)
	}

	c.installOpts = append([]install.Option{
		install.WithMaxRetries(cfg.Install.MaxRetries),
		install.WithBackoffBase(cfg.Install.BackoffBase),
		install.WithConcurrency(cfg.Install.Concurrency),
	}, c.installOpts...)

	if err := c.wire(backend, fetcher); err != nil {
		return nil, err
	}
	c.log().Debug("client configured",
		"transport", cfg.Transport.Kind,
		"storage", cfg.Storage.Dir,
	)
	return c, nil
}

func newHTTPFetcher(cfg *config.Config, c *Client) (*http.Fetcher, error) {
	t := cfg.Transport
	headers := make(nethttp.Header, len(t.Headers))
	for k, v := range t.Headers {
		headers.Set(k, v)
	}
	return http.New(t.BaseURL,
		http.WithHeaders(headers),
		http.WithTimeout(t.Timeout),
		http.WithChunkSize(t.ChunkSize),
		http.WithNotifyInterval(t.NotifyInterval),
		http.WithLogger(c.logger),
	)
}

func newOCIFetcher(cfg *config.Config, c *Client) (*oci.Fetcher, error) {
	t := cfg.Transport
	opts := []oci.Option{
		oci.WithPlainHTTP(t.PlainHTTP),
		oci.WithTimeout(t.Timeout),
		oci.WithChunkSize(t.ChunkSize),
		oci.WithNotifyInterval(t.NotifyInterval),
		oci.WithLogger(c.logger),
	}
	if t.Anonymous {
		opts = append(opts, oci.WithAnonymous())
	} else {
		opts = append(opts, oci.WithDockerConfig())
	}
	return oci.NewFetcher(t.Repository, opts...)
}
