// Package oci fetches bundle payloads from an OCI registry with oras-go.
//
// Each bundle is a blob in a single repository; RemotePath holds the blob
// digest and defaults to the bundle's content hash. A catalog can be stored
// in the same repository as an image manifest whose layers are the bundle
// blobs (see catalog.ToOCIManifest), which [Fetcher.FetchCatalog] reads and
// [Publisher] writes.
package oci

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/errcode"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/meigma/bundle/transport"
)

// DefaultTimeout bounds the wait for a registry response.
const DefaultTimeout = 30 * time.Second

const defaultUserAgent = "bundlectl/1.0"

var (
	// ErrInvalidReference is returned when the repository reference cannot
	// be parsed.
	ErrInvalidReference = errors.New("oci: invalid reference")

	// ErrUnexpectedMediaType is returned when a catalog reference resolves
	// to something other than an image manifest.
	ErrUnexpectedMediaType = errors.New("oci: unexpected media type")
)

// client holds the registry connection shared by Fetcher and Publisher.
type client struct {
	repoRef    string
	plainHTTP  bool
	anonymous  bool
	userAgent  string
	credStore  credentials.Store
	httpClient *http.Client
	timeout    time.Duration
	stream     transport.StreamConfig
	logger     *slog.Logger

	authClient *auth.Client
}

// Option configures a Fetcher or Publisher.
type Option func(*client)

// WithPlainHTTP enables plain HTTP (no TLS) for the registry.
func WithPlainHTTP(enabled bool) Option {
	return func(c *client) {
		c.plainHTTP = enabled
	}
}

// WithCredentialStore sets the credential store for authentication.
func WithCredentialStore(store credentials.Store) Option {
	return func(c *client) {
		c.credStore = store
	}
}

// WithStaticCredentials sets a username and password for host.
func WithStaticCredentials(host, username, password string) Option {
	return func(c *client) {
		c.credStore = StaticCredentials(host, username, password)
	}
}

// WithDockerConfig reads credentials from the Docker config file. If it
// cannot be loaded the registry is accessed without credentials.
func WithDockerConfig() Option {
	return func(c *client) {
		store, err := DockerCredentials()
		if err != nil {
			return
		}
		c.credStore = store
	}
}

// WithAnonymous disables all authentication.
func WithAnonymous() Option {
	return func(c *client) {
		c.anonymous = true
	}
}

// WithUserAgent sets the User-Agent header for requests.
func WithUserAgent(ua string) Option {
	return func(c *client) {
		c.userAgent = ua
	}
}

// WithHTTPClient sets the HTTP client beneath the registry auth layer.
// Defaults to http.DefaultClient, leaving retries to the install pipeline.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithRegistryRetry layers oras-go's retrying HTTP client beneath the auth
// layer, so transient registry failures are retried before they reach the
// install pipeline.
func WithRegistryRetry() Option {
	return func(c *client) {
		c.httpClient = retry.DefaultClient
	}
}

// WithTimeout sets how long to wait for a registry response. Non-positive
// disables the timeout. Blob streaming is not bounded.
func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		c.timeout = d
	}
}

// WithChunkSize sets the blob copy buffer size.
func WithChunkSize(n int) Option {
	return func(c *client) {
		c.stream.ChunkSize = n
	}
}

// WithNotifyInterval sets the minimum time between progress reports.
func WithNotifyInterval(d time.Duration) Option {
	return func(c *client) {
		c.stream.NotifyInterval = d
	}
}

// WithLogger sets a logger.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(c *client) {
		c.logger = logger
	}
}

func newClient(repoRef string, opts []Option) (*client, error) {
	ref, err := registry.ParseReference(repoRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	if ref.Reference != "" {
		return nil, fmt.Errorf("%w: %q must name a repository without tag or digest", ErrInvalidReference, repoRef)
	}
	c := &client{
		repoRef:    repoRef,
		userAgent:  defaultUserAgent,
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}

	c.authClient = &auth.Client{
		Client: c.httpClient,
		Cache:  auth.NewCache(),
		Credential: func(ctx context.Context, hostport string) (auth.Credential, error) {
			if c.anonymous || c.credStore == nil {
				return auth.EmptyCredential, nil
			}
			return c.credStore.Get(ctx, hostport)
		},
		Header: http.Header{
			"User-Agent": []string{c.userAgent},
		},
	}
	return c, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (c *client) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// repository creates a Repository sharing the auth client and its token
// cache.
func (c *client) repository() (*remote.Repository, error) {
	repo, err := remote.NewRepository(c.repoRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	repo.PlainHTTP = c.plainHTTP
	repo.Client = c.authClient
	return repo, nil
}

func (c *client) target(reference string) string {
	if _, err := digest.Parse(reference); err == nil {
		return c.repoRef + "@" + reference
	}
	return c.repoRef + ":" + reference
}

// mapError converts registry failures into transport errors so the install
// pipeline can classify them.
func mapError(err error, target string) error {
	if err == nil {
		return nil
	}
	var errResp *errcode.ErrorResponse
	if errors.As(err, &errResp) {
		return &transport.StatusError{StatusCode: errResp.StatusCode, Target: target, Err: err}
	}
	if errors.Is(err, errdef.ErrNotFound) {
		return &transport.StatusError{StatusCode: http.StatusNotFound, Target: target, Err: err}
	}
	return err
}

// isManifest reports whether mediaType names an image manifest.
func isManifest(mediaType string) bool {
	return mediaType == ocispec.MediaTypeImageManifest
}
