// Package http fetches bundle payloads over HTTP(S).
//
// Each request targets base/RemotePath with a "t" query parameter holding
// the current time in nanoseconds so intermediate caches cannot serve a
// stale payload.
package http //nolint:revive // intentional naming for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/progress"
	"github.com/meigma/bundle/transport"
)

// DefaultTimeout bounds the wait for response headers.
const DefaultTimeout = 30 * time.Second

// CacheBustParam is the query parameter that defeats intermediate caches.
const CacheBustParam = "t"

// Fetcher implements transport.Fetcher with HTTP GET requests.
type Fetcher struct {
	base    *url.URL
	client  *nethttp.Client
	headers nethttp.Header
	timeout time.Duration
	stream  transport.StreamConfig
	now     func() time.Time
	logger  *slog.Logger
}

// Interface compliance.
var _ transport.Fetcher = (*Fetcher)(nil)

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(f *Fetcher) {
		if headers == nil {
			return
		}
		f.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(f *Fetcher) {
		if f.headers == nil {
			f.headers = make(nethttp.Header)
		}
		f.headers.Set(key, value)
	}
}

// WithTimeout sets how long to wait for a response before giving up.
// Non-positive disables the timeout. Body streaming is not bounded.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.timeout = d
	}
}

// WithChunkSize sets the body copy buffer size.
func WithChunkSize(n int) Option {
	return func(f *Fetcher) {
		f.stream.ChunkSize = n
	}
}

// WithNotifyInterval sets the minimum time between progress reports.
func WithNotifyInterval(d time.Duration) Option {
	return func(f *Fetcher) {
		f.stream.NotifyInterval = d
	}
}

// WithClock sets the time source used for cache busting and progress
// throttling.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		f.now = now
		f.stream.Now = now
	}
}

// WithLogger sets a logger for the fetcher.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// New creates a Fetcher resolving remote paths against baseURL.
func New(baseURL string, opts ...Option) (*Fetcher, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("http: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("http: base url %q: scheme must be http or https", baseURL)
	}
	f := &Fetcher{
		base:    base,
		client:  nethttp.DefaultClient,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = nethttp.DefaultClient
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (f *Fetcher) log() *slog.Logger {
	if f.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.logger
}

// URL returns the request URL for desc. RemotePath may be an absolute URL;
// otherwise it is joined to the base URL. An empty RemotePath uses Name.
func (f *Fetcher) URL(desc catalog.Descriptor) (string, error) {
	remote := desc.RemotePath
	if remote == "" {
		remote = desc.Name
	}
	ref, err := url.Parse(remote)
	if err != nil {
		return "", fmt.Errorf("http: bundle %q: parse remote path: %w", desc.Name, err)
	}
	var u *url.URL
	if ref.IsAbs() {
		u = ref
	} else {
		u = f.base.JoinPath(ref.Path)
		u.RawQuery = ref.RawQuery
	}
	q := u.Query()
	q.Set(CacheBustParam, strconv.FormatInt(f.now().UnixNano(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch downloads desc into w.
func (f *Fetcher) Fetch(ctx context.Context, desc catalog.Descriptor, w io.Writer, fn progress.Func) error {
	target, err := f.URL(desc)
	if err != nil {
		return err
	}

	resp, cancel, err := transport.AwaitResponse(ctx, target, f.timeout,
		func(ctx context.Context) (*nethttp.Response, error) {
			req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, target, nethttp.NoBody)
			if err != nil {
				return nil, err
			}
			for key, values := range f.headers {
				for _, v := range values {
					req.Header.Add(key, v)
				}
			}
			return f.client.Do(req)
		},
		closeResponse)
	if err != nil {
		var timeoutErr *transport.TimeoutError
		if errors.As(err, &timeoutErr) {
			f.log().Debug("fetch timed out", "bundle", desc.Name, "url", target, "timeout", f.timeout)
		}
		return err
	}
	// cancel runs first so a failed copy does not drain the remaining body.
	defer closeResponse(resp)
	defer cancel()

	if resp.StatusCode != nethttp.StatusOK {
		return &transport.StatusError{StatusCode: resp.StatusCode, Target: target}
	}

	n, err := transport.Copy(ctx, w, resp.Body, resp.ContentLength, desc.Compression, fn, f.stream)
	if err != nil {
		return fmt.Errorf("http: read %s: %w", target, err)
	}
	f.log().Debug("fetch complete", "bundle", desc.Name, "url", target, "bytes", n)
	return nil
}

func closeResponse(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
	_ = resp.Body.Close()
}
