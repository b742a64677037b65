// Package transport defines how bundle payloads are fetched from a remote
// source and the failure classification the install pipeline retries on.
//
// Implementations live in subpackages, one per transport: [http] fetches
// over plain HTTP(S) and [oci] fetches blobs from an OCI registry.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/progress"
)

// Fetcher downloads the remote payload of a bundle into w.
//
// Implementations report progress in [0,1] and end with exactly 1.0 on
// success. Retryable failures are reported as *TimeoutError or as a
// *StatusError with a 5xx status code.
type Fetcher interface {
	Fetch(ctx context.Context, desc catalog.Descriptor, w io.Writer, fn progress.Func) error
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, desc catalog.Descriptor, w io.Writer, fn progress.Func) error

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, desc catalog.Descriptor, w io.Writer, fn progress.Func) error {
	return f(ctx, desc, w, fn)
}

var (
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("transport: timeout")

	// ErrUnsupportedCompression is returned when a descriptor names a
	// payload encoding the transport cannot decode.
	ErrUnsupportedCompression = errors.New("transport: unsupported compression")
)

// TimeoutError reports that no response arrived before the deadline.
type TimeoutError struct {
	// Target identifies what was requested, usually a URL or reference.
	Target string
	// After is the timeout that elapsed.
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport: no response from %s after %s", e.Target, e.After)
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Timeout implements the net.Error timeout convention.
func (e *TimeoutError) Timeout() bool { return true }

// StatusError reports an unsuccessful response from the remote.
type StatusError struct {
	StatusCode int
	Target     string
	Err        error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("transport: %s: status %d %s", e.Target, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StatusError) Unwrap() error { return e.Err }

// ServerFault reports whether the status indicates a server-side failure.
func (e *StatusError) ServerFault() bool {
	return e.StatusCode >= 500 && e.StatusCode <= 599
}

// IsRetryable reports whether err is a transient transport failure: a
// timeout or a server-side fault. Everything else is fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.ServerFault()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
