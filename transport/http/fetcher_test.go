package http //nolint:revive // intentional naming for domain clarity

import (
	"bytes"
	"context"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/transport"
)

func fixedClock() time.Time { return time.Unix(0, 1234) }

func TestFetcherURL(t *testing.T) {
	t.Parallel()

	f, err := New("https://cdn.example.com/bundles/", WithClock(fixedClock))
	require.NoError(t, err)

	tests := []struct {
		name string
		desc catalog.Descriptor
		want string
	}{
		{
			name: "relative",
			desc: catalog.Descriptor{Name: "a", RemotePath: "v1/a.bin"},
			want: "https://cdn.example.com/bundles/v1/a.bin?t=1234",
		},
		{
			name: "name fallback",
			desc: catalog.Descriptor{Name: "core"},
			want: "https://cdn.example.com/bundles/core?t=1234",
		},
		{
			name: "existing query",
			desc: catalog.Descriptor{Name: "q", RemotePath: "q.bin?rev=7"},
			want: "https://cdn.example.com/bundles/q.bin?rev=7&t=1234",
		},
		{
			name: "absolute",
			desc: catalog.Descriptor{Name: "abs", RemotePath: "https://mirror.example.com/abs.bin"},
			want: "https://mirror.example.com/abs.bin?t=1234",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := f.URL(tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewRejectsBadBase(t *testing.T) {
	t.Parallel()

	_, err := New("ftp://example.com")
	require.Error(t, err)
	_, err = New("://bad")
	require.Error(t, err)
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("payload"), 1024)
	var gotQuery, gotHeader string
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		gotQuery = r.URL.Query().Get(CacheBustParam)
		gotHeader = r.Header.Get("X-Client")
		assert.Equal(t, "/files/a.bin", r.URL.Path)
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	f, err := New(srv.URL+"/files", WithHeader("X-Client", "bundlectl"), WithNotifyInterval(-1))
	require.NoError(t, err)

	var buf bytes.Buffer
	var reports []float64
	err = f.Fetch(context.Background(), catalog.Descriptor{Name: "a", RemotePath: "a.bin"}, &buf,
		func(v float64) { reports = append(reports, v) })
	require.NoError(t, err)
	assert.Equal(t, content, buf.Bytes())
	assert.NotEmpty(t, gotQuery)
	assert.Equal(t, "bundlectl", gotHeader)

	require.NotEmpty(t, reports)
	assert.InDelta(t, 1.0, reports[len(reports)-1], 1e-9)
	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i], reports[i-1])
	}
}

func TestFetchCompressed(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("zstd over http "), 512)
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll(content, nil)
	require.NoError(t, enc.Close())

	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		_, _ = w.Write(compressed)
	}))
	defer srv.Close()

	f, err := New(srv.URL)
	require.NoError(t, err)

	var buf bytes.Buffer
	err = f.Fetch(context.Background(),
		catalog.Descriptor{Name: "z", Compression: catalog.CompressionZstd}, &buf, nil)
	require.NoError(t, err)
	assert.Equal(t, content, buf.Bytes())
}

func TestFetchStatusErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		retryable bool
	}{
		{nethttp.StatusNotFound, false},
		{nethttp.StatusForbidden, false},
		{nethttp.StatusInternalServerError, true},
		{nethttp.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			f, err := New(srv.URL)
			require.NoError(t, err)

			var buf bytes.Buffer
			err = f.Fetch(context.Background(), catalog.Descriptor{Name: "x"}, &buf, nil)
			var statusErr *transport.StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, tt.retryable, transport.IsRetryable(err))
			assert.Zero(t, buf.Len())
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f, err := New(srv.URL, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	err = f.Fetch(context.Background(), catalog.Descriptor{Name: "slow"}, &bytes.Buffer{}, nil)
	require.ErrorIs(t, err, transport.ErrTimeout)
	assert.True(t, transport.IsRetryable(err))
	assert.Equal(t, int32(1), hits.Load())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestFetchWriteErrorAbortsTransfer(t *testing.T) {
	t.Parallel()

	var aborted atomic.Bool
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 64<<10))
		w.(nethttp.Flusher).Flush()
		select {
		case <-r.Context().Done():
			aborted.Store(true)
		case <-time.After(10 * time.Second):
		}
	}))
	defer srv.Close()

	f, err := New(srv.URL)
	require.NoError(t, err)

	start := time.Now()
	err = f.Fetch(context.Background(), catalog.Descriptor{Name: "big"}, failingWriter{}, nil)
	require.Error(t, err)
	assert.False(t, transport.IsRetryable(err))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Eventually(t, aborted.Load, 5*time.Second, 10*time.Millisecond)
}
