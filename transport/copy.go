package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/internal/fileops"
	"github.com/meigma/bundle/progress"
)

// Stream defaults.
const (
	DefaultChunkSize      = 32 << 10
	DefaultNotifyInterval = 500 * time.Millisecond
)

var defaultDecoders = sync.OnceValue(func() *fileops.DecompressPool {
	return fileops.NewDecompressPool(fileops.DefaultMaxDecoderMemory)
})

// StreamConfig controls how a response body is copied.
type StreamConfig struct {
	// ChunkSize is the copy buffer size. Zero selects DefaultChunkSize.
	ChunkSize int

	// NotifyInterval is the minimum time between progress reports.
	// Zero selects DefaultNotifyInterval; negative reports every chunk.
	NotifyInterval time.Duration

	// Decoders supplies zstd decoders. Nil uses a shared pool.
	Decoders *fileops.DecompressPool

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.NotifyInterval == 0 {
		c.NotifyInterval = DefaultNotifyInterval
	}
	if c.Decoders == nil {
		c.Decoders = defaultDecoders()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Copy streams src into dst in fixed-size chunks.
//
// contentLength is the length of the encoded payload as reported by the
// remote; progress is transferred/contentLength, throttled to the notify
// interval, and 0 while the length is unknown. When compression is set the
// payload is decoded before it reaches dst. A final 1.0 is always reported
// on success. Copy returns the number of bytes written to dst.
func Copy(
	ctx context.Context,
	dst io.Writer,
	src io.Reader,
	contentLength int64,
	compression catalog.Compression,
	fn progress.Func,
	cfg StreamConfig,
) (int64, error) {
	cfg = cfg.withDefaults()

	last := cfg.Now()
	counter := &fileops.CountingReader{R: src}
	if fn != nil {
		counter.OnRead = func(total int64) {
			now := cfg.Now()
			if cfg.NotifyInterval > 0 && now.Sub(last) < cfg.NotifyInterval {
				return
			}
			last = now
			fn(progress.Ratio(total, contentLength))
		}
	}

	var r io.Reader = counter
	switch compression {
	case catalog.CompressionNone:
	case catalog.CompressionZstd:
		dec, release, err := cfg.Decoders.Get(counter)
		if err != nil {
			return 0, fmt.Errorf("transport: zstd: %w", err)
		}
		defer release()
		r = dec
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCompression, compression)
	}

	buf := make([]byte, cfg.ChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			m, werr := dst.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if m != n {
				return written, io.ErrShortWrite
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return written, err
		}
	}

	progress.Report(fn, 1)
	return written, nil
}
