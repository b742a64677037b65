package fileops

import (
	"io"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// Decoder defaults for bundle payloads.
const (
	DefaultMaxDecoderMemory = 256 << 20
	DefaultIdleDecoders     = 4
)

// DecompressPool hands out zstd decoders for bundle downloads. At most
// idle decoders are kept between downloads; the rest are closed on release.
//
// Each download is a single sequential stream, so decoders run without
// background goroutines.
type DecompressPool struct {
	maxMemory uint64
	idle      chan *zstd.Decoder

	created atomic.Int64
	reused  atomic.Int64
}

// PoolStats counts decoders built and reused by a pool.
type PoolStats struct {
	Created int64
	Reused  int64
}

// NewDecompressPool creates a pool whose decoders refuse frames that need
// more than maxMemory bytes. Zero disables the limit.
func NewDecompressPool(maxMemory uint64) *DecompressPool {
	return NewDecompressPoolSize(maxMemory, DefaultIdleDecoders)
}

// NewDecompressPoolSize is NewDecompressPool with an explicit idle limit.
// A non-positive idle keeps no decoders between downloads.
func NewDecompressPoolSize(maxMemory uint64, idle int) *DecompressPool {
	return &DecompressPool{
		maxMemory: maxMemory,
		idle:      make(chan *zstd.Decoder, max(idle, 0)),
	}
}

// Get returns a decoder reading from r and a release func that must be
// called once the payload is consumed. A nil pool builds a one-off decoder.
func (p *DecompressPool) Get(r io.Reader) (*zstd.Decoder, func(), error) {
	if p == nil {
		dec, err := newDecoder(r, 0)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	}

	select {
	case dec := <-p.idle:
		if err := dec.Reset(r); err == nil {
			p.reused.Add(1)
			return dec, func() { p.put(dec) }, nil
		}
		dec.Close()
	default:
	}

	dec, err := newDecoder(r, p.maxMemory)
	if err != nil {
		return nil, nil, err
	}
	p.created.Add(1)
	return dec, func() { p.put(dec) }, nil
}

// Stats returns the pool counters.
func (p *DecompressPool) Stats() PoolStats {
	if p == nil {
		return PoolStats{}
	}
	return PoolStats{Created: p.created.Load(), Reused: p.reused.Load()}
}

func (p *DecompressPool) put(dec *zstd.Decoder) {
	if err := dec.Reset(nil); err != nil {
		dec.Close()
		return
	}
	select {
	case p.idle <- dec:
	default:
		dec.Close()
	}
}

func newDecoder(r io.Reader, maxMemory uint64) (*zstd.Decoder, error) {
	opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if maxMemory > 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(maxMemory))
	}
	return zstd.NewReader(r, opts...)
}
