// Package writeops streams bundle payloads through hashing and optional
// compression before they are uploaded.
package writeops

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/internal/fileops"
)

const defaultBufSize = 32 << 10

// ErrNoEncoder is returned when zstd output is requested from Ops built
// without an encoder.
var ErrNoEncoder = errors.New("writeops: zstd requested without an encoder")

// Result describes one encoded payload.
type Result struct {
	// Written is the number of bytes written to the destination.
	Written int64

	// Size is the number of source bytes, the installed size.
	Size int64

	// Digest is the digest of the source bytes.
	Digest digest.Digest
}

// Ops encodes payloads. It reuses its encoder and buffer, so it is not safe
// for concurrent use.
type Ops struct {
	encoder *zstd.Encoder
	buf     []byte
}

// New creates an Ops instance. Pass a nil encoder when only uncompressed
// payloads are encoded.
func New(enc *zstd.Encoder) *Ops {
	return &Ops{
		encoder: enc,
		buf:     make([]byte, defaultBufSize),
	}
}

// Encode copies r to w, compressing per compression, and hashes the source
// bytes with alg.
func (o *Ops) Encode(ctx context.Context, r io.Reader, w io.Writer, compression catalog.Compression, alg digest.Algorithm) (Result, error) {
	if !alg.Available() {
		return Result{}, fmt.Errorf("writeops: digest algorithm %q unavailable", alg)
	}
	digester := alg.Digester()
	cr := &fileops.CountingReader{R: r}
	cw := &countingWriter{w: w}
	src := io.TeeReader(cr, digester.Hash())

	switch compression {
	case catalog.CompressionNone:
		if err := o.copy(ctx, cw, src); err != nil {
			return Result{}, err
		}
	case catalog.CompressionZstd:
		if o.encoder == nil {
			return Result{}, ErrNoEncoder
		}
		o.encoder.Reset(cw)
		if err := o.copy(ctx, o.encoder, src); err != nil {
			o.encoder.Close()
			return Result{}, err
		}
		if err := o.encoder.Close(); err != nil {
			return Result{}, fmt.Errorf("close zstd encoder: %w", err)
		}
	default:
		return Result{}, fmt.Errorf("writeops: unsupported compression %q", compression)
	}
	return Result{Written: cw.n, Size: cr.N, Digest: digester.Digest()}, nil
}

// copy is io.CopyBuffer with a context check between chunks.
func (o *Ops) copy(ctx context.Context, dst io.Writer, src io.Reader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := src.Read(o.buf)
		if n > 0 {
			if _, err := dst.Write(o.buf[:n]); err != nil {
				return err
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
