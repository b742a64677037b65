// Package verify checks installed bundle bytes against their expected digest.
//
// Content is streamed through the digest's incremental hash in fixed-size
// chunks, so memory use does not grow with the bundle size.
package verify

import (
	"bytes"
	"context"
	_ "crypto/sha256" // register digest algorithms
	_ "crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/afero"

	"github.com/meigma/bundle/internal/fileops"
	"github.com/meigma/bundle/progress"
)

// DefaultChunkSize is the read size used when hashing.
const DefaultChunkSize = 64 << 10

// ErrUnsupportedDigest is returned when the expected digest uses an
// algorithm that is not available.
var ErrUnsupportedDigest = errors.New("verify: unsupported digest")

// Options tunes a verification run.
type Options struct {
	// ChunkSize is the read size. Zero selects DefaultChunkSize.
	ChunkSize int
}

// Stream hashes r and reports whether it matches expected.
//
// size is the expected length of r and is used only for progress; pass a
// non-positive size when unknown. Progress is reported after every chunk.
// A mismatch returns false with a nil error.
func Stream(ctx context.Context, r io.Reader, size int64, expected digest.Digest, fn progress.Func, opts ...Options) (bool, error) {
	if err := expected.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnsupportedDigest, err)
	}
	want, err := hex.DecodeString(expected.Encoded())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnsupportedDigest, err)
	}

	chunk := DefaultChunkSize
	if len(opts) > 0 && opts[0].ChunkSize > 0 {
		chunk = opts[0].ChunkSize
	}

	hr := fileops.NewHashingReader(r, expected.Algorithm().Hash())
	buf := make([]byte, chunk)
	var hashed int64
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		n, err := hr.Read(buf)
		if n > 0 {
			hashed += int64(n)
			progress.Report(fn, progress.Ratio(hashed, size))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, err
		}
	}

	got := hr.Sum()
	if len(got) != len(want) {
		return false, nil
	}
	return bytes.Equal(got, want), nil
}

// File verifies the file at path in fsys against expected.
// A missing file reports false with a nil error.
func File(ctx context.Context, fsys afero.Fs, path string, expected digest.Digest, fn progress.Func, opts ...Options) (bool, error) {
	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}
	return Stream(ctx, f, info.Size(), expected, fn, opts...)
}
