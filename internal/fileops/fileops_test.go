package fileops

import (
	"bytes"
	"crypto/sha256"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashingReader(t *testing.T) {
	t.Parallel()

	content := []byte("hash me in pieces")
	hr := NewHashingReader(bytes.NewReader(content), sha256.New())
	_, err := io.CopyBuffer(io.Discard, hr, make([]byte, 3))
	require.NoError(t, err)

	want := sha256.Sum256(content)
	assert.Equal(t, want[:], hr.Sum())
}

func TestCountingReader(t *testing.T) {
	t.Parallel()

	var seen []int64
	cr := &CountingReader{
		R:      strings.NewReader("abcdefgh"),
		OnRead: func(total int64) { seen = append(seen, total) },
	}
	_, err := io.CopyBuffer(io.Discard, struct{ io.Reader }{cr}, make([]byte, 3))
	require.NoError(t, err)

	assert.Equal(t, int64(8), cr.N)
	assert.Equal(t, []int64{3, 6, 8}, seen)
}

func TestDecompressPool(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("zstd payload "), 100)
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll(content, nil)
	require.NoError(t, enc.Close())

	pool := NewDecompressPool(DefaultMaxDecoderMemory)
	for range 2 {
		dec, release, err := pool.Get(bytes.NewReader(compressed))
		require.NoError(t, err)
		got, err := io.ReadAll(dec)
		release()
		require.NoError(t, err)
		assert.Equal(t, content, got)
	}
	assert.Equal(t, PoolStats{Created: 1, Reused: 1}, pool.Stats())
}

func TestDecompressPoolNoIdle(t *testing.T) {
	t.Parallel()

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll([]byte("bundle"), nil)
	require.NoError(t, enc.Close())

	pool := NewDecompressPoolSize(0, 0)
	for range 3 {
		dec, release, err := pool.Get(bytes.NewReader(compressed))
		require.NoError(t, err)
		got, err := io.ReadAll(dec)
		release()
		require.NoError(t, err)
		assert.Equal(t, []byte("bundle"), got)
	}
	assert.Equal(t, PoolStats{Created: 3}, pool.Stats())
}

func TestDecompressPoolNil(t *testing.T) {
	t.Parallel()

	var pool *DecompressPool
	_, release, err := pool.Get(bytes.NewReader(nil))
	require.NoError(t, err)
	release()
	assert.Zero(t, pool.Stats())
}
