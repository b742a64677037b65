package verify

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamMatch(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("bundle-bytes"), 100)
	var reports []float64
	ok, err := Stream(context.Background(), bytes.NewReader(content), int64(len(content)),
		digest.FromBytes(content), func(v float64) { reports = append(reports, v) },
		Options{ChunkSize: 100})
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, reports, 12)
	assert.InDelta(t, 1.0, reports[len(reports)-1], 1e-9)
	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i], reports[i-1])
	}
}

func TestStreamMismatch(t *testing.T) {
	t.Parallel()

	ok, err := Stream(context.Background(), bytes.NewReader([]byte("actual")), 6,
		digest.FromString("expected"), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamAlgorithms(t *testing.T) {
	t.Parallel()

	content := []byte("multi-algorithm")
	sum := sha512.Sum512(content)
	sha512Digest := digest.NewDigestFromEncoded(digest.SHA512, hex.EncodeToString(sum[:]))

	ok, err := Stream(context.Background(), bytes.NewReader(content), -1, sha512Digest, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Stream(context.Background(), bytes.NewReader(content), -1, digest.SHA384.FromBytes(content), nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStreamInvalidDigest(t *testing.T) {
	t.Parallel()

	_, err := Stream(context.Background(), bytes.NewReader(nil), 0, "md5:abc", nil)
	require.ErrorIs(t, err, ErrUnsupportedDigest)
}

func TestStreamCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Stream(ctx, bytes.NewReader([]byte("x")), 1, digest.FromString("x"), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFile(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	content := []byte("on disk")
	require.NoError(t, afero.WriteFile(fsys, "b/bundle.bin", content, 0o600))

	ok, err := File(context.Background(), fsys, "b/bundle.bin", digest.FromBytes(content), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = File(context.Background(), fsys, "missing.bin", digest.FromBytes(content), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, fsys.MkdirAll("dir", 0o700))
	ok, err = File(context.Background(), fsys, "dir", digest.FromBytes(content), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
