package lifetime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/internal/testutil"
)

func TestLease(t *testing.T) {
	t.Parallel()

	m, backend := setup(t, []catalog.Descriptor{bundle("app", "lib"), bundle("lib")})

	lease, err := m.Acquire(context.Background(), "app")
	require.NoError(t, err)
	assert.Equal(t, "app", lease.Name())
	assert.Equal(t, int64(3), lease.Size())

	buf := make([]byte, 3)
	n, err := lease.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "app", string(buf[:n]))

	require.NoError(t, lease.Release())
	require.NoError(t, lease.Release(), "second release returns the first result")
	assert.Zero(t, m.Len())
	assert.Equal(t, 2, backend.Count(testutil.OpClose))
}

func TestLeaseSharesReference(t *testing.T) {
	t.Parallel()

	m, _ := setup(t, []catalog.Descriptor{bundle("a")})
	ctx := context.Background()

	first, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	second, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	assert.Same(t, first.Handle(), second.Handle())

	require.NoError(t, first.Release())
	refs, ok := m.RefCount("a")
	require.True(t, ok)
	assert.Equal(t, 1, refs)

	require.NoError(t, second.Release())
	assert.Zero(t, m.Len())
}

func TestLeaseAfterManagerRelease(t *testing.T) {
	t.Parallel()

	m, _ := setup(t, []catalog.Descriptor{bundle("a")})
	lease, err := m.Acquire(context.Background(), "a")
	require.NoError(t, err)

	require.NoError(t, m.Release(lease.Handle()))
	err = lease.Release()
	require.ErrorIs(t, err, ErrDoubleRelease)
	assert.ErrorIs(t, lease.Release(), ErrDoubleRelease)
}

func TestLeaseHandleMismatch(t *testing.T) {
	t.Parallel()

	m, backend := setup(t, []catalog.Descriptor{bundle("a")})
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, m.Release(lease.Handle()))

	reopened, err := m.Open(ctx, "a")
	require.NoError(t, err)
	require.NotSame(t, lease.Handle(), reopened)

	require.ErrorIs(t, lease.Release(), ErrHandleMismatch)
	refs, _ := m.RefCount("a")
	assert.Equal(t, 1, refs, "mismatched release must not touch the new context")

	require.NoError(t, m.Release(reopened))
	assert.Zero(t, backend.OpenHandles())
}

func TestAcquireError(t *testing.T) {
	t.Parallel()

	m, _ := setup(t, []catalog.Descriptor{bundle("a")}, "a")
	lease, err := m.Acquire(context.Background(), "a")
	require.ErrorIs(t, err, ErrNotInstalled)
	assert.Nil(t, lease)
}
