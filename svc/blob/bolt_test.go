package blob

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBolt(t *testing.T) *Bolt {
	t.Helper()
	b, err := OpenBolt(filepath.Join(t.TempDir(), "content.db"), "pastes")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "pastes/abc123XY.txt", string(ObjectKey("abc123XY")))
}

func TestPutGetSizeDelete(t *testing.T) {
	b := newTestBolt(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "tok00001", []byte("hello, world")))
	data, err := b.Get(ctx, "tok00001")
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(data))

	size, err := b.Size(ctx, "tok00001")
	require.NoError(t, err)
	assert.Equal(t, int64(12), size)

	ok, err := b.Exists(ctx, "tok00001")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Delete(ctx, "tok00001"))
	require.NoError(t, b.Delete(ctx, "tok00001"))

	_, err = b.Get(ctx, "tok00001")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = b.Size(ctx, "tok00001")
	assert.ErrorIs(t, err, ErrNotFound)
	ok, err = b.Exists(ctx, "tok00001")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetReturnsCopy(t *testing.T) {
	b := newTestBolt(t)
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "tok00002", []byte("abc")))

	first, err := b.Get(ctx, "tok00002")
	require.NoError(t, err)
	first[0] = 'z'
	second, err := b.Get(ctx, "tok00002")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(second))
}

func TestOverwriteAndPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.db")
	ctx := context.Background()

	b, err := OpenBolt(path, "pastes")
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, "tok00003", []byte("v1")))
	require.NoError(t, b.Put(ctx, "tok00003", []byte("version two")))
	require.NoError(t, b.Close())

	b, err = OpenBolt(path, "pastes")
	require.NoError(t, err)
	defer b.Close()
	data, err := b.Get(ctx, "tok00003")
	require.NoError(t, err)
	assert.Equal(t, "version two", string(data))
	require.NoError(t, b.Ping(ctx))
}

func TestCancelledContext(t *testing.T) {
	b := newTestBolt(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Put(ctx, "tok00004", []byte("x")), context.Canceled)
	_, err := b.Get(ctx, "tok00004")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenRequiresBucket(t *testing.T) {
	_, err := OpenBolt(filepath.Join(t.TempDir(), "content.db"), "")
	assert.Error(t, err)
}
