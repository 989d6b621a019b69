package db

import (
	"context"
	"os"
	"pastebin/cfg"
	"pastebin/svc/cache"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to TEST_REDIS_URL and namespaces keys per test.
func newTestRedis(t *testing.T) (*Redis, string) {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	r, err := NewRedis(url, &cfg.Cfg{RedisTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, "test:" + uuid.NewString() + ":"
}

func TestRedisStringsAndExpiry(t *testing.T) {
	r, ns := newTestRedis(t)
	ctx := context.Background()
	t.Cleanup(func() { r.Remove(ctx, ns+"abs", ns+"past", ns+"views") })

	require.NoError(t, r.SetString(ctx, ns+"abs", "v", cache.ExpireAt(time.Now().Add(time.Minute))))
	v, ok, err := r.GetString(ctx, ns+"abs")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, r.SetString(ctx, ns+"past", "v", cache.ExpireAt(time.Now().Add(-time.Second))))
	_, ok, err = r.GetString(ctx, ns+"past")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := r.Incr(ctx, ns+"views", cache.SlidingFor(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = r.Incr(ctx, ns+"views", cache.SlidingFor(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, r.Remove(ctx, ns+"abs"))
	_, ok, err = r.GetString(ctx, ns+"abs")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisQueue(t *testing.T) {
	r, ns := newTestRedis(t)
	ctx := context.Background()
	key := ns + "pool"
	t.Cleanup(func() { r.Remove(ctx, key) })

	_, ok, err := r.ListPopLeft(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := r.ListPushRight(ctx, key, "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	v, ok, err := r.ListPopLeft(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	n, err = r.ListLength(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, r.Ping(ctx))
}

func TestNewRedisBadURL(t *testing.T) {
	_, err := NewRedis("not-a-url", &cfg.Cfg{})
	assert.Error(t, err)
}
