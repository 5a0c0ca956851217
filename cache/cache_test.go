package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClinicQueue/config"
)

func newRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b, err := NewRedisBackend(client)
	require.NoError(t, err)
	return b, mr
}

func TestRedisBackendGetSet(t *testing.T) {
	ctx := context.Background()
	b, mr := newRedisBackend(t)

	_, ok, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(ctx, "k", []byte(`{"a":1}`), time.Minute))
	got, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(got))

	mr.FastForward(2 * time.Minute)
	_, ok, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackendDeletePrefix(t *testing.T) {
	ctx := context.Background()
	b, mr := newRedisBackend(t)
	for i := 0; i < 250; i++ {
		require.NoError(t, mr.Set("golden:payments:clinic:4:"+time.Duration(i).String(), "x"))
	}
	require.NoError(t, mr.Set("golden:payments:clinic:40:monthly", "x"))

	require.NoError(t, b.DeletePrefix(ctx, PaymentsPrefix(4)))

	assert.Equal(t, []string{"golden:payments:clinic:40:monthly"}, mr.Keys())
}

func TestRedisBackendNilClient(t *testing.T) {
	_, err := NewRedisBackend(nil)
	assert.Error(t, err)
}

func TestNewBackendFromConfig(t *testing.T) {
	b, err := NewBackend(&config.AppConfig{CacheBackend: "memory", CacheMaxEntries: 5}, nil)
	require.NoError(t, err)
	_, ok := b.(*MemoryBackend)
	assert.True(t, ok)
	require.NoError(t, b.Close())

	_, err = NewBackend(&config.AppConfig{CacheBackend: "redis"}, nil)
	assert.Error(t, err)
}
