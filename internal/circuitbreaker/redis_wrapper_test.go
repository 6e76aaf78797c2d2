package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapperCommands(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	rw := NewRedisWrapper(client, "test", zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, rw.Ping(ctx).Err())
	require.NoError(t, rw.Set(ctx, "thread:a", "v1", time.Minute).Err())

	val, err := rw.Get(ctx, "thread:a").Result()
	require.NoError(t, err)
	assert.Equal(t, "v1", val)

	ok, err := rw.SetNX(ctx, "lock:a", "owner", time.Minute).Result()
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = rw.SetNX(ctx, "lock:a", "other", time.Minute).Result()
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := rw.Keys(ctx, "thread:*").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"thread:a"}, keys)

	n, err := rw.Del(ctx, "thread:a").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisWrapperMissIsNotFailure(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	rw := NewRedisWrapper(client, "test", zaptest.NewLogger(t))
	for i := 0; i < 10; i++ {
		assert.Equal(t, redis.Nil, rw.Get(context.Background(), "missing").Err())
	}
	assert.False(t, rw.IsCircuitBreakerOpen())
}

func TestRedisWrapperOpensOnDeadServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	rw := NewRedisWrapper(client, "test", zaptest.NewLogger(t))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.Error(t, rw.Ping(ctx).Err())
	}
	assert.True(t, rw.IsCircuitBreakerOpen())
	assert.ErrorIs(t, rw.Get(ctx, "any").Err(), ErrCircuitBreakerOpen)
}
