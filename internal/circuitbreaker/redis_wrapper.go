package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisWrapper routes the Redis commands used by the checkpoint store through a breaker.
type RedisWrapper struct {
	client  *redis.Client
	cb      *CircuitBreaker
	service string
	logger  *zap.Logger
}

func NewRedisWrapper(client *redis.Client, service string, logger *zap.Logger) *RedisWrapper {
	cb := NewCircuitBreaker("redis", RedisSettings().ToConfig(), logger)
	GlobalMetricsCollector.Register(service, cb)
	return &RedisWrapper{client: client, cb: cb, service: service, logger: logger}
}

// guard runs fn under the breaker. redis.Nil is a normal miss, not a dependency failure.
func (rw *RedisWrapper) guard(ctx context.Context, fn func() error) error {
	err := rw.cb.Execute(ctx, func() error {
		if err := fn(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		return nil
	})
	GlobalMetricsCollector.Record(rw.cb.Name(), rw.service, rw.cb.State(), err == nil)
	return err
}

func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var res *redis.StatusCmd
	if err := rw.guard(ctx, func() error { res = rw.client.Ping(ctx); return res.Err() }); err != nil && res == nil {
		res = redis.NewStatusCmd(ctx)
		res.SetErr(err)
	}
	return res
}

func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var res *redis.StringCmd
	if err := rw.guard(ctx, func() error { res = rw.client.Get(ctx, key); return res.Err() }); err != nil && res == nil {
		res = redis.NewStringCmd(ctx)
		res.SetErr(err)
	}
	return res
}

func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	var res *redis.StatusCmd
	if err := rw.guard(ctx, func() error { res = rw.client.Set(ctx, key, value, ttl); return res.Err() }); err != nil && res == nil {
		res = redis.NewStatusCmd(ctx)
		res.SetErr(err)
	}
	return res
}

func (rw *RedisWrapper) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	var res *redis.StringCmd
	if err := rw.guard(ctx, func() error { res = rw.client.HGet(ctx, key, field); return res.Err() }); err != nil && res == nil {
		res = redis.NewStringCmd(ctx)
		res.SetErr(err)
	}
	return res
}

// SetNX backs the per-thread lease.
func (rw *RedisWrapper) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	var res *redis.BoolCmd
	if err := rw.guard(ctx, func() error { res = rw.client.SetNX(ctx, key, value, ttl); return res.Err() }); err != nil && res == nil {
		res = redis.NewBoolCmd(ctx)
		res.SetErr(err)
	}
	return res
}

func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var res *redis.IntCmd
	if err := rw.guard(ctx, func() error { res = rw.client.Del(ctx, keys...); return res.Err() }); err != nil && res == nil {
		res = redis.NewIntCmd(ctx)
		res.SetErr(err)
	}
	return res
}

func (rw *RedisWrapper) Keys(ctx context.Context, pattern string) *redis.StringSliceCmd {
	var res *redis.StringSliceCmd
	if err := rw.guard(ctx, func() error { res = rw.client.Keys(ctx, pattern); return res.Err() }); err != nil && res == nil {
		res = redis.NewStringSliceCmd(ctx)
		res.SetErr(err)
	}
	return res
}

// Eval is used for compare-and-delete on lease release.
func (rw *RedisWrapper) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	var res *redis.Cmd
	if err := rw.guard(ctx, func() error { res = rw.client.Eval(ctx, script, keys, args...); return res.Err() }); err != nil && res == nil {
		res = redis.NewCmd(ctx)
		res.SetErr(err)
	}
	return res
}

func (rw *RedisWrapper) Close() error { return rw.client.Close() }

func (rw *RedisWrapper) IsCircuitBreakerOpen() bool { return rw.cb.State() == StateOpen }
