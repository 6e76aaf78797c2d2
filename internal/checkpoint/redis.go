package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

const (
	putScript = `redis.call('HSET', KEYS[1], 'rev', ARGV[1], 'state', ARGV[2])
if tonumber(ARGV[3]) > 0 then redis.call('PEXPIRE', KEYS[1], ARGV[3]) end
return 1`
	// putIfScript compares the stored revision (0 when absent) with ARGV[4].
	putIfScript = `local cur = tonumber(redis.call('HGET', KEYS[1], 'rev') or '0')
if cur ~= tonumber(ARGV[4]) then return 0 end
redis.call('HSET', KEYS[1], 'rev', ARGV[1], 'state', ARGV[2])
if tonumber(ARGV[3]) > 0 then redis.call('PEXPIRE', KEYS[1], ARGV[3]) end
return 1`
	releaseScript = `if redis.call('GET', KEYS[1]) == ARGV[1] then return redis.call('DEL', KEYS[1]) end
return 0`
)

type cached struct {
	rev int64
	ws  *state.WorkflowState
}

// RedisStore keeps each checkpoint in a hash with a revision field and relies on
// key expiry for TTL. Decoded states are cached per revision so a Get costs one
// HGET when nothing changed.
type RedisStore struct {
	cli    *circuitbreaker.RedisWrapper
	prefix string
	ttl    time.Duration
	cache  *lru.Cache[string, cached]
	logger *zap.Logger
}

func NewRedisStore(cli *circuitbreaker.RedisWrapper, prefix string, ttl time.Duration, cacheSize int, logger *zap.Logger) (*RedisStore, error) {
	if cacheSize <= 0 {
		cacheSize = 512
	}
	c, err := lru.New[string, cached](cacheSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{cli: cli, prefix: prefix, ttl: ttl, cache: c, logger: logger}, nil
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.cli.Ping(ctx).Err() }

func (r *RedisStore) key(threadID string) string  { return r.prefix + "checkpoint:" + threadID }
func (r *RedisStore) lease(threadID string) string { return r.prefix + "lock:" + threadID }

func (r *RedisStore) Get(ctx context.Context, threadID string) (ws *state.WorkflowState, err error) {
	defer func() { record("redis", "get", err) }()
	key := r.key(threadID)
	revStr, err := r.cli.HGet(ctx, key, "rev").Result()
	if errors.Is(err, redis.Nil) {
		r.cache.Remove(key)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint revision: %w", err)
	}
	rev, err := strconv.ParseInt(revStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad checkpoint revision %q: %w", revStr, err)
	}
	if c, ok := r.cache.Get(key); ok && c.rev == rev {
		return c.ws.Clone(), nil
	}

	raw, err := r.cli.HGet(ctx, key, "state").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	ws, err = decode(raw)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, cached{rev: ws.Revision, ws: ws.Clone()})
	return ws, nil
}

func (r *RedisStore) Put(ctx context.Context, threadID string, ws *state.WorkflowState, node state.Node) (err error) {
	defer func() { record("redis", "put", err) }()
	b, err := encode(threadID, ws, node)
	if err != nil {
		return err
	}
	key := r.key(threadID)
	if err := r.cli.Eval(ctx, putScript, []string{key}, ws.Revision, b, r.ttl.Milliseconds()).Err(); err != nil {
		r.cache.Remove(key)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	c := ws.Clone()
	c.ThreadID, c.Node = threadID, node
	r.cache.Add(key, cached{rev: c.Revision, ws: c})
	return nil
}

func (r *RedisStore) PutIf(ctx context.Context, threadID string, ws *state.WorkflowState, node state.Node, expected int64) (err error) {
	defer func() { record("redis", "put_if", err) }()
	b, err := encode(threadID, ws, node)
	if err != nil {
		return err
	}
	key := r.key(threadID)
	ok, err := r.cli.Eval(ctx, putIfScript, []string{key}, ws.Revision, b, r.ttl.Milliseconds(), expected).Int()
	if err != nil {
		r.cache.Remove(key)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("thread %s not at revision %d: %w", threadID, expected, ErrConflict)
	}
	c := ws.Clone()
	c.ThreadID, c.Node = threadID, node
	r.cache.Add(key, cached{rev: c.Revision, ws: c})
	return nil
}

// UpdatePartial is a read-modify-write. Callers hold the thread lease.
func (r *RedisStore) UpdatePartial(ctx context.Context, threadID string, p Patch) error {
	ws, err := r.Get(ctx, threadID)
	if err != nil {
		return err
	}
	p.apply(ws, time.Now())
	return r.Put(ctx, threadID, ws, ws.Node)
}

func (r *RedisStore) Delete(ctx context.Context, threadID string) (err error) {
	defer func() { record("redis", "delete", err) }()
	key := r.key(threadID)
	r.cache.Remove(key)
	return r.cli.Del(ctx, key).Err()
}

func (r *RedisStore) Lock(ctx context.Context, threadID string, ttl time.Duration) (rel Release, err error) {
	defer func() { record("redis", "lock", err) }()
	token := newToken()
	key := r.lease(threadID)
	ok, err := r.cli.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func(ctx context.Context) error {
		if err := r.cli.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			r.logger.Warn("Failed to release thread lease", zap.String("thread_id", threadID), zap.Error(err))
			return err
		}
		return nil
	}, nil
}

// Sweep is a no-op: Redis expires checkpoints itself.
func (r *RedisStore) Sweep(context.Context) (int, error) { return 0, nil }
