package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/config"
)

// Open builds the store selected by cfg.Backend. The returned close func releases
// any connection the store owns.
func Open(ctx context.Context, cfg config.CheckpointConfig, logger *zap.Logger) (Store, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.TTL), func() error { return nil }, nil
	case "redis":
		rc := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		rw := circuitbreaker.NewRedisWrapper(rc, "checkpoint", logger)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rw.Ping(pingCtx).Err(); err != nil {
			rw.Close()
			return nil, nil, fmt.Errorf("redis checkpoint store: %w", err)
		}
		s, err := NewRedisStore(rw, cfg.Redis.Prefix, cfg.TTL, cfg.Redis.CacheSize, logger)
		if err != nil {
			rw.Close()
			return nil, nil, err
		}
		return s, rw.Close, nil
	case "sql":
		s, err := OpenSQL(ctx, cfg.SQL.Driver, cfg.SQL.DSN, cfg.TTL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// RunJanitor sweeps expired checkpoints every interval until ctx is done.
func RunJanitor(ctx context.Context, s Store, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				logger.Warn("Checkpoint sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("Evicted expired checkpoints", zap.Int("count", n))
			}
		}
	}
}
