package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/config"
)

// Dial connects to Temporal, retrying with linear backoff capped at 15s until ctx ends.
func Dial(ctx context.Context, cfg config.TemporalConfig, logger *zap.Logger) (client.Client, error) {
	opts := client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewZapAdapter(logger),
	}
	for attempt := 1; ; attempt++ {
		c, err := client.Dial(opts)
		if err == nil {
			return c, nil
		}
		delay := time.Duration(attempt) * time.Second
		if delay > 15*time.Second {
			delay = 15 * time.Second
		}
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("host", cfg.HostPort),
			zap.Duration("sleep", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
