// Package server assembles the legal QA service from configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/checkpoint"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/config"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/embeddings"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/health"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/retrieval"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/session"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/temporal"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/vectordb"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/workflows"
)

// App is the wired service. Close releases everything Build opened.
type App struct {
	Store    checkpoint.Store
	Runner   session.Runner
	Sessions *session.Manager
	Stream   *streaming.Manager
	Health   *health.Manager

	worker  worker.Worker
	closers []func() error
	logger  *zap.Logger
}

// Build wires stores, retrievers, the model and the runner. With temporal.enabled
// threads run as workflows on a local worker; otherwise the in-process engine
// drives them.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	app := &App{
		Stream: streaming.NewManager(cfg.Streaming.RingCapacity),
		Health: health.NewManager(logger),
		logger: logger,
	}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	store, closeStore, err := checkpoint.Open(ctx, cfg.Checkpoint, logger)
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.closers = append(app.closers, closeStore)
	if p, ok := store.(checkpoint.Pinger); ok {
		_ = app.Health.RegisterChecker(health.NewPingChecker("checkpoint", true, 3*time.Second, p.Ping))
	}

	retrievers, err := app.retrievers(ctx, cfg)
	if err != nil {
		return nil, err
	}

	model := newModel(cfg.LLM, logger)
	if cfg.LLM.Provider != "anthropic" && cfg.LLM.ServiceURL != "" {
		_ = app.Health.RegisterChecker(health.NewHTTPChecker("llm_service", strings.TrimRight(cfg.LLM.ServiceURL, "/")+"/health", false))
	}

	lib, err := prompts.Default()
	if err != nil {
		return nil, err
	}
	acts, err := activities.New(model, lib, retrievers, activities.Options{
		Thresholds: state.Thresholds{
			QueryRelevance: cfg.Workflow.QueryRelevance,
			Strip:          cfg.Workflow.StripThreshold,
		},
		MaxReviewerTurns:   cfg.Workflow.MaxReviewerToolTurns,
		DegradeOnMalformed: cfg.Review.DegradeOnMalformed,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Temporal.Enabled {
		c, err := temporal.Dial(ctx, cfg.Temporal, logger)
		if err != nil {
			return nil, fmt.Errorf("temporal: %w", err)
		}
		app.closers = append(app.closers, func() error { c.Close(); return nil })
		app.worker = temporal.NewWorker(c, cfg.Temporal.TaskQueue, acts, logger)
		if err := app.worker.Start(); err != nil {
			return nil, fmt.Errorf("start temporal worker: %w", err)
		}
		_ = app.Health.RegisterChecker(health.NewPingChecker("temporal", true, 3*time.Second, func(ctx context.Context) error {
			_, err := c.CheckHealth(ctx, &client.CheckHealthRequest{})
			return err
		}))
		app.Runner = temporal.NewRunner(c, cfg, logger)
	} else {
		app.Runner = workflows.NewEngine(store, acts, app.Stream, workflows.Options{
			MaxGenerations:   cfg.Workflow.MaxGenerations,
			MaxSubAgentSteps: cfg.Workflow.MaxSubAgentSteps,
			MaxParallel:      cfg.Workflow.MaxParallelAgents,
			LockTTL:          cfg.Checkpoint.LockTTL,
			ReviewFallback:   cfg.Review.ReviewFallback,
		}, logger)
	}
	app.Sessions = session.NewManager(app.Runner, logger)
	return app, nil
}

func newModel(cfg config.LLMConfig, logger *zap.Logger) llm.Client {
	if cfg.Provider == "anthropic" {
		return llm.NewAnthropicClient(cfg, logger)
	}
	return llm.NewServiceClient(cfg, logger)
}

// retrievers builds one placeholder-wrapped retriever per domain.
func (a *App) retrievers(ctx context.Context, cfg *config.Config) (map[state.DomainTag]retrieval.Retriever, error) {
	rc := cfg.Retrieval
	emb := embeddings.New(rc.Embeddings, rc.Timeout, a.embeddingCache(cfg), a.logger)

	out := make(map[state.DomainTag]retrieval.Retriever, len(state.AllDomains))
	out[state.DomainWeb] = retrieval.WithPlaceholder(retrieval.NewTavily(rc.Web, rc.Timeout, a.logger), "tavily", a.logger)

	laws := []state.DomainTag{state.DomainPersonal, state.DomainLabor, state.DomainHousing}
	switch rc.Backend {
	case "", "qdrant":
		qc := vectordb.New(rc.Qdrant, rc.Timeout, a.logger)
		var collections []string
		for _, d := range laws {
			name := rc.Collections[string(d)]
			if name == "" {
				return nil, fmt.Errorf("no qdrant collection configured for %s", d)
			}
			collections = append(collections, name)
			out[d] = retrieval.WithPlaceholder(&retrieval.Qdrant{
				Embedder:   emb,
				Points:     qc,
				Collection: name,
				TopK:       rc.TopK,
				Threshold:  rc.Threshold,
			}, "qdrant", a.logger)
		}
		_ = a.Health.RegisterChecker(health.NewPingChecker("qdrant", false, 3*time.Second, func(ctx context.Context) error {
			_, err := qc.Collection(ctx, collections[0])
			return err
		}))
		if err := validateDimensions(ctx, emb, qc, collections, a.logger); err != nil {
			return nil, err
		}
	case "pgvector":
		pool, err := retrieval.OpenPool(ctx, rc.PGVector.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		_ = a.Health.RegisterChecker(health.NewPingChecker("pgvector", false, 3*time.Second, pool.Ping))
		for _, d := range laws {
			out[d] = retrieval.WithPlaceholder(&retrieval.PGVector{
				Embedder: emb,
				DB:       pool,
				Table:    rc.PGVector.Table,
				Domain:   d,
				TopK:     rc.TopK,
			}, "pgvector", a.logger)
		}
	default:
		return nil, fmt.Errorf("unknown retrieval backend %q", rc.Backend)
	}
	return out, nil
}

// embeddingCache shares vectors between replicas through Redis when the
// checkpoint store already runs on it.
func (a *App) embeddingCache(cfg *config.Config) embeddings.Cache {
	if cfg.Checkpoint.Backend != "redis" {
		return nil
	}
	rc := redis.NewClient(&redis.Options{Addr: cfg.Checkpoint.Redis.Addr, Password: cfg.Checkpoint.Redis.Password})
	rw := circuitbreaker.NewRedisWrapper(rc, "embeddings", a.logger)
	a.closers = append(a.closers, rw.Close)
	return embeddings.NewRedisCache(rw)
}

// validateDimensions probes the embedding size once and fails on a collection
// built with another model. An unreachable backend only logs.
func validateDimensions(ctx context.Context, emb *embeddings.Service, qc *vectordb.Client, collections []string, logger *zap.Logger) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	vec, err := emb.Embed(probeCtx, "dimension probe")
	if err != nil {
		logger.Warn("Skipping vector dimension validation", zap.Error(err))
		return nil
	}
	var mismatch vectordb.DimensionMismatchError
	if err := qc.ValidateDimensions(probeCtx, len(vec), collections...); errors.As(err, &mismatch) {
		return err
	} else if err != nil {
		logger.Warn("Vector dimension validation failed", zap.Error(err))
	}
	return nil
}

// Close stops the worker and releases connections in reverse order.
func (a *App) Close() {
	if a.worker != nil {
		a.worker.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
