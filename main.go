package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/checkpoint"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/config"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/health"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/httpapi"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/server"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader, err := config.NewLoader(config.ConfigPath(), os.Getenv("CONFIG_PATH") == "")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := loader.Config()

	level := zap.NewAtomicLevel()
	logger, err := newLogger(cfg.Logging, level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	loader.OnChange(func(c *config.Config) {
		if lvl, err := zapcore.ParseLevel(c.Logging.Level); err == nil && lvl != level.Level() {
			level.SetLevel(lvl)
			logger.Info("Log level changed", zap.String("level", lvl.String()))
		}
	})
	loader.Watch(logger)

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing initialization failed", zap.Error(err))
	}

	go circuitbreaker.GlobalMetricsCollector.Run(ctx, 15*time.Second)

	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build service", zap.Error(err))
	}
	defer app.Close()

	go checkpoint.RunJanitor(ctx, app.Store, cfg.Checkpoint.SweepInterval, logger)

	// Admin: health and metrics
	adminMux := http.NewServeMux()
	health.NewHTTPHandler(app.Health, logger).RegisterRoutes(adminMux)
	adminMux.Handle("/metrics", promhttp.Handler())
	admin := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.AdminPort),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go serve(admin, "Admin", logger)

	jwtMgr := auth.NewJWTManager(cfg.Server.Auth.JWTSecret, cfg.Server.Auth.Issuer, cfg.Server.Auth.TokenTTL)
	if !cfg.Server.Auth.Enabled {
		logger.Warn("Authentication disabled, all requests run as the dev principal")
	}
	handler := httpapi.NewHandler(app.Sessions, app.Runner, app.Stream, logger)
	api := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.Server.HTTPPort),
		Handler:     handler.Router(auth.NewMiddleware(jwtMgr, !cfg.Server.Auth.Enabled, logger)),
		ReadTimeout: 30 * time.Second,
		// no WriteTimeout: a turn and the event streams can run for minutes
		IdleTimeout: 120 * time.Second,
	}
	go serve(api, "API", logger)

	<-ctx.Done()
	logger.Info("Shutting down legalqa service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown failed", zap.Error(err))
	}
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown failed", zap.Error(err))
	}
	if shutdownTracing != nil {
		_ = shutdownTracing(shutdownCtx)
	}
}

func serve(srv *http.Server, name string, logger *zap.Logger) {
	logger.Info(name+" HTTP server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(name+" HTTP server failed", zap.Error(err))
	}
}

func newLogger(cfg config.LoggingConfig, level zap.AtomicLevel) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(cfg.Level); err == nil {
		level.SetLevel(lvl)
	}
	zc.Level = level
	return zc.Build()
}
