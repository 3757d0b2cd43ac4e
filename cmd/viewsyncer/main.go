package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ydydsnyd/mono-sub004/internal/config"
	"github.com/ydydsnyd/mono-sub004/internal/health"
	"github.com/ydydsnyd/mono-sub004/internal/metrics"
	"github.com/ydydsnyd/mono-sub004/internal/server"
	"github.com/ydydsnyd/mono-sub004/internal/service"
	"github.com/ydydsnyd/mono-sub004/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	// Initialize logger
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting view syncer",
		zap.String("config_path", configPath),
		zap.Int("port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("cache_type", cfg.Cache.Type))

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)
	logger.Info("Metrics initialized")

	// Initialize snapshot cache
	var cache store.SnapshotCache
	switch cfg.Cache.Type {
	case "memory":
		cache = store.NewInMemorySnapshotCache(cfg.Cache.MaxSize, logger)
	case "redis":
		redisCache, err := store.NewRedisSnapshotCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("Failed to initialize snapshot cache", zap.Error(err))
		}
		cache = redisCache
	}
	if cache != nil {
		logger.Info("Snapshot cache initialized", zap.String("type", cfg.Cache.Type))
	}

	// Initialize CVR store
	opts := store.Options{
		Cache:            cache,
		CacheTTL:         cfg.Cache.TTL,
		CatchupBatchSize: cfg.CVR.CatchupBatchSize,
		Metrics:          m,
	}
	var cvrStore *store.SQLCVRStore
	switch cfg.Database.Driver {
	case "sqlite":
		cvrStore, err = store.NewSQLiteCVRStore(cfg.Database.SQLitePath, opts, logger)
	default:
		cvrStore, err = store.NewPostgresCVRStore(
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.Database,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.MaxConnections,
			cfg.Database.MinConnections,
			cfg.Database.ConnMaxLifetime,
			opts,
			logger,
		)
	}
	if err != nil {
		logger.Fatal("Failed to initialize CVR store", zap.Error(err))
	}
	defer cvrStore.Close()

	if err := cvrStore.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("Failed to create CVR schema", zap.Error(err))
	}
	logger.Info("CVR store initialized", zap.String("driver", cfg.Database.Driver))

	cvrService := service.NewCVRService(cvrStore, cfg.CVR.MaxFlushRetries, m, logger)

	// Health checks
	deps := map[string]health.Pinger{"store": cvrStore}
	if cache != nil {
		deps["cache"] = cache
	}
	healthCheck := health.NewHealthCheck(deps, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go healthCheck.Run(ctx)

	// Start metrics server
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			logger.Info("Starting metrics server", zap.String("address", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	// Start HTTP server
	srv := server.NewServer(cfg, cvrService, healthCheck, m, logger)
	srv.SetupRoutes()

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("Received signal", zap.String("signal", sig.String()))
	}

	// Graceful shutdown
	logger.Info("Shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}

	logger.Info("View syncer stopped")
}

// newLogger builds a production logger at the configured level. The console
// format is meant for local development.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
