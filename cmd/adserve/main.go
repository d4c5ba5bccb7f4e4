package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/presslane/adserve/internal/config"
	"github.com/presslane/adserve/internal/database"
	"github.com/presslane/adserve/internal/engine"
	"github.com/presslane/adserve/internal/geo"
	"github.com/presslane/adserve/internal/httpserver"
	"github.com/presslane/adserve/internal/metrics"
	"github.com/presslane/adserve/internal/models"
	"github.com/presslane/adserve/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg)
	defer logger.Sync()

	logger.Info("starting adserve",
		zap.String("env", cfg.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx := context.Background()
	m := metrics.NewMetrics("adserve")

	// Storage: Postgres when reachable, in-memory otherwise so the serve
	// path stays up in degraded environments.
	var (
		campaignRepo storage.CampaignRepo
		eventStore   storage.EventStore
	)
	db, err := database.NewPostgresDB(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Warn("PostgreSQL not available, using in-memory storage", zap.Error(err))
		campaignRepo = storage.NewInMemoryCampaignRepo()
		eventStore = storage.NewInMemoryEventStore()
	} else {
		defer db.Close()
		if cfg.Postgres.RunMigrations {
			if err := database.Migrate(cfg.Postgres.DSN()); err != nil {
				logger.Fatal("migrations failed", zap.Error(err))
			}
			logger.Info("migrations applied")
		}
		campaignRepo = storage.NewPostgresCampaignRepo(db.Pool)
		eventStore = storage.NewPostgresEventStore(db.Pool)
	}

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(m),
	}

	// Redis accelerates frequency capping; without it the guard counts
	// event rows directly.
	redisDB, err := database.NewRedisDB(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis not available, frequency caps use the event store", zap.Error(err))
	} else {
		defer redisDB.Close()
		engineOpts = append(engineOpts, engine.WithRedisFrequency(
			engine.NewRedisFrequencyStore(redisDB.Client, logger),
		))
	}

	eng := engine.NewEngine(campaignRepo, eventStore, engineOpts...)

	var geoResolver *geo.Resolver
	if cfg.Geo.Enabled {
		provider, err := geo.NewMaxMindProvider(cfg.Geo.DatabasePath)
		if err != nil {
			logger.Warn("geo database unavailable, country resolution disabled", zap.Error(err))
		} else {
			geoResolver = geo.NewResolver(provider, 10000, time.Hour)
			defer geoResolver.Close()
		}
	}

	handler := httpserver.NewServer(&httpserver.Dependencies{
		Engine:  eng,
		Geo:     geoResolver,
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go retentionSweeper(sweepCtx, eventStore, cfg.Retention.SweepInterval, logger, m)

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// retentionSweeper periodically expires events past the retention window.
// This is the storage layer's only background work.
func retentionSweeper(ctx context.Context, store storage.EventStore, interval time.Duration, logger *zap.Logger, m *metrics.Metrics) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-models.EventRetention)
			removed, err := store.PurgeExpired(ctx, cutoff)
			if err != nil {
				logger.Error("retention sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				m.PurgedEvents.Add(float64(removed))
				logger.Info("retention sweep", zap.Int64("removed", removed))
			}
		}
	}
}

func setupLogger(cfg *config.Config) *zap.Logger {
	var zapCfg zap.Config
	if cfg.IsDevelopment() {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Log.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
