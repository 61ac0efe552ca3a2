package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"authservice/internal/config"
	"authservice/internal/crypto"
	"authservice/internal/logging"
	"authservice/internal/metrics"
	"authservice/internal/repository"
	"authservice/internal/server"
	"authservice/internal/service"
	"authservice/internal/token"
)

func main() {
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yml"
	}
	cfgPath := flag.String("config", defaultConfig, "path to the YAML config file")
	purgeOnce := flag.Bool("purge-once", false, "purge expired revocations once and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZap(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Database connection
	db, err := repository.NewDB(cfg.Database.Driver, cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	if err := repository.MigrateDB(db, logger); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	revocations, closeStore, err := newRevocationStore(ctx, cfg, db, logger)
	if err != nil {
		logger.Fatal("Failed to initialise revocation store", zap.Error(err))
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db.DB, cfg.Database.Driver),
	)
	m := metrics.NewMetrics(registry)

	sweeper := service.NewSweeper(revocations, cfg.Revocation.PurgeSchedule, m, logger)
	if *purgeOnce {
		removed, err := sweeper.Purge(ctx)
		if err != nil {
			logger.Fatal("Revocation purge failed", zap.Error(err))
		}
		logger.Info("Revocation purge finished", zap.Int64("removed", removed))
		return
	}

	codec, err := token.NewCodec(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	if err != nil {
		logger.Fatal("Failed to initialise token codec", zap.Error(err))
	}
	hasher := crypto.NewPasswordHasher(cfg.Auth.Argon2)

	users := repository.NewUserRepository(db, logger)
	authService, err := service.NewAuthService(users, revocations, codec, hasher, m, logger.Named("auth"))
	if err != nil {
		logger.Fatal("Failed to initialise auth service", zap.Error(err))
	}

	if err := sweeper.Start(); err != nil {
		logger.Fatal("Failed to schedule revocation purge", zap.Error(err))
	}

	srv := server.NewServer(server.Dependencies{
		Auth:        authService,
		Users:       service.NewUserService(users, logger.Named("users")),
		Authorizer:  authService,
		Metrics:     m,
		Gatherer:    registry,
		Log:         logging.NewLogrus("authservice", cfg.Log.Level, cfg.Log.Development),
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Run(":" + cfg.Server.Port)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	sweeper.Stop(shutdownCtx)

	logger.Info("Application stopped.")
}

// newRevocationStore picks the configured backend. The returned func
// releases anything the store opened.
func newRevocationStore(ctx context.Context, cfg *config.Config, db *sqlx.DB, logger *zap.Logger) (repository.RevocationStore, func(), error) {
	switch cfg.Revocation.Store {
	case config.RevocationStoreRedis:
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		client, err := repository.NewRedisClient(pingCtx, cfg.Revocation.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using Redis revocation store")
		return repository.NewRedisRevocationStore(client, cfg.Revocation.KeyPrefix, logger), func() { _ = client.Close() }, nil
	default:
		logger.Info("Using SQL revocation store")
		return repository.NewSQLRevocationStore(db, logger), func() {}, nil
	}
}
