package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"charter/api/internal/app"
	"charter/api/internal/archive"
	"charter/api/internal/authpw"
	"charter/api/internal/catalog"
	"charter/api/internal/config"
	"charter/api/internal/email"
	"charter/api/internal/export"
	"charter/api/internal/history"
	"charter/api/internal/logging"
	"charter/api/internal/projection"
	"charter/api/internal/search"
	"charter/api/internal/session"
	"charter/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		logger.Fatal("failed to create history dir", zap.String("dir", cfg.HistoryDir), zap.Error(err))
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var primary search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		primary = meiliClient
	}
	searchService := search.NewService(primary, pgfts, logger)
	go func() {
		reindexCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		searchService.ReindexAll(reindexCtx, pgfts)
	}()

	var (
		sessions    *session.RedisStore
		redisClient *redis.Client
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		sessions, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer sessions.Close()
		redisClient = sessions.Client()
		logger.Info("using redis for sessions and completion projection")
	} else {
		logger.Info("using postgres for sessions; completion projection disabled")
	}

	exportArchive, err := archive.New(archive.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	}, logger)
	if err != nil {
		logger.Warn("export archive disabled", zap.Error(err))
		exportArchive = nil
	}
	if exportArchive != nil {
		if err := exportArchive.EnsureBucket(ctx); err != nil {
			logger.Warn("export archive bucket unavailable", zap.String("bucket", cfg.MinioBucket), zap.Error(err))
		}
	}

	deps := app.Dependencies{
		Store:   dataStore,
		Catalog: catalog.Default(),
		Auth:    authpw.NewService(dataStore, cfg.AdminEmail),
		Email: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
		Projection: projection.New(redisClient, logger),
		Exporter:   export.NewService(logger),
		History:    history.New(cfg.HistoryDir),
		Archive:    exportArchive,
		Search:     searchService,
		Logger:     logger,
	}
	if sessions != nil {
		deps.Sessions = sessions
	}
	service := app.New(cfg, deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("charter api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	// Pending autosaves are dropped; the background sends and archives finish.
	service.Close()
}
