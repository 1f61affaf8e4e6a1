package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/materialshub/materials-hub/pkg/audit"
	"github.com/materialshub/materials-hub/pkg/auth"
	"github.com/materialshub/materials-hub/pkg/config"
	"github.com/materialshub/materials-hub/pkg/database"
	"github.com/materialshub/materials-hub/pkg/handlers"
	"github.com/materialshub/materials-hub/pkg/logging"
	"github.com/materialshub/materials-hub/pkg/middleware"
	"github.com/materialshub/materials-hub/pkg/repositories"
	"github.com/materialshub/materials-hub/pkg/retry"
	"github.com/materialshub/materials-hub/pkg/services"
	"github.com/materialshub/materials-hub/pkg/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("redis_host", cfg.Redis.Host),
		zap.String("storage_dir", cfg.Storage.Dir),
		zap.Int64("upload_max_bytes", cfg.Upload.MaxBytes),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres may still be starting when the server boots (docker compose).
	db, err := retry.DoWithResult(ctx, retry.StartupConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	if err := database.RunMigrations(db, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	var redisClient *redis.Client
	err = retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		var connErr error
		redisClient, connErr = database.NewRedisClient(ctx, &cfg.Redis)
		return connErr
	})
	if err != nil {
		// The statistics cache is optional; run without it.
		logger.Warn("Redis unavailable, statistics cache disabled", zap.String("error", logging.SanitizeError(err)))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	statsCache := services.NewRedisStatisticsCache(redisClient, cfg.Redis.StatsTTL, logger)

	store, err := storage.NewFileStore(cfg.Storage.Dir)
	if err != nil {
		logger.Fatal("Failed to initialize file storage", zap.Error(err))
	}

	// Repositories
	datasetRepo := repositories.NewDatasetRepository(db)
	recordRepo := repositories.NewMaterialRecordRepository(db)
	versionRepo := repositories.NewDatasetVersionRepository(db)

	// Services
	datasetService := services.NewDatasetService(db, datasetRepo, recordRepo, versionRepo, store, statsCache, logger)
	ingestionService := services.NewIngestionService(db, datasetRepo, recordRepo, versionRepo, store, statsCache, logger)
	versionService := services.NewVersionService(datasetRepo, versionRepo, store, logger)

	sessionStore := auth.NewSessionStore(cfg.Session.Secret, cfg.Session.MaxAge, cfg.Session.Secure)
	if sessionStore.Ephemeral() {
		logger.Warn("SESSION_SECRET is not set; using a random per-process key, sessions will not survive restarts")
	}
	authMiddleware := auth.NewMiddleware(sessionStore, logger)
	auditor := audit.NewSecurityAuditor(logger)

	uploadLimiter := middleware.NewRateLimiter(cfg.Upload.RatePerMinute, cfg.Upload.Burst, logger)
	uploadLimiter.StartCleanup(ctx, 10*time.Minute)

	mux := http.NewServeMux()

	// Register handlers
	handlers.NewHealthHandler(cfg, db.Pool, logger).RegisterRoutes(mux)
	handlers.NewDatasetsHandler(datasetService, auditor, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewRecordsHandler(datasetService, logger).RegisterRoutes(mux)
	handlers.NewUploadHandler(ingestionService, datasetService, auditor, uploadLimiter, cfg.Upload.MaxBytes, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewVersionsHandler(versionService, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(authMiddleware.Session(mux)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting materials-hub",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
