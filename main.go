package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"civicreport/config"
	"civicreport/middlewares"
	"civicreport/routes"
	"civicreport/services"
	"civicreport/stores"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var (
		users  stores.UserStore
		issues stores.IssueStore
	)
	switch cfg.StoreDriver {
	case config.StoreMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		users, issues = stores.NewMemoryUsers(), stores.NewMemoryIssues()
	default:
		client, db, err := config.ConnectDB(ctx, cfg)
		if err != nil {
			return err
		}
		defer func(client *mongo.Client) {
			if err := config.DisconnectDB(client); err != nil {
				logger.Error("failed to disconnect MongoDB", "error", err)
			}
		}(client)
		if err := stores.EnsureIndexes(ctx, db); err != nil {
			return err
		}
		users, issues = stores.NewMongoUsers(db), stores.NewMongoIssues(db)
	}

	photos, err := openPhotoStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	deps := routes.Deps{
		Auth: services.NewAuthenticator(users, services.AuthConfig{
			Secret:      []byte(cfg.JWTSecret),
			TokenTTL:    cfg.TokenTTL,
			AdminEmails: cfg.AdminEmails,
		}),
		Issues: services.NewIssueService(issues, users, photos, services.IssueServiceConfig{
			Lifecycle:     services.NewLifecycle(cfg.StrictTransitions),
			MaxPhotoBytes: cfg.MaxUploadBytes,
			PublicPhotos:  cfg.PublicUploads,
			Logger:        logger,
		}),
		Logger:        logger,
		MaxPhotoBytes: cfg.MaxUploadBytes,
		PublicUploads: cfg.PublicUploads,
		CORSOrigins:   cfg.CORSOrigins,
	}

	if cfg.Redis.Address != "" && cfg.Redis.IssueLimit > 0 {
		rdb, err := config.ConnectRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer func(rdb *redis.Client) {
			if err := rdb.Close(); err != nil {
				logger.Error("failed to close Redis", "error", err)
			}
		}(rdb)
		deps.Limiter = middlewares.NewRedisCounter(rdb)
		deps.LimiterPrefix = cfg.Redis.QueuePrefix
		deps.IssueLimit = cfg.Redis.IssueLimit
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes.Setup(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "store", cfg.StoreDriver, "photos", cfg.PhotoStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openPhotoStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (stores.PhotoStore, error) {
	if cfg.PhotoStore == config.PhotosMinio {
		m, err := stores.NewMinioPhotos(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL)
		if err != nil {
			return nil, err
		}
		created, err := m.EnsureBucket(ctx)
		if err != nil {
			return nil, err
		}
		if created {
			logger.Info("created photo bucket", "bucket", cfg.Minio.Bucket)
		}
		return m, nil
	}
	return stores.NewDiskPhotos(cfg.UploadDir)
}
