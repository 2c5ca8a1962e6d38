package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"catalog-showcase/internal/assets"
	"catalog-showcase/internal/config"
	"catalog-showcase/internal/database"
	"catalog-showcase/internal/imageres"
	"catalog-showcase/internal/logger"
	"catalog-showcase/internal/repository"
	"catalog-showcase/internal/server"
	"catalog-showcase/internal/service"
	"catalog-showcase/internal/storage"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *server.Server, logger *zap.Logger, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	logger.Info("Shutting down gracefully, press Ctrl+C again to force")
	stop() // Allow Ctrl+C to force shutdown

	// Open event streams are cut once the deadline passes
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := apiServer.Close(); err != nil {
		logger.Error("Error closing server resources", zap.Error(err))
	}

	logger.Info("Server exiting")

	done <- true
}

// backend is the repository chosen by STORE_BACKEND plus what it holds open
type backend struct {
	repo    repository.CatalogRepository
	redis   *redis.Client
	health  map[string]server.HealthCheck
	closers []func() error
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func redisHealth(client *redis.Client) server.HealthCheck {
	return func(ctx context.Context) map[string]string {
		if err := client.Ping(ctx).Err(); err != nil {
			return map[string]string{"status": "down", "error": err.Error()}
		}
		return map[string]string{"status": "up"}
	}
}

func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backend, error) {
	switch cfg.Store.Backend {
	case config.BackendLocal:
		blobs, err := storage.NewBadgerBlobStore(cfg.Store.LocalPath)
		if err != nil {
			return nil, err
		}

		seed, err := repository.LoadSeed(cfg.Store.SeedFile)
		if err != nil {
			blobs.Close()
			return nil, err
		}

		return &backend{
			repo:    repository.NewLocalRepository(blobs, cfg.Store.LocalKey, seed, log),
			closers: []func() error{blobs.Close},
		}, nil

	case config.BackendRedis:
		client := newRedisClient(cfg.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		docs := storage.NewRedisDocumentStore(client, cfg.Store.RedisPrefix, log)

		return &backend{
			repo:    repository.NewRemoteRepository(docs, log),
			redis:   client,
			health:  map[string]server.HealthCheck{"redis": redisHealth(client)},
			closers: []func() error{docs.Close},
		}, nil

	case config.BackendPostgres:
		pool, err := database.New(ctx, database.DSN(cfg.Database))
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(database.SQLDB(pool), log); err != nil {
			pool.Close()
			return nil, err
		}
		docs := storage.NewPostgresDocumentStore(pool, log)

		return &backend{
			repo: repository.NewRemoteRepository(docs, log),
			health: map[string]server.HealthCheck{
				"database": func(ctx context.Context) map[string]string {
					return database.Health(ctx, pool)
				},
			},
			closers: []func() error{docs.Close},
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting catalog showcase API",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("backend", cfg.Store.Backend),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	be, err := openBackend(startCtx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open catalog backend", zap.Error(err))
	}

	if err := be.repo.Init(startCtx); err != nil {
		log.Fatal("Failed to initialize catalog repository", zap.Error(err))
	}
	log.Info("Catalog repository ready", zap.Int("catalogs", len(be.repo.GetAllCatalogs())))

	var assetStore assets.Store
	if cfg.Assets.Enabled {
		minioStore, err := assets.NewMinioStore(cfg.Assets, log)
		if err != nil {
			log.Fatal("Failed to create asset store", zap.Error(err))
		}
		if err := minioStore.EnsureBucket(startCtx); err != nil {
			log.Fatal("Failed to prepare asset bucket", zap.Error(err))
		}
		assetStore = minioStore
	}

	// The rate limiter reuses the backend's client when there is one
	rateLimitRedis := be.redis
	if cfg.RateLimit.Enabled && rateLimitRedis == nil {
		rateLimitRedis = newRedisClient(cfg.Redis)
		be.closers = append(be.closers, rateLimitRedis.Close)
		if be.health == nil {
			be.health = map[string]server.HealthCheck{}
		}
		be.health["redis"] = redisHealth(rateLimitRedis)
	}

	prober := imageres.NewProber(imageres.NewHTTPClient(), cfg.Images.FallbackURL, log)

	srv := server.NewServer(cfg, log, server.Deps{
		Repository: be.repo,
		Service:    service.NewCatalogService(be.repo, assetStore, log),
		Resolver:   prober,
		Redis:      rateLimitRedis,
		Health:     be.health,
		Closers:    be.closers,
	})

	done := make(chan bool, 1)

	go gracefulShutdown(srv, log, done)

	log.Info("Server listening", zap.String("addr", srv.Addr))

	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal("HTTP server error", zap.Error(err))
	}

	<-done
	log.Info("Graceful shutdown complete")
}
