package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"catalog-showcase/internal/config"
	custommiddleware "catalog-showcase/internal/middleware"
	"catalog-showcase/internal/repository"
	"catalog-showcase/internal/service"
	"catalog-showcase/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HealthCheck reports the state of one backing service
type HealthCheck func(ctx context.Context) map[string]string

// Deps are the components the HTTP server is composed from
type Deps struct {
	Repository repository.CatalogRepository
	Service    service.CatalogService
	Resolver   transport.ImageResolver

	// Redis backs the admin rate limiter when rate limiting is enabled
	Redis *redis.Client

	// Health contributes named entries to GET /health
	Health map[string]HealthCheck

	// Closers run in order when the server is closed
	Closers []func() error
}

type Server struct {
	*http.Server
	config *config.Config
	logger *zap.Logger
	deps   Deps
}

func NewServer(cfg *config.Config, logger *zap.Logger, deps Deps) *Server {
	router := chi.NewRouter()

	router.Use(custommiddleware.DefaultMiddlewareStack()...)
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.CORSMiddleware(cfg.CORS.AllowedOrigins, !cfg.IsProduction()))

	router.Get("/health", healthHandler(cfg, deps))

	admin := []func(http.Handler) http.Handler{
		custommiddleware.AuthMiddleware(cfg.JWT.Secret, logger),
		custommiddleware.RequireAdmin(logger),
	}
	if cfg.RateLimit.Enabled && deps.Redis != nil {
		admin = append(admin, custommiddleware.RateLimitMiddleware(deps.Redis, custommiddleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.Requests,
			Window:            cfg.RateLimit.Window,
			KeyPrefix:         "ratelimit:admin",
		}, logger))
	}

	catalogHandler := transport.NewCatalogHandler(deps.Service, cfg.Assets.MaxUpload, logger)
	catalogHandler.RegisterRoutes(router, admin...)

	if deps.Resolver != nil {
		transport.NewImageHandler(deps.Resolver, logger).RegisterRoutes(router)
	}

	return &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      router,
			IdleTimeout:  time.Minute,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
		deps:   deps,
	}
}

func healthHandler(cfg *config.Config, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		body := map[string]interface{}{
			"status":   "ok",
			"backend":  cfg.Store.Backend,
			"catalogs": len(deps.Repository.GetAllCatalogs()),
		}
		status := http.StatusOK
		for name, check := range deps.Health {
			result := check(ctx)
			if result["status"] != "up" {
				body["status"] = "degraded"
				status = http.StatusServiceUnavailable
			}
			body[name] = result
		}

		custommiddleware.RespondWithJSON(w, status, body)
	}
}

// Close disposes of the repository and then runs the registered closers
func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if s.deps.Repository != nil {
		s.deps.Repository.Dispose()
	}

	for _, closeFn := range s.deps.Closers {
		if err := closeFn(); err != nil {
			s.logger.Error("Failed to close resource", zap.Error(err))
		}
	}

	s.logger.Sync()
	return nil
}
