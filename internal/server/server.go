// Package server собирает HTTP сервер синхронизации: хранилище, кеш,
// реестр устройств, резолвер конфликтов, исполнитель пакетов и обработчики.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/tripsync/internal/cache"
	"github.com/iudanet/tripsync/internal/config"
	"github.com/iudanet/tripsync/internal/conflict"
	"github.com/iudanet/tripsync/internal/delta"
	"github.com/iudanet/tripsync/internal/device"
	"github.com/iudanet/tripsync/internal/engine"
	"github.com/iudanet/tripsync/internal/entity"
	"github.com/iudanet/tripsync/internal/server/handlers"
	"github.com/iudanet/tripsync/internal/server/middleware"
	"github.com/iudanet/tripsync/internal/server/storage/sqlite"
)

// HealthPath путь проверки живости, не пишется в access log
const HealthPath = "/api/v1/health"

// Server HTTP сервер синхронизации
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *sqlite.Storage
	cache      cache.Cache
	limiter    *middleware.RateLimiter
	httpServer *http.Server
	handler    http.Handler
	retention  time.Duration
}

// New открывает хранилище и кеш и собирает обработчики.
// Вызывающий должен вызвать Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*Server, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}

	store, err := sqlite.New(ctx, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	c, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	entities := entity.DefaultRegistry()
	strategies, err := cfg.ConflictStrategies(entities.Types())
	if err != nil {
		_ = c.Close()
		_ = store.Close()
		return nil, err
	}

	devices := device.NewRegistry(store, c, logger, device.WithCacheTTL(cfg.Cache.TTL))
	resolver := conflict.NewResolver(store, devices, strategies, logger)
	applier := engine.NewStoreApplier(store, entities, resolver, logger)
	executor := engine.NewExecutor(applier, store, logger, engine.WithMaxInFlight(cfg.Sync.MaxInFlight))
	service := engine.NewService(executor, devices, cfg.Limits(), logger)
	producer := delta.NewProducer(store, entities.Types(), cfg.Sync.TombstoneRetention, logger)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		cache:     c,
		retention: cfg.Sync.TombstoneRetention,
	}
	if cfg.Server.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow)
	}

	jwtConfig := handlers.JWTConfig{Secret: []byte(cfg.Auth.JWTSecret)}
	s.handler = s.routes(
		jwtConfig,
		handlers.NewSyncHandler(logger, service, producer, cfg.Server.MaxBodyBytes),
		handlers.NewConflictHandler(logger, resolver),
		handlers.NewDeviceHandler(logger, devices),
		handlers.NewHealthHandler(logger, store, version),
	)

	logger.Info("Server initialized",
		"storage", cfg.Storage.Path,
		"cache", cfg.Cache.Backend,
		"entity_types", entities.Types(),
		"external_deps", cfg.Sync.ExternalDeps,
	)

	return s, nil
}

func (s *Server) routes(
	jwtConfig handlers.JWTConfig,
	syncHandler *handlers.SyncHandler,
	conflictHandler *handlers.ConflictHandler,
	deviceHandler *handlers.DeviceHandler,
	healthHandler *handlers.HealthHandler,
) http.Handler {
	auth := middleware.AuthMiddleware(s.logger, jwtConfig)

	batch := http.Handler(http.HandlerFunc(syncHandler.BatchSync))
	if s.limiter != nil {
		batch = s.limiter.Middleware(s.logger)(batch)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+HealthPath, healthHandler.Health)
	mux.Handle("POST /api/v1/sync/batch", auth(batch))
	mux.Handle("GET /api/v1/sync/incremental", auth(http.HandlerFunc(syncHandler.IncrementalSync)))
	mux.Handle("GET /api/v1/conflicts", auth(http.HandlerFunc(conflictHandler.List)))
	mux.Handle("POST /api/v1/conflicts/{id}/resolve", auth(http.HandlerFunc(conflictHandler.Resolve)))
	mux.Handle("GET /api/v1/devices", auth(http.HandlerFunc(deviceHandler.List)))
	mux.Handle("PUT /api/v1/devices/{id}", auth(http.HandlerFunc(deviceHandler.Update)))

	var h http.Handler = mux
	h = middleware.RecoveryMiddleware(s.logger)(h)
	h = middleware.LoggingWithSkip(s.logger, []string{HealthPath})(h)
	h = middleware.RequestID(h)
	return h
}

// Handler возвращает корневой обработчик со всеми middleware
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run слушает адрес из конфигурации до отмены ctx, затем
// завершает активные запросы в пределах ShutdownTimeout
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve обслуживает запросы на ln до отмены ctx
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.pruneLoop(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// pruneLoop периодически удаляет tombstone старше горизонта хранения
func (s *Server) pruneLoop(ctx context.Context) {
	interval := s.cfg.Sync.PruneInterval
	if interval <= 0 || s.retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PruneTombstones(ctx); err != nil {
				s.logger.Error("Failed to prune tombstones", "error", err)
			}
		}
	}
}

// PruneTombstones удаляет tombstone старше горизонта хранения
func (s *Server) PruneTombstones(ctx context.Context) (int64, error) {
	before := time.Now().Add(-s.retention)

	n, err := s.store.PruneTombstones(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Tombstones pruned", "count", n, "before", before)
	}
	return n, nil
}

// Close освобождает ресурсы в обратном порядке
func (s *Server) Close() error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return errors.Join(s.cache.Close(), s.store.Close())
}
