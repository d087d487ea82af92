// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"storefront-service/internal/config"
	"storefront-service/internal/db"
	accountHandler "storefront-service/internal/handlers/account"
	authHandler "storefront-service/internal/handlers/auth"
	wsHandler "storefront-service/internal/handlers/websocket"
	"storefront-service/internal/metrics"
	"storefront-service/internal/middleware"
	"storefront-service/internal/pkg/jwt"
	"storefront-service/internal/pkg/session"
	authUsecase "storefront-service/internal/service/auth"
	"storefront-service/internal/websocket"
	wsHandlers "storefront-service/internal/websocket/handler"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	logger *zap.Logger

	httpServer *http.Server
	backend    *Backend
	redis      *redis.Client
	stopHub    context.CancelFunc
}

func NewServer(cfg config.AppConfig, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Start wires every dependency and serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	ctx := context.Background()

	// ----- Metrics -----
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(registry)

	// ----- Storage -----
	backend, err := NewBackend(ctx, s.cfg, s.logger, recorder)
	if err != nil {
		return err
	}
	s.backend = backend

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Address:  s.cfg.RedisAddr,
		Password: s.cfg.RedisPass,
		DB:       s.cfg.RedisDB,
		PoolSize: 10,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	s.redis = redisClient
	s.logger.Info("connected to redis", zap.String("addr", s.cfg.RedisAddr))

	// ----- JWT Manager -----
	jwtManager, err := jwt.LoadAndBuild(s.cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT manager: %w", err)
	}

	// ----- Session Manager, Rate Limiter & Event Bus -----
	sessionManager := session.NewManager(redisClient, s.logger)
	rateLimiter := session.NewRateLimiter(redisClient)
	eventBus := session.NewEventBus(redisClient, s.logger)

	// ----- Services -----
	authService := authUsecase.NewAuthService(
		backend.Credentials,
		backend.Roles,
		backend.Profiles,
		jwtManager,
		sessionManager,
		rateLimiter,
		eventBus,
		s.logger,
	)

	if s.cfg.AdminEmail != "" {
		adminCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := authService.EnsureAdminExists(adminCtx, s.cfg.AdminEmail, s.cfg.AdminPassword, s.cfg.AdminName); err != nil {
			// Don't fail startup, just log the error
			s.logger.Error("failed to initialize admin account", zap.Error(err))
		}
		cancel()
	}

	// ----- WebSocket Hub -----
	hub := websocket.NewHub(s.logger)
	hub.RegisterHandler(wsHandlers.NewReconcileHandler(
		backend.Repairer, rateLimiter, s.cfg.RepairLimit, s.cfg.RepairWindow, s.logger,
	))
	hubCtx, stopHub := context.WithCancel(ctx)
	s.stopHub = stopHub
	go hub.Run(hubCtx)

	// ----- Handlers -----
	handlers := &Handlers{
		AuthHandler: authHandler.NewAuthHandler(authService, s.logger),
		AccountHandler: accountHandler.NewAccountHandler(
			backend.Repairer, backend.Resolver, rateLimiter, s.cfg.RepairLimit, s.cfg.RepairWindow, s.logger,
		),
		WSHandler: wsHandler.NewWebSocketHandler(
			hub, authService, authService, eventBus, backend.Resolver,
			s.cfg.RoleFetch, s.cfg.CORSOrigins, recorder, s.logger,
		),
		AuthMiddleware: middleware.NewAuthMiddleware(authService, backend.Resolver),
		Metrics:        metrics.Handler(registry),
	}

	if !s.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		middleware.Recovery(s.logger),
		middleware.RequestLogger(s.logger),
		middleware.CORS(s.cfg.CORSOrigins),
	)
	SetupRouter(engine, handlers)

	// ----- Start HTTP -----
	s.httpServer = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("server running",
		zap.String("addr", s.cfg.HTTPAddr),
		zap.String("storage", s.cfg.StorageDriver))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains HTTP, closes every websocket connection and releases
// storage and Redis.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.stopHub != nil {
		s.stopHub()
	}
	if s.redis != nil {
		if cerr := s.redis.Close(); cerr != nil {
			s.logger.Warn("failed to close redis", zap.Error(cerr))
		}
	}
	if s.backend != nil {
		s.backend.Close()
	}
	return err
}
