// Package app assembles a bridge service binary from its configuration.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/photo-bridge/internal/auth"
	"github.com/example/photo-bridge/internal/config"
	"github.com/example/photo-bridge/internal/gradio"
	"github.com/example/photo-bridge/internal/handlers"
	"github.com/example/photo-bridge/internal/health"
	"github.com/example/photo-bridge/internal/inference"
	"github.com/example/photo-bridge/internal/logging"
	"github.com/example/photo-bridge/internal/ratelimit"
	"github.com/example/photo-bridge/internal/repository"
	"github.com/example/photo-bridge/internal/usecase"
	"github.com/example/photo-bridge/web"
)

const connectTimeout = 2 * time.Minute

// ServiceFunc selects the service a binary runs.
type ServiceFunc func(cfg *config.Config) inference.Service

// Main loads configuration and runs the service until a shutdown signal.
// Any initialisation failure, including an unreachable hosted model, exits
// before the HTTP listener is opened.
func Main(pick ServiceFunc) {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := Run(cfg, pick(cfg), logger); err != nil {
		logger.Fatal("service stopped", zap.Error(err))
	}
}

// Run wires the service and serves HTTP until shutdown.
func Run(cfg *config.Config, svc inference.Service, logger *zap.Logger) error {
	logger = logger.With(zap.String("service", svc.Name))

	var healthSrv *health.Server
	if cfg.GRPCHealthAddr != "" {
		var err error
		healthSrv, err = health.Listen(cfg.GRPCHealthAddr, svc.Name, logger)
		if err != nil {
			return fmt.Errorf("grpc health listen: %w", err)
		}
		go func() {
			if err := healthSrv.Serve(); err != nil {
				logger.Error("grpc health server stopped", zap.Error(err))
			}
		}()
		defer healthSrv.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := gradio.Connect(ctx, svc.Space,
		gradio.WithToken(cfg.HFToken),
		gradio.WithDownloadDir(cfg.TempDir),
		gradio.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to initialize remote client", zap.String("space", svc.Space), zap.Error(err))
		return err
	}
	logger.Info("remote client initialized successfully", zap.String("space", svc.Space), zap.String("url", client.Root()))

	var logs *repository.RequestRepository
	if cfg.DatabaseDSN != "" {
		db, err := initDatabase(ctx, cfg.DatabaseDSN, logger)
		if err != nil {
			return err
		}
		logs = repository.NewRequestRepository(db, logger)
		if err := logs.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("auto migrate failed: %w", err)
		}
	}

	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		redisClient, err := initRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		limiter = ratelimit.NewLimiter(redisClient, svc.Name, cfg.RateLimitQPS)
	}

	uc := usecase.NewBridgeUseCase(svc, client, requestLogStore(logs), cfg.TempDir, logger)
	router := newRouter(cfg, uc, logs, limiter, logger)

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	if healthSrv != nil {
		healthSrv.SetServing(true)
	}
	logger.Info("bridge listening", zap.String("addr", cfg.Addr()), zap.String("route", svc.Route))
	return serveHTTPServer(server, cfg.ShutdownTimeout, logger, func() {
		if healthSrv != nil {
			healthSrv.SetServing(false)
		}
	})
}

func newRouter(cfg *config.Config, uc *usecase.BridgeUseCase, logs *repository.RequestRepository, limiter *ratelimit.Limiter, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		handlers.RequestIDMiddleware(),
		handlers.AccessLog(logger),
		handlers.Recovery(logger),
		handlers.CORS(),
	)

	opts := handlers.Options{
		Pages:   web.Pages,
		Metrics: promhttp.Handler(),
		Logger:  logger,
	}
	if limiter != nil {
		opts.RateLimit = ratelimit.Middleware(limiter, logger)
	}
	if cfg.JWTSecret != "" {
		opts.Auth = auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience)
	}
	if logs != nil {
		opts.Stats = logs
	}
	handlers.RegisterRoutes(router, uc, opts)
	return router
}

// requestLogStore avoids handing the use case a typed nil.
func requestLogStore(logs *repository.RequestRepository) usecase.RequestLogStore {
	if logs == nil {
		return nil
	}
	return logs
}

func initDatabase(ctx context.Context, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("request log enabled")
	return db, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}
