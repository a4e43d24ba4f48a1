package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Alexander-D-Karpov/huddle/internal/audit"
	"github.com/Alexander-D-Karpov/huddle/internal/auth/interceptor"
	"github.com/Alexander-D-Karpov/huddle/internal/auth/jwt"
	"github.com/Alexander-D-Karpov/huddle/internal/chat"
	"github.com/Alexander-D-Karpov/huddle/internal/circuitbreaker"
	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
	"github.com/Alexander-D-Karpov/huddle/internal/common/netinfo"
	"github.com/Alexander-D-Karpov/huddle/internal/events"
	"github.com/Alexander-D-Karpov/huddle/internal/gateway"
	"github.com/Alexander-D-Karpov/huddle/internal/infra"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/cache"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/db"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/migrations"
	"github.com/Alexander-D-Karpov/huddle/internal/membership"
	"github.com/Alexander-D-Karpov/huddle/internal/messages"
	"github.com/Alexander-D-Karpov/huddle/internal/observability"
	"github.com/Alexander-D-Karpov/huddle/internal/ratelimit"
	"github.com/Alexander-D-Karpov/huddle/internal/retry"
	"github.com/Alexander-D-Karpov/huddle/internal/storage"
	"github.com/Alexander-D-Karpov/huddle/internal/stream"
	"github.com/Alexander-D-Karpov/huddle/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.Init(cfg.Logging,
		zap.String("service", "huddle-api"),
		zap.Int64("worker_id", cfg.Server.WorkerID),
	)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting huddle-api",
		zap.String("version", version.Full()),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("connected to database")

	applied, err := migrations.Run(ctx, database.Pool)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("migrations applied", zap.Ints("versions", applied))

	var cacheClient *cache.Cache
	if cfg.Redis.Enabled {
		cacheClient, err = connectRedis(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing on a single instance", zap.Error(err))
		} else {
			defer func() {
				if err := cacheClient.Close(); err != nil {
					logger.Error("failed to close cache", zap.Error(err))
				}
			}()
			logger.Info("connected to Redis")
		}
	}

	metrics := observability.NewMetrics(logger)

	poolMonitor := db.NewPoolMonitor(database.Pool, logger, metrics, 30*time.Second)
	poolMonitor.Start(ctx)
	defer poolMonitor.Stop()

	ids, err := infra.NewSnowflakeGenerator(cfg.Server.WorkerID)
	if err != nil {
		return fmt.Errorf("create id generator: %w", err)
	}

	oracle := membership.NewOracle(membership.NewRepository(database.Pool), logger)

	hub := events.NewHub(oracle, cfg.Fanout.QueueSize, metrics, logger)
	if cacheClient != nil {
		bridge := events.NewRedisBridge(cacheClient, cfg.Redis.FanoutChannel, hub, logger)
		hub.SetRelay(bridge)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error("event bridge stopped", zap.Error(err))
			}
		}()
	}

	uploader, localFiles, err := newUploader(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	storageBreaker := circuitbreaker.New(cfg.Storage.BreakerFailures, cfg.Storage.BreakerTimeout)
	guarded := storage.NewGuarded(uploader, cfg.Storage.Backend, storageBreaker, metrics, logger)

	limits := chat.Limits{
		MaxFileSize:     cfg.Storage.MaxFileSize,
		MaxFilesPerSend: cfg.Storage.MaxFilesPerSend,
	}
	chatService := chat.NewService(
		messages.NewRepository(database.Pool, ids),
		oracle,
		guarded,
		hub,
		audit.NewLogger(logger),
		limits,
	)

	var counter ratelimit.Counter
	if cacheClient != nil {
		counter = cacheClient
	}
	limiter := ratelimit.NewLimiter(counter, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, cfg.RateLimit.Enabled, logger)
	defer limiter.Close()

	deps := gateway.Deps{
		Auth:    interceptor.NewAuthInterceptor(jwt.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)),
		Limiter: limiter,
		Metrics: metrics,
		Routes:  []gateway.Routes{chat.NewHandler(chatService, limits)},
		Stream:  stream.NewHandler(hub, cfg.Fanout, cfg.Server.AllowedOrigins),
	}
	if localFiles != nil {
		deps.Files = storage.NewHandler(localFiles, logger)
	}
	httpGateway := gateway.New(cfg.Server, deps, logger)

	healthChecker := observability.NewHealthChecker(logger, version.API())
	healthChecker.RegisterCheck("database", observability.PingCheck(database.Health))
	healthChecker.RegisterCheck("storage", observability.BreakerCheck(storageBreaker))
	if cacheClient != nil {
		healthChecker.RegisterCheck("redis", observability.OptionalPingCheck(cacheClient.Ping))
	}
	healthChecker.RegisterStat("stream_connections", hub.Connections)

	grpcServer := grpc.NewServer()
	grpcHealth := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, grpcHealth)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("create listener: %w", err)
	}

	errChan := make(chan error, 4)

	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			errChan <- fmt.Errorf("serve grpc health: %w", err)
		}
	}()

	go func() {
		if err := metrics.Start(ctx, cfg.Server.MetricsPort); err != nil {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	go func() {
		if err := healthChecker.Start(ctx, cfg.Server.HealthPort); err != nil {
			errChan <- fmt.Errorf("health server: %w", err)
		}
	}()

	go func() {
		if err := httpGateway.Start(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()

	go watchDatabase(ctx, database, grpcHealth, logger)

	netinfo.PrintAccessBanner(os.Stdout,
		netinfo.ComputeAdvertised(cfg.Server.PublicHost, cfg.Server.Host, cfg.Server.Port),
		"huddle-api "+version.Full(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("shutting down gracefully...")
	grpcHealth.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Warn("event hub shutdown incomplete", zap.Error(err))
	}

	cancel()
	grpcServer.GracefulStop()
	logger.Info("shutdown complete")

	return nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*cache.Cache, error) {
	policy := retry.DefaultConfig()
	policy.MaxAttempts = 3
	policy.OnRetry = func(attempt int, err error) {
		logger.Warn("redis not ready, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}

	var client *cache.Cache
	err := retry.WithBackoff(ctx, policy, func(ctx context.Context) error {
		c, err := cache.New(ctx, cfg)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	return client, err
}

// newUploader builds the configured blob backend. The local backend is also
// returned so its files can be served.
func newUploader(cfg config.StorageConfig, logger *zap.Logger) (storage.Uploader, *storage.Local, error) {
	switch cfg.Backend {
	case "s3":
		return storage.NewS3(cfg.S3, logger), nil, nil
	default:
		local, err := storage.NewLocal(cfg.Path, cfg.URL, logger)
		if err != nil {
			return nil, nil, err
		}
		return local, local, nil
	}
}

// watchDatabase mirrors database reachability into the gRPC health service.
func watchDatabase(ctx context.Context, database *db.DB, hs *health.Server, logger *zap.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	serving := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := healthpb.HealthCheckResponse_SERVING
		if err := database.Health(ctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if serving != status {
				logger.Warn("database unreachable", zap.Error(err))
			}
		}
		if serving != status {
			hs.SetServingStatus("", status)
			serving = status
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
