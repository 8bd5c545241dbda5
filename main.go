package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/adapters/datasource"
	_ "github.com/fedsearch-inc/fedsearch-engine/pkg/adapters/datasource/mssql"
	_ "github.com/fedsearch-inc/fedsearch-engine/pkg/adapters/datasource/postgres"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/advisor"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/analytics"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/cache"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/config"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/crypto"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/database"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/handlers"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/middleware"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/repositories"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/search"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("metadata_store", cfg.Database.Host),
		zap.Bool("cache_enabled", cfg.Redis.Host != ""),
		zap.Bool("advisor_enabled", cfg.Advisor.IsConfigured()))

	// Metadata store and pending migrations.
	if err := database.Migrate(&cfg.Database, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	db, err := database.Connect(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to metadata store", zap.Error(err))
	}
	defer db.Close()

	// Cache gateway. A missing redis host disables caching; the engine then
	// runs uncached and rate limiting fails open.
	var gateway *cache.Gateway
	if cfg.Redis.Host != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		gateway = cache.NewGateway(client,
			time.Duration(cfg.Redis.ProbeIntervalSeconds)*time.Second, logger)
		defer func() { _ = gateway.Close() }()
	}

	cipher, err := crypto.NewCredentialCipher(cfg.CredentialsKey)
	if err != nil {
		logger.Fatal("Failed to initialize credential cipher", zap.Error(err))
	}

	pools := datasource.NewPoolManager(datasource.PoolManagerConfig{
		MaxConnsPerTenant:     cfg.Pool.MaxConnsPerTenant,
		AcquireTimeoutSeconds: cfg.Pool.AcquireTimeoutSeconds,
		ProbeTimeoutSeconds:   cfg.Pool.ProbeTimeoutSeconds,
	}, logger)
	defer pools.CloseAll()

	connSvc := services.NewConnectionService(
		repositories.NewConnectionRepository(db), cipher, pools, logger)
	restored := connSvc.RestoreAll(ctx)
	logger.Info("Tenant connections restored", zap.Int("count", restored))

	var sink analytics.AnalyticsSink = analytics.NopSink{}
	var popular handlers.PopularQuerySource
	var probe handlers.CacheProbe
	var limiter middleware.Limiter
	if gateway != nil {
		sink = analytics.NewCacheSink(gateway, logger)
		popular = gateway
		probe = gateway
		limiter = gateway
	}

	orchestrator := search.NewOrchestrator(
		pools, gateway, advisor.NewOpenAIAdvisor(cfg.Advisor, logger), sink,
		cfg.Search, logger)

	// API routes share the per-requester rate limit; health endpoints stay
	// outside it.
	apiMux := http.NewServeMux()
	handlers.NewConnectionHandler(connSvc, logger).RegisterRoutes(apiMux)
	handlers.NewSearchHandler(orchestrator, popular, logger).RegisterRoutes(apiMux)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, probe, logger).RegisterRoutes(mux)
	mux.Handle("/api/", middleware.RateLimit(limiter,
		cfg.Search.RateLimitPerWindow,
		time.Duration(cfg.Search.RateLimitWindowSeconds)*time.Second,
		logger)(apiMux))

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting fedsearch-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown incomplete", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "test" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
