package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/streamline-studio/streamline/backend/go-services/handlers"
	"github.com/streamline-studio/streamline/backend/go-services/internal/config"
	"github.com/streamline-studio/streamline/backend/go-services/internal/database"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document/handler"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document/repository"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document/service"
	"github.com/streamline-studio/streamline/backend/go-services/internal/oidc"
	"github.com/streamline-studio/streamline/backend/go-services/internal/storage"
	"github.com/streamline-studio/streamline/backend/go-services/internal/tokens"
	"github.com/streamline-studio/streamline/backend/go-services/pkg/logger"
	"github.com/streamline-studio/streamline/backend/go-services/pkg/metrics"
	"github.com/streamline-studio/streamline/backend/go-services/pkg/middleware"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var startTime = time.Now()

// pinger reports whether a dependency is reachable.
type pinger func(ctx context.Context) error

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: storage=%s drafts=%s keycloak=%v redis=%v", cfg.Storage.Driver, cfg.Autosave.DraftDriver, cfg.Keycloak.URL != "", cfg.Redis.Addr() != "")

	ctx := context.Background()
	log := logger.L()

	var rdb *redis.Client
	if addr := cfg.Redis.Addr(); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v", addr, err)
		} else {
			logger.Infof("connected to Redis at %s", addr)
		}
		defer rdb.Close()
	}

	store, deps, cleanup, err := buildStore(ctx, cfg, log)
	if err != nil {
		logger.Fatalf("failed to initialise %s store: %v", cfg.Storage.Driver, err)
	}
	defer cleanup()
	if rdb != nil && cfg.RateLimit.Enabled && cfg.RateLimit.UseRedis {
		deps["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	verifier := buildVerifier(ctx, cfg)
	svc := service.New(store, service.WithLogger(log))

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r := newRouter(cfg, svc, verifier, rdb, deps)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("document service listening on %s (store=%s)", addr, store.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

// buildStore connects the configured document store. deps holds the
// readiness checks of everything the store depends on.
func buildStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, map[string]pinger, func(), error) {
	deps := map[string]pinger{}
	noop := func() {}

	switch cfg.Storage.Driver {
	case "mongo":
		client, err := connectMongo(ctx, cfg.MongoDB)
		if err != nil {
			return nil, nil, noop, err
		}
		cleanup := func() { _ = client.Disconnect(context.Background()) }
		if err := database.RequireTransactions(ctx, client); err != nil {
			cleanup()
			return nil, nil, noop, err
		}
		deps["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }

		var blobs repository.BlobStore
		if cfg.Storage.UseMinIO {
			mc := cfg.MinIO
			bs, err := storage.NewMinIOStorage(ctx, &mc)
			if err != nil {
				cleanup()
				return nil, nil, noop, err
			}
			blobs = bs
			deps["minio"] = bs.Ping
		}
		st, err := repository.NewMongoStore(ctx, client.Database(cfg.MongoDB.Database), blobs, cfg.Storage.InlineLimit, log)
		if err != nil {
			cleanup()
			return nil, nil, noop, err
		}
		return st, deps, cleanup, nil

	case "postgres":
		pool, err := database.ConnectPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.Timeout)
		if err != nil {
			return nil, nil, noop, err
		}
		if err := database.MigratePostgres(pool); err != nil {
			pool.Close()
			return nil, nil, noop, err
		}
		deps["postgres"] = pool.Ping
		return repository.NewPostgresStore(pool, log), deps, pool.Close, nil
	}

	logger.Warnf("using in-memory document store; data is lost on restart")
	return repository.NewMemoryStore(), deps, noop, nil
}

// connectMongo retries with backoff to tolerate startup races.
func connectMongo(ctx context.Context, cfg config.MongoDBConfig) (*mongo.Client, error) {
	const maxAttempts = 5
	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client, err := database.ConnectMongo(ctx, cfg.URI, cfg.Timeout)
		if err == nil {
			return client, nil
		}
		lastErr = err
		logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, err)
		if attempt < maxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("could not connect to MongoDB after %d attempts: %w", maxAttempts, lastErr)
}

// buildVerifier prefers Keycloak, then the shared JWT secret, then the insecure
// verifier when explicitly allowed. nil means no verifier could be built.
func buildVerifier(ctx context.Context, cfg *config.Config) middleware.Verifier {
	ver, err := oidc.NewFromConfig(ctx, cfg.Keycloak)
	switch {
	case err == nil:
		logger.Infof("using OIDC verifier for %s", cfg.Keycloak.URL)
		return ver
	case !errors.Is(err, oidc.ErrNotConfigured):
		logger.Warnf("failed to initialize OIDC verifier: %v", err)
	}
	if cfg.JWT.Secret != "" {
		logger.Infof("using HS256 verifier")
		return tokens.NewHS256Verifier(cfg.JWT.Secret)
	}
	if cfg.Auth.AllowInsecureToken {
		logger.Warnf("enabling insecure token verifier (integration mode)")
		return oidc.NewInsecureVerifier()
	}
	return nil
}

func newRouter(cfg *config.Config, svc service.Service, verifier middleware.Verifier, rdb *redis.Client, deps map[string]pinger) *gin.Engine {
	r := gin.New()

	// Lightweight CORS for the editor frontend.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	})
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	r.GET("/ready", func(c *gin.Context) {
		ready := true
		status := map[string]bool{"verifier": verifier != nil}
		if verifier == nil {
			ready = false
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		for name, ping := range deps {
			ok := ping(ctx) == nil
			status[name] = ok
			ready = ready && ok
		}
		code, state := http.StatusOK, "ready"
		if !ready {
			code, state = http.StatusServiceUnavailable, "not_ready"
		}
		c.JSON(code, gin.H{"status": state, "deps": status, "uptime": time.Since(startTime).String()})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterSwagger(r)

	if verifier == nil {
		logger.Warnf("document routes not registered: no token verifier configured")
		return r
	}
	api := r.Group("/", middleware.AuthMiddleware(verifier))
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && rdb != nil {
			api.Use(middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.Window))
		} else {
			api.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}
	handler.RegisterDocumentRoutes(api, svc, middleware.RequireWriter())
	return r
}
