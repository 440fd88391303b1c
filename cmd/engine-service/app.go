package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"tonegate/internal/cache"
	"tonegate/internal/config"
	"tonegate/internal/constants"
	"tonegate/internal/governor"
	"tonegate/internal/logger"
	"tonegate/internal/rules"
	"tonegate/internal/transform"
	"tonegate/pkg/bootstrap"
	"tonegate/pkg/circuitbreaker"
	"tonegate/pkg/health"
	"tonegate/pkg/metrics"
	"tonegate/pkg/middleware"
	"tonegate/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	db          *sql.DB
	redisClient *redis.Client

	rulesService     *rules.Service
	transformService *transform.Service

	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("engine-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "engine-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterEngineMetrics()
	metrics.RegisterCircuitBreakerMetrics()
	metrics.RegisterRateLimitMetrics()

	if err := a.initServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Redis unavailable, running with local cache only",
			"error", err,
		)
	} else {
		a.redisClient = rdb
	}
	return nil
}

func (a *App) initServices(ctx context.Context) error {
	var remote cache.RemoteStore
	if a.redisClient != nil {
		remote = cache.NewRedisStore(a.redisClient)
	}

	capacity := a.Config.Cache.LocalCapacity
	if capacity <= 0 {
		capacity = constants.DefaultLocalCacheCap
	}
	ttl := time.Duration(a.Config.Cache.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = constants.DefaultCacheTTL
	}
	tiered, err := cache.NewTieredCache(capacity, remote, ttl, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}

	repo := rules.NewRepository(a.db)
	rulesService, err := rules.NewService(repo, tiered, a.Config.Rules, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create rules service: %w", err)
	}
	a.rulesService = rulesService

	timeout := a.Config.Transform.RequestTimeout
	if timeout <= 0 {
		timeout = constants.DefaultTransformTimeout
	}
	client := transform.NewClient(a.Config.Transform.ServiceURL, timeout)
	breaker := circuitbreaker.NewWrapper(a.breakerConfig("transform-service"))
	a.transformService = transform.NewService(client, breaker, tiered, timeout, a.Logger)

	return nil
}

func (a *App) breakerConfig(name string) circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig(name)
	cb := a.Config.CircuitBreaker

	if cb.MaxRequests > 0 {
		cfg.MaxRequests = cb.MaxRequests
	}
	if cb.Interval > 0 {
		cfg.Interval = cb.Interval
	}
	if cb.Timeout > 0 {
		cfg.Timeout = cb.Timeout
	}
	if cb.MinRequests > 0 && cb.FailureRatio > 0 {
		minRequests := cb.MinRequests
		failureRatio := cb.FailureRatio
		cfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && ratio >= failureRatio
		}
	}
	return cfg
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("engine-service"))
	}
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	var store governor.CounterStore
	if a.redisClient != nil {
		store = governor.NewRedisCounterStore(a.redisClient)
	}

	if a.Config.RateLimit.Enabled && store != nil {
		window := a.Config.RateLimit.Window
		if window <= 0 {
			window = time.Minute
		}
		sliding := governor.NewSlidingWindow(store, "api", a.Config.RateLimit.Limit, window, a.Logger)
		router.Use(governor.Middleware(sliding))
	}

	rulesHandler := rules.NewHandler(a.rulesService, a.Logger)
	rulesHandler.RegisterRoutes(router)

	transformHandler := transform.NewHandler(a.transformService, a.Logger)
	var previewMiddleware []gin.HandlerFunc
	if store != nil {
		dual := governor.NewDualWindow(store, a.Config.RateLimit.PreviewMinute, a.Config.RateLimit.PreviewDaily, a.Logger)
		previewMiddleware = append(previewMiddleware, governor.Middleware(dual))
	}
	transformHandler.RegisterRoutes(router, previewMiddleware...)

	healthRegistry := health.NewCheckerRegistry()
	if a.db != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	}
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}
	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, gin.H{
			"status":    h.Status,
			"timestamp": h.Timestamp.Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.rulesService.StartReloader(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		a.Logger.Errorw("Shutdown error", "error", err)
	}

	return runErr
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(ctx, "Shutting down engine service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(a.redisClient, a.db)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
