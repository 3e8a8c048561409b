package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/attendance-dashboard/api/swagger"
	"github.com/noah-isme/attendance-dashboard/internal/handler"
	"github.com/noah-isme/attendance-dashboard/internal/middleware"
	"github.com/noah-isme/attendance-dashboard/internal/repository"
	"github.com/noah-isme/attendance-dashboard/internal/service"
	"github.com/noah-isme/attendance-dashboard/pkg/cache"
	"github.com/noah-isme/attendance-dashboard/pkg/config"
	"github.com/noah-isme/attendance-dashboard/pkg/logger"
	corsmiddleware "github.com/noah-isme/attendance-dashboard/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/attendance-dashboard/pkg/middleware/requestid"
)

// @title Attendance Dashboard Gateway
// @version 0.1.0
// @description Per-user attendance dashboard state over the attendance backend
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := service.NewMetricsService()
	checks := map[string]handler.ReadinessCheck{}

	var identities service.IdentityStore
	var redisClient *redis.Client
	if cfg.Identity.RedisEnabled {
		redisClient, err = cache.NewRedis(context.Background(), cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect redis", zap.Error(err))
		}
		redisIdentities := repository.NewRedisIdentityRepository(redisClient, cfg.Identity.KeyPrefix, logr)
		defer redisIdentities.Close() //nolint:errcheck
		identities = redisIdentities
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		identities = repository.NewMemoryIdentityRepository()
	}

	apiClient := repository.NewAPIClient(cfg.Backend, &http.Client{Timeout: cfg.Backend.Timeout}, metrics, logr)
	newAPI := func(accessToken string) service.DashboardAPI {
		return apiClient.ForToken(accessToken)
	}

	registry := service.NewSessionRegistry(identities, newAPI, validator.New(), metrics, logr, service.SessionRegistryConfig{
		IdentityTTL:           cfg.Identity.TTL,
		InitialRefreshTimeout: cfg.Dashboard.InitialRefreshTimeout,
		Dashboard: service.DashboardConfig{
			AnalyticsFallback: cfg.Analytics.FallbackEnabled,
			MaxUploadBytes:    cfg.Backend.MaxUploadBytes,
		},
	})
	exports := service.NewExportService(logr, nil, nil)

	sessionHandler := handler.NewSessionHandler(registry)
	dashboardHandler := handler.NewDashboardHandler(exports, cfg.Backend.MaxUploadBytes)
	metricsHandler := handler.NewMetricsHandler(metrics, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/session", sessionHandler.SignIn)
	api.DELETE("/session", sessionHandler.SignOut)
	api.GET("/system/metrics", metricsHandler.System)

	protected := api.Group("")
	protected.Use(middleware.Dashboard(registry))
	protected.GET("/dashboard", dashboardHandler.Get)
	protected.POST("/dashboard/refresh", dashboardHandler.Refresh)
	protected.POST("/attendance/mark/:sessionId", dashboardHandler.MarkAttendance)
	protected.GET("/attendance/stats", dashboardHandler.Stats)
	protected.GET("/attendance/export", dashboardHandler.Export)
	protected.GET("/summary/:view", dashboardHandler.Summary)
	protected.POST("/sessions/:sessionId/activate", dashboardHandler.Activate)
	protected.POST("/sessions/:sessionId/deactivate", dashboardHandler.Deactivate)
	protected.GET("/courses/:courseId/analytics", dashboardHandler.CourseAnalytics)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "backend", cfg.Backend.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	registry.CloseAll()
}
