// Package main runs the collab HTTP API with WebSocket watchers, the embedded
// reconciler and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/collab/config"
	"github.com/aura-webinar/collab/internal/app"
	"github.com/aura-webinar/collab/internal/auth"
	"github.com/aura-webinar/collab/internal/collabs"
	"github.com/aura-webinar/collab/internal/middleware"
	"github.com/aura-webinar/collab/internal/realtime"
	"github.com/aura-webinar/collab/internal/users"
	"github.com/aura-webinar/collab/internal/worker"
	"github.com/aura-webinar/collab/pkg/queue"
	"github.com/aura-webinar/collab/pkg/response"
	"github.com/aura-webinar/collab/pkg/telemetry"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
	if err != nil {
		logger.Fatal("telemetry", zap.Error(err))
	}

	backend, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("backend", zap.Error(err))
	}
	defer backend.Close()

	hub := backend.Hub(logger, true)
	svc := collabs.NewService(backend.Collabs, backend.Provider, backend.Users, logger, collabs.WithNotifier(hub))
	reconciler := backend.Reconciler(cfg, hub, logger)
	svc.SetReconciler(reconciler)

	var rlClient *goredis.Client
	if backend.Redis != nil {
		rlClient = backend.Redis.Client
	}
	limiter := middleware.NewRateLimiter(rlClient, cfg.RateLimit.Window, logger)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jwtValidate := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}
	snapshot := func(ctx context.Context, id uuid.UUID) (interface{}, error) {
		return svc.Get(ctx, id)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	collabHandler := collabs.NewHandler(svc)
	userHandler := users.NewHandler(backend.Users)
	var jobs *queue.Queue
	if !cfg.Scheduler.Embedded && backend.Redis != nil {
		jobs = queue.NewQueue(backend.Redis.Client, logger)
	}
	adminHandler := worker.NewHandler(workerCtx, reconciler, jobs, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Public reads
	router.GET("/collabs", collabHandler.List)
	router.GET("/collabs/featured", collabHandler.Featured)
	router.GET("/collabs/:id", collabHandler.GetByID)
	router.GET("/users/:userId", userHandler.GetByID)
	router.GET("/users/:userId/collabs", collabHandler.ListByUser)

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.PUT("/users/me", userHandler.UpdateMe)

		api.GET("/collabs/my/active", collabHandler.MyActive)
		api.POST("/collabs", limiter.Limit("create", cfg.RateLimit.Create), collabHandler.Create)
		api.POST("/collabs/:id/match", limiter.Limit("match", cfg.RateLimit.Match), collabHandler.Match)
		api.POST("/collabs/:id/request-match", limiter.Limit("match", cfg.RateLimit.Match), collabHandler.RequestMatch)
		api.GET("/collabs/:id/waiting-list", collabHandler.WaitingList)
		api.POST("/collabs/:id/accept-waiting/:waitingId", collabHandler.AcceptWaiting)
		api.POST("/collabs/:id/reject-waiting/:waitingId", collabHandler.RejectWaiting)
		api.PUT("/collabs/:id/stream-info", limiter.Limit("refresh", cfg.RateLimit.Refresh), collabHandler.RefreshStreamInfo)
		api.DELETE("/collabs/:id", collabHandler.Delete)

		api.POST("/admin/reconcile", middleware.RequireRole("admin"), adminHandler.Trigger)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate, snapshot))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Scheduler.Embedded {
		go reconciler.Run(workerCtx)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	reconciler.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
