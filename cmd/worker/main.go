// Package main runs the reconciler as a standalone process. Status changes are
// published through Redis to the API servers' watchers, and reconcile jobs
// queued by the API servers are consumed from Redis.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/collab/config"
	"github.com/aura-webinar/collab/internal/app"
	"github.com/aura-webinar/collab/internal/worker"
	"github.com/aura-webinar/collab/pkg/queue"
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
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName+"-worker", cfg.Telemetry.Endpoint)
	if err != nil {
		logger.Fatal("telemetry", zap.Error(err))
	}

	backend, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("backend", zap.Error(err))
	}
	defer backend.Close()
	if backend.Redis == nil {
		logger.Warn("REDIS_ADDR is empty, status changes will not reach API watchers")
	}

	hub := backend.Hub(logger, false)
	reconciler := backend.Reconciler(cfg, hub, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reconciler.Run(workerCtx)
	var consumer *worker.Consumer
	if backend.Redis != nil {
		consumer = worker.NewConsumer(queue.NewQueue(backend.Redis.Client, logger), reconciler, logger)
		go consumer.Run(workerCtx)
	}
	logger.Info("worker started", zap.Duration("tick", cfg.Scheduler.Tick))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	if consumer != nil {
		consumer.Wait()
	}
	reconciler.Wait()
	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer done()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
