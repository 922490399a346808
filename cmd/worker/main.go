// Package main runs the notification job worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/porteria/backend/config"
	"github.com/porteria/backend/internal/notifications"
	"github.com/porteria/backend/internal/realtime"
	"github.com/porteria/backend/internal/worker"
	"github.com/porteria/backend/pkg/database"
	"github.com/porteria/backend/pkg/logger"
	"github.com/porteria/backend/pkg/metrics"
	"github.com/porteria/backend/pkg/queue"
	"github.com/porteria/backend/pkg/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{}).Fatal("load config", zap.Error(err))
	}
	log := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}).With(zap.String("component", "worker"))
	defer log.Sync()

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, log)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, log)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New()
	jobQueue := queue.NewQueue(rdb.Client, log)
	// Publish-only hub: the worker holds no websocket connections.
	hub := realtime.NewHub(log, realtime.NewRedisPubSub(rdb.Client, log), nil, m)
	processor := worker.NewNotificationProcessor(jobQueue, notifications.NewRepository(pool), hub, m, log)

	var metricsSrv *http.Server
	if cfg.Server.MetricsEnabled && cfg.Worker.MetricsPort != "" {
		metricsSrv = &http.Server{Addr: ":" + cfg.Worker.MetricsPort, Handler: m.Handler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()
	log.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(queue.PollTimeout + 2*time.Second):
		log.Warn("worker did not stop in time")
	}
	if metricsSrv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Info("worker stopped")
}
