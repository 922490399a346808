// Package main runs the access-control HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/porteria/backend/config"
	"github.com/porteria/backend/internal/access"
	"github.com/porteria/backend/internal/auth"
	"github.com/porteria/backend/internal/chat"
	"github.com/porteria/backend/internal/invitations"
	"github.com/porteria/backend/internal/middleware"
	"github.com/porteria/backend/internal/notifications"
	"github.com/porteria/backend/internal/organizations"
	"github.com/porteria/backend/internal/qrcodes"
	"github.com/porteria/backend/internal/realtime"
	"github.com/porteria/backend/pkg/database"
	"github.com/porteria/backend/pkg/logger"
	"github.com/porteria/backend/pkg/metrics"
	"github.com/porteria/backend/pkg/queue"
	"github.com/porteria/backend/pkg/redis"
	"github.com/porteria/backend/pkg/response"
	"github.com/porteria/backend/pkg/storage"
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
	})
	defer log.Sync()

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, log)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, log); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, log)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var exporter *qrcodes.Exporter
	if cfg.AWS.ExportsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Endpoint:             cfg.AWS.Endpoint,
			ExportsBucket:        cfg.AWS.ExportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, log)
		if err != nil {
			log.Warn("s3 disabled, access-log export unavailable", zap.Error(err))
		} else {
			exporter = qrcodes.NewExporter(s3Client, log)
		}
	}

	m := metrics.New()
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, log)
	hub := realtime.NewHub(log, redisPubSub, redisPubSub, m)
	jobQueue := queue.NewQueue(rdb.Client, log)

	table, err := access.DefaultRouteTable()
	if err != nil {
		log.Fatal("route table", zap.Error(err))
	}
	resolver := access.NewResolver(table)

	// Organizations (memberships back the access guard)
	orgRepo := organizations.NewRepository(pool)
	guard := access.NewGuard(orgRepo, resolver)
	orgHandler := organizations.NewHandler(organizations.NewService(orgRepo, resolver, log), log)

	// Profiles
	authHandler := auth.NewHandler(auth.NewRepository(pool), log)

	// Invitations and invite links
	invitationService := invitations.NewService(invitations.NewRepository(pool), jobQueue,
		invitations.Config{TTL: cfg.Invitations.TTL}, log)
	invitationHandler := invitations.NewHandler(invitationService, log)

	// Chat
	chatRepo := chat.NewRepository(pool)
	chatService := chat.NewService(chat.NewEngine(chatRepo), chatRepo, hub, jobQueue, m, log)
	chatHandler := chat.NewHandler(chatService, log)

	// QR codes and access logs
	qrService := qrcodes.NewService(qrcodes.NewRepository(pool), exporter,
		qrcodes.Config{DefaultTTL: cfg.QR.DefaultTTL, MaxTTL: cfg.QR.MaxTTL}, m, log)
	qrHandler := qrcodes.NewHandler(qrService, guard, log)

	notificationHandler := notifications.NewHandler(notifications.NewRepository(pool), log)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	limiterDone := make(chan struct{})
	go limiter.Run(limiterDone)
	defer close(limiterDone)

	origins := middleware.ParseOrigins(cfg.Server.CORSAllowedOrigins)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(origins))
	router.Use(middleware.Logger(log))
	if cfg.Server.MetricsEnabled {
		router.Use(middleware.Metrics(m))
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			log.Warn("health: database", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, response.Body{Error: true, Message: "database unavailable"})
			return
		}
		if err := rdb.Healthy(c.Request.Context()); err != nil {
			log.Warn("health: redis", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, response.Body{Error: true, Message: "redis unavailable"})
			return
		}
		response.OK(c, "ok", gin.H{"status": "ok"})
	})

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", middleware.JWTQuery(jwtService),
		realtime.ServeWs(hub, realtime.NewUpgrader(origins.Allows), middleware.ContextUserID, log))

	// Protected API (JWT required)
	api := router.Group("/api")
	api.Use(middleware.JWT(jwtService))
	org := api.Group("/organizations/:id")

	authHandler.Register(api)
	notificationHandler.Register(api)
	orgHandler.Register(api, org, guard)
	invitationHandler.Register(api, org, guard)
	qrHandler.Register(api, org, limiter)
	chatHandler.Register(org, guard, limiter)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}
