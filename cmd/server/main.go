// Package main runs the live-session coordination server with WebSocket and
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/enayetaitech/amplify-sub003/config"
	"github.com/enayetaitech/amplify-sub003/internal/auth"
	"github.com/enayetaitech/amplify-sub003/internal/chat"
	"github.com/enayetaitech/amplify-sub003/internal/gateway"
	"github.com/enayetaitech/amplify-sub003/internal/mediatoken"
	"github.com/enayetaitech/amplify-sub003/internal/middleware"
	"github.com/enayetaitech/amplify-sub003/internal/realtime"
	"github.com/enayetaitech/amplify-sub003/internal/roster"
	"github.com/enayetaitech/amplify-sub003/internal/screenshare"
	"github.com/enayetaitech/amplify-sub003/internal/session"
	"github.com/enayetaitech/amplify-sub003/internal/waitingroom"
	"github.com/enayetaitech/amplify-sub003/internal/whiteboard"
	"github.com/enayetaitech/amplify-sub003/pkg/database"
	"github.com/enayetaitech/amplify-sub003/pkg/redis"
	"github.com/enayetaitech/amplify-sub003/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Session core
	sessionRepo := session.NewRepository(pool)
	registry := session.NewRegistry(sessionRepo, hub, logger)
	waitingCoord := waitingroom.NewCoordinator(registry, logger)
	rosterMgr := roster.NewManager(registry, logger)

	// Chat: batched persistence behind a scope-aware router
	chatRepo := chat.NewRepository(pool)
	batcher := chat.NewBatcher(chatRepo, time.Duration(cfg.Chat.FlushIntervalSec)*time.Second, logger)
	chatRouter := chat.NewRouter(chatRepo, batcher, registry, hub, logger)

	// Screen share and whiteboard
	grantRepo := screenshare.NewRepository(pool)
	authority := screenshare.NewAuthority(grantRepo, hub, logger)
	locker := whiteboard.NewLocker(hub, logger)

	gw := gateway.New(registry, waitingCoord, rosterMgr, chatRouter, authority, locker, logger)
	restHandler := gateway.NewHandler(registry, chatRouter, authority, logger)
	tokenHandler := mediatoken.NewHandler(rosterMgr, authority, cfg.Zego, logger)

	hub.SetDisconnectHandler(gw.OnDisconnect)
	hub.SetAudienceChangeHandler(func(sessionID uuid.UUID, count int) {
		registry.RecordPeak(context.Background(), sessionID, count)
	})

	jwtValidate := func(token string) (name, email, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", "", err
		}
		return claims.Name, claims.Email, claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		restHandler.RegisterRoutes(api)
		api.GET("/sessions/:id/media-token", tokenHandler.GetToken)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate, gw))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Chat flush loop
	flushCtx, flushCancel := context.WithCancel(context.Background())
	go batcher.Run(flushCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	flushCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
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
